// Package identity derives deterministic, content-addressed identifiers for
// every artifact spool produces.
//
// Identifiers are RFC 4122 version 5 UUIDs: the SHA-1 of a per-kind namespace
// and a canonical encoding of the stable components. The same kind and
// components always produce the same identifier, on every machine and in
// every run, and no two kinds share an identifier space.
package identity

import (
	"bytes"
	"encoding/binary"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// SchemeVersion is folded into every derived namespace. Bumping it changes
// every identifier spool has ever produced, so it only moves with a
// deliberate migration.
const SchemeVersion = 1

// ID is a 128-bit content-derived identifier rendered as a UUID.
type ID = uuid.UUID

// Nil is the zero identifier. Identify never returns it.
var Nil = uuid.Nil

// Kind names an identifier space.
type Kind string

const (
	KindEvent       Kind = "event"
	KindWindow      Kind = "window"
	KindArtifact    Kind = "artifact"
	KindURL         Kind = "url"
	KindMedia       Kind = "media"
	KindLookup      Kind = "lookup"
	KindEmbedding   Kind = "embedding"
	KindIndexInsert Kind = "index-insert"
	KindGeneration  Kind = "generation"
	KindInput       Kind = "input"
)

// Root is the namespace custom kinds are derived from.
var Root = uuid.MustParse("8a7f3f0e-5b1c-4f57-9d0e-6f3c2b8e1a01")

// namespaces are fixed for scheme version 1. Never edit an existing entry.
var namespaces = map[Kind]ID{
	KindEvent:       uuid.MustParse("3b0c1f6e-2d59-5a54-8b1e-0c6f1f8e6d11"),
	KindWindow:      uuid.MustParse("6d2e8a4b-91f3-5c0a-a6d4-7e2b9c1f4a22"),
	KindArtifact:    uuid.MustParse("9f14c2d7-3e8b-5f61-b2a9-4d7c0e5b8a33"),
	KindURL:         uuid.MustParse("c27a5e19-6b04-5d83-9f1c-8a3e6d2b7c44"),
	KindMedia:       uuid.MustParse("e4b93d60-7c25-5e9f-8d3a-1b6f4c9e2d55"),
	KindLookup:      uuid.MustParse("15d8f7a2-4e6c-5b3d-a9e1-2c7b5f8d3e66"),
	KindEmbedding:   uuid.MustParse("47e2b9c8-1a5d-5f7e-b3c6-9d4a8e1f5b77"),
	KindIndexInsert: uuid.MustParse("7a3c6e1d-8f2b-5a94-c5d7-3e9b1a6c4f88"),
	KindGeneration:  uuid.MustParse("a95d1b4f-2c7e-5d06-96e8-5f1c3b7a9e99"),
	KindInput:       uuid.MustParse("d1f6a8e3-5b9c-5e27-a7f9-6c2d4e8b1faa"),
}

// Namespace returns the namespace UUID of kind. Built-in kinds use fixed
// constants; any other kind is derived from Root and SchemeVersion.
// It panics on an empty kind.
func Namespace(kind Kind) ID {
	if kind == "" {
		panic("identity: empty kind")
	}
	if ns, ok := namespaces[kind]; ok {
		return ns
	}
	return uuid.NewSHA1(Root, fmt.Appendf(nil, "v%d:%s", SchemeVersion, kind))
}

// Identify derives the identifier of kind over the ordered components.
//
// Supported component types are string, []byte, bool, every integer type,
// time.Time, ID, []string and []ID. Anything else is encoded as canonical
// JSON. A component that cannot be serialized is a programmer error and
// panics; Identify never falls back to a random value.
func Identify(kind Kind, components ...any) ID {
	ns := Namespace(kind)

	var buf bytes.Buffer
	for i, c := range components {
		if err := encode(&buf, c); err != nil {
			panic(fmt.Sprintf("identity: %s component %d: %v", kind, i, err))
		}
	}

	return uuid.NewSHA1(ns, buf.Bytes())
}

// Parse parses the textual form of an identifier.
func Parse(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parsing identifier %q: %w", s, err)
	}
	return id, nil
}

// Component type tags. Each component is written as tag, uvarint length,
// then the payload, so concatenations can never collide.
const (
	tagString byte = iota + 1
	tagBytes
	tagBool
	tagInt
	tagUint
	tagTime
	tagID
	tagStrings
	tagIDs
	tagJSON
)

func encode(buf *bytes.Buffer, c any) error {
	switch v := c.(type) {
	case string:
		writeField(buf, tagString, []byte(v))
	case []byte:
		writeField(buf, tagBytes, v)
	case bool:
		b := byte(0)
		if v {
			b = 1
		}
		writeField(buf, tagBool, []byte{b})
	case int:
		writeInt(buf, int64(v))
	case int8:
		writeInt(buf, int64(v))
	case int16:
		writeInt(buf, int64(v))
	case int32:
		writeInt(buf, int64(v))
	case int64:
		writeInt(buf, v)
	case uint:
		writeUint(buf, uint64(v))
	case uint8:
		writeUint(buf, uint64(v))
	case uint16:
		writeUint(buf, uint64(v))
	case uint32:
		writeUint(buf, uint64(v))
	case uint64:
		writeUint(buf, v)
	case time.Time:
		writeField(buf, tagTime, binary.BigEndian.AppendUint64(nil, uint64(v.UTC().UnixNano())))
	case ID:
		writeField(buf, tagID, v[:])
	case []string:
		var inner bytes.Buffer
		for _, s := range v {
			writeField(&inner, tagString, []byte(s))
		}
		writeField(buf, tagStrings, inner.Bytes())
	case []ID:
		inner := make([]byte, 0, len(v)*16)
		for _, id := range v {
			inner = append(inner, id[:]...)
		}
		writeField(buf, tagIDs, inner)
	case float32:
		return encodeFloat(buf, float64(v))
	case float64:
		return encodeFloat(buf, v)
	case nil:
		return fmt.Errorf("nil component")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %T: %w", v, err)
		}
		value := jsontext.Value(data)
		if err := value.Canonicalize(); err != nil {
			return fmt.Errorf("canonicalizing %T: %w", v, err)
		}
		writeField(buf, tagJSON, value)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float %v", f)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	writeField(buf, tagJSON, data)
	return nil
}

func writeInt(buf *bytes.Buffer, v int64) {
	writeField(buf, tagInt, binary.BigEndian.AppendUint64(nil, uint64(v)))
}

func writeUint(buf *bytes.Buffer, v uint64) {
	writeField(buf, tagUint, binary.BigEndian.AppendUint64(nil, v))
}

func writeField(buf *bytes.Buffer, tag byte, payload []byte) {
	buf.WriteByte(tag)
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(payload)))])
	buf.Write(payload)
}
