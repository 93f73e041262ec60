package sqldriver

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name string

	// BlobType is the column type for opaque payloads.
	BlobType string

	// Numbered reports whether placeholders are written $1, $2, ...
	// instead of ?.
	Numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite", BlobType: "BLOB"}
	Postgres = Dialect{Name: "postgres", BlobType: "BYTEA", Numbered: true}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			tier        TEXT    NOT NULL,
			fingerprint TEXT    NOT NULL,
			value       ` + d.BlobType + ` NOT NULL,
			size        INTEGER NOT NULL,
			created_at  BIGINT  NOT NULL,
			PRIMARY KEY (tier, fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS cache_entries_created_at ON cache_entries (tier, created_at)`,
		`CREATE TABLE IF NOT EXISTS progress (
			window_id  TEXT    NOT NULL,
			stage      TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			input_hash TEXT    NOT NULL,
			output     TEXT    NOT NULL DEFAULT '',
			reason     TEXT    NOT NULL DEFAULT '',
			terminal   BOOLEAN NOT NULL DEFAULT FALSE,
			attempts   INTEGER NOT NULL DEFAULT 0,
			updated_at BIGINT  NOT NULL,
			PRIMARY KEY (window_id, stage)
		)`,
		`CREATE INDEX IF NOT EXISTS progress_stage_status ON progress (stage, status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT   PRIMARY KEY,
			started_at  BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0,
			status      TEXT   NOT NULL,
			refresh     TEXT   NOT NULL DEFAULT '',
			counts      TEXT   NOT NULL DEFAULT '{}',
			error       TEXT   NOT NULL DEFAULT ''
		)`,
	}
}
