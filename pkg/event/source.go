package event

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// Source yields an ordered event stream. Malformed records are yielded as
// errors and the stream continues.
type Source interface {
	Events(ctx context.Context) iter.Seq2[Event, error]
}

// SliceSource serves events from memory.
type SliceSource []Event

// Events implements Source.
func (s SliceSource) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for _, e := range s {
			if ctx.Err() != nil {
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// MaxLineBytes bounds a single JSONL record.
const MaxLineBytes = 8 << 20

// LineError reports a record that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingID is returned for records without a source identifier.
	ErrMissingID = errors.New("event has no id")

	// ErrLineTooLong is returned for records longer than MaxLineBytes.
	ErrLineTooLong = fmt.Errorf("record exceeds %d bytes", MaxLineBytes)
)

// SourceError reports a failure of the source itself. The stream ends
// after it and the run consuming it must not continue.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceError reports whether err ended its stream.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// JSONLSource reads one JSON encoded Event per line from a file. The file is
// reopened on every call to Events, so a source can be replayed.
type JSONLSource struct {
	Path string
}

// NewJSONLSource returns a source over the file at path.
func NewJSONLSource(path string) *JSONLSource {
	return &JSONLSource{Path: path}
}

// Events implements Source.
func (s *JSONLSource) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(Event{}, &SourceError{Err: fmt.Errorf("opening event source: %w", err)})
			return
		}
		defer f.Close()

		for e, err := range Decode(ctx, f) {
			if !yield(e, err) {
				return
			}
		}
	}
}

// Decode yields events from newline-delimited JSON. Blank lines are skipped.
// A record longer than MaxLineBytes is discarded and reported, and decoding
// resumes at the next line.
func Decode(ctx context.Context, r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)

		line := 0
		for {
			if ctx.Err() != nil {
				return
			}

			raw, tooLong, err := readLine(br, MaxLineBytes)
			eof := errors.Is(err, io.EOF)
			if err != nil && !eof {
				yield(Event{}, &SourceError{Err: fmt.Errorf("reading event source: %w", err)})
				return
			}
			if eof && len(raw) == 0 && !tooLong {
				return
			}
			line++

			if ok := decodeLine(raw, tooLong, line, yield); !ok || eof {
				return
			}
		}
	}
}

// decodeLine yields the record on one line, if any, and reports whether
// the consumer wants more.
func decodeLine(raw []byte, tooLong bool, line int, yield func(Event, error) bool) bool {
	if tooLong {
		return yield(Event{}, &LineError{Line: line, Err: ErrLineTooLong})
	}
	if len(raw) == 0 {
		return true
	}

	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return yield(Event{}, &LineError{Line: line, Err: err})
	}
	if e.ID == "" {
		return yield(Event{}, &LineError{Line: line, Err: ErrMissingID})
	}
	return yield(e, nil)
}

// readLine reads through the next newline. A line longer than limit is
// consumed without being kept and reported as tooLong.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		var chunk []byte
		chunk, err = br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			// Two bytes of slack for a CRLF terminator.
			if len(line) > limit+2 {
				line, tooLong = nil, true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if !tooLong {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > limit {
				line, tooLong = nil, true
			}
		}
		return line, tooLong, err
	}
}
