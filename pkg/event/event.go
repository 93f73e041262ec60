// Package event defines the atomic, ordered input unit spool processes and
// the sources that produce them.
package event

import (
	"time"

	"github.com/papercomputeco/spool/pkg/identity"
)

// Event is one timestamped message of a conversational log. Events are
// immutable once read from a source.
type Event struct {
	// ID is the stable identifier assigned by the source.
	ID string `json:"id"`

	// Timestamp orders the stream. Ties keep input order.
	Timestamp time.Time `json:"ts"`

	// Author is the display name or handle of the sender, if known.
	Author string `json:"author,omitempty"`

	// Text is the message payload.
	Text string `json:"text"`

	// Attachments reference binary blobs sent with the message.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references a binary input by content digest. The bytes
// themselves stay with the source.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Size is the payload size used by size-based windowing.
func (e Event) Size() int {
	n := len(e.Text)
	for _, a := range e.Attachments {
		n += len(a.Name)
	}
	return n
}

// ContentHash identifies every field of the event. Two reads of the same
// source event only hash equal if nothing about it was edited.
func (e Event) ContentHash() identity.ID {
	attachments := make([]string, 0, len(e.Attachments)*3)
	for _, a := range e.Attachments {
		attachments = append(attachments, a.ID, a.MediaType, a.Digest)
	}
	return identity.Identify(identity.KindEvent, e.ID, e.Timestamp, e.Author, e.Text, attachments)
}

// MediaID identifies an attachment by content when a digest is available,
// falling back to its source identifier.
func (a Attachment) MediaID() identity.ID {
	if a.Digest != "" {
		return identity.Identify(identity.KindMedia, a.Digest)
	}
	return identity.Identify(identity.KindMedia, "id", a.ID)
}
