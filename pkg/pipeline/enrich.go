package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/retry"
	"github.com/papercomputeco/spool/pkg/window"
	"github.com/papercomputeco/spool/pkg/worker"
)

// RefKind names what a Reference points at.
type RefKind string

const (
	RefURL   RefKind = "url"
	RefMedia RefKind = "media"
)

// Reference is an atomic input mentioned by a window. Its ID depends only
// on the referenced resource, so every window mentioning it shares one
// lookup.
type Reference struct {
	Kind RefKind     `json:"kind"`
	ID   identity.ID `json:"id"`

	// URL is set for RefURL, normalized.
	URL string `json:"url,omitempty"`

	// Attachment is set for RefMedia.
	Attachment event.Attachment `json:"attachment,omitzero"`
}

// Subject is a short human label for r.
func (r Reference) Subject() string {
	if r.Kind == RefURL {
		return r.URL
	}
	if r.Attachment.Name != "" {
		return r.Attachment.Name
	}
	return r.Attachment.ID
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// References lists the distinct URLs and attachments of w in order of first
// appearance.
func References(w window.Window) []Reference {
	var (
		refs []Reference
		seen = make(map[identity.ID]bool)
	)
	add := func(r Reference) {
		if seen[r.ID] {
			return
		}
		seen[r.ID] = true
		refs = append(refs, r)
	}

	for _, e := range w.Events {
		for _, raw := range urlPattern.FindAllString(e.Text, -1) {
			raw = strings.TrimRight(raw, ".,;:!?")
			u := identity.NormalizeURL(raw)
			add(Reference{Kind: RefURL, ID: identity.URL(u), URL: u})
		}
		for _, a := range e.Attachments {
			add(Reference{Kind: RefMedia, ID: a.MediaID(), Attachment: a})
		}
	}
	return refs
}

// Enrichment is the cached description of one Reference.
type Enrichment struct {
	Ref         identity.ID `json:"ref"`
	Kind        RefKind     `json:"kind"`
	Subject     string      `json:"subject"`
	Description string      `json:"description"`
}

// Describer performs the expensive lookup behind an enrichment.
type Describer interface {
	// Version names the lookup parameters. It is part of every lookup
	// fingerprint.
	Version() string

	Describe(ctx context.Context, ref Reference) (string, error)
}

// GeneratorDescriber describes references with a generation backend.
type GeneratorDescriber struct {
	Generator llm.Generator
	Params    llm.Params
}

// Version implements Describer.
func (d GeneratorDescriber) Version() string {
	return "describe/v1/" + d.Generator.Name() + "/" + d.Generator.Model()
}

// Describe implements Describer.
func (d GeneratorDescriber) Describe(ctx context.Context, ref Reference) (string, error) {
	var prompt string
	switch ref.Kind {
	case RefURL:
		prompt = "In one or two sentences, say what this link most likely points to " +
			"and why someone would share it in a chat: " + ref.URL
	default:
		a := ref.Attachment
		prompt = fmt.Sprintf("In one sentence, describe the attachment %q (type %s, %d bytes) "+
			"as it would appear in a chat log.", ref.Subject(), a.MediaType, a.Size)
	}

	resp, err := d.Generator.Generate(ctx, llm.Request{
		Messages: []llm.Message{llm.UserMessage(prompt)},
		Params:   d.Params,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// enricher resolves references through the lookup tier. Lookups of one
// window run on the worker pool; concurrent lookups of the same fingerprint
// share one backend call.
type enricher struct {
	describer Describer
	cache     *cache.Cache
	pool      *worker.Pool
	retry     retry.Policy

	flight singleflight.Group
	calls  atomic.Int64
}

func (x *enricher) version() string {
	if x == nil || x.describer == nil {
		return "disabled"
	}
	return x.describer.Version()
}

func (x *enricher) fingerprint(ref Reference) identity.ID {
	return identity.Identify(identity.KindLookup, ref.ID, x.describer.Version())
}

// lookupError carries the fingerprint of the failed lookup.
type lookupError struct {
	fp  identity.ID
	err error
}

func (e *lookupError) Error() string { return e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

func (x *enricher) resolve(ctx context.Context, w window.Window) ([]Enrichment, error) {
	if x == nil || x.describer == nil {
		return nil, nil
	}

	refs := References(w)
	if len(refs) == 0 {
		return nil, nil
	}

	out := make([]Enrichment, len(refs))
	var (
		mu       sync.Mutex
		firstErr error
	)

	group := x.pool.Group()
	for i, ref := range refs {
		err := group.Submit(ctx, func(ctx context.Context) error {
			e, err := x.lookup(ctx, ref)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return err
			}
			out[i] = e
			return nil
		})
		if err != nil {
			group.Wait()
			return nil, err
		}
	}
	group.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (x *enricher) lookup(ctx context.Context, ref Reference) (Enrichment, error) {
	fp := x.fingerprint(ref)

	v, err, _ := x.flight.Do(fp.String(), func() (any, error) {
		cached, ok, err := cache.GetJSON[Enrichment](ctx, x.cache, cache.TierLookup, fp)
		if err != nil {
			return Enrichment{}, storeErr("reading lookup cache", err)
		}
		if ok {
			return cached, nil
		}

		desc, err := retry.Value(ctx, x.retry, func(ctx context.Context) (string, error) {
			x.calls.Add(1)
			return x.describer.Describe(ctx, ref)
		})
		if err != nil {
			return Enrichment{}, &lookupError{fp: fp, err: fmt.Errorf("looking up %s: %w", ref.Subject(), err)}
		}

		e := Enrichment{
			Ref:         ref.ID,
			Kind:        ref.Kind,
			Subject:     ref.Subject(),
			Description: desc,
		}
		if err := cache.PutJSON(ctx, x.cache, cache.TierLookup, fp, e); err != nil {
			return Enrichment{}, storeErr("writing lookup cache", err)
		}
		return e, nil
	})
	if err != nil {
		return Enrichment{}, err
	}
	return v.(Enrichment), nil
}

// enrichmentDigest identifies the resolved enrichment content of a window.
func enrichmentDigest(es []Enrichment) identity.ID {
	parts := make([]string, 0, len(es)*2)
	for _, e := range es {
		parts = append(parts, e.Ref.String(), e.Description)
	}
	return identity.Identify(identity.KindInput, "enrichment", parts)
}
