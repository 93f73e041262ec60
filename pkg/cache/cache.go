// Package cache implements the three-tier result cache that keeps spool from
// repeating expensive backend calls.
//
// Each tier is an independent namespace of fingerprint keyed entries:
//
//   - lookup: descriptions of atomic inputs (URLs, media), shared by every
//     window that references them
//   - retrieval: embeddings and retrieval index insertion markers
//   - generation: the final generated output of a window
//
// Tiers are invalidated independently, so regenerating documents never
// forces embeddings or lookups to be recomputed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/identity"
)

// Tier names one cache namespace.
type Tier string

const (
	TierLookup     Tier = "lookup"
	TierRetrieval  Tier = "retrieval"
	TierGeneration Tier = "generation"
)

// Tiers lists every tier, cheapest to recompute last.
func Tiers() []Tier {
	return []Tier{TierLookup, TierRetrieval, TierGeneration}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierLookup, TierRetrieval, TierGeneration:
		return t, nil
	default:
		return "", fmt.Errorf("unknown cache tier %q", s)
	}
}

// Entry is a cached result.
type Entry struct {
	Tier        Tier
	Fingerprint identity.ID
	Value       []byte
	Size        int
	CreatedAt   time.Time
}

// ErrConflict is returned by Put when a fingerprint is already cached with
// a different payload. Identical fingerprints must always describe
// identical results, so a conflict means a fingerprint is missing an input.
var ErrConflict = errors.New("cache: fingerprint already stored with a different payload")

// Predicate selects entries for invalidation. A nil Predicate selects all.
type Predicate func(Entry) bool

// All selects every entry of a tier.
func All() Predicate {
	return nil
}

// OlderThan selects entries created before cutoff.
func OlderThan(cutoff time.Time) Predicate {
	return func(e Entry) bool {
		return e.CreatedAt.Before(cutoff)
	}
}

// Matches reports whether p selects e.
func (p Predicate) Matches(e Entry) bool {
	return p == nil || p(e)
}

// Store persists cache entries. Implementations write atomically: a crash
// never leaves a partially written entry visible.
type Store interface {
	// Get returns the entry for fp in tier. The boolean is false when the
	// entry is absent.
	Get(ctx context.Context, tier Tier, fp identity.ID) (Entry, bool, error)

	// Put stores value under fp in tier and reports whether it was newly
	// inserted. Re-putting an identical value is a no-op; a different value
	// returns ErrConflict.
	Put(ctx context.Context, tier Tier, fp identity.ID, value []byte) (bool, error)

	// Invalidate deletes every entry of tier selected by pred and reports
	// how many were removed.
	Invalidate(ctx context.Context, tier Tier, pred Predicate) (int, error)
}
