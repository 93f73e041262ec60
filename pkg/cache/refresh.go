package cache

import (
	"fmt"
	"strings"
)

// RefreshScope selects which tiers a run invalidates before processing.
// Scopes are nested: each one includes every tier of the narrower scopes.
type RefreshScope int

const (
	// RefreshNone reuses every cached result.
	RefreshNone RefreshScope = iota

	// RefreshGeneration regenerates window output only.
	RefreshGeneration

	// RefreshRetrieval also re-embeds and re-indexes artifacts.
	RefreshRetrieval

	// RefreshAll also repeats every lookup.
	RefreshAll
)

var scopeNames = map[RefreshScope]string{
	RefreshNone:       "none",
	RefreshGeneration: "generation",
	RefreshRetrieval:  "retrieval",
	RefreshAll:        "all",
}

func (s RefreshScope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RefreshScope(%d)", int(s))
}

// Tiers returns the tiers invalidated by s.
func (s RefreshScope) Tiers() []Tier {
	switch s {
	case RefreshGeneration:
		return []Tier{TierGeneration}
	case RefreshRetrieval:
		return []Tier{TierGeneration, TierRetrieval}
	case RefreshAll:
		return Tiers()
	default:
		return nil
	}
}

// Includes reports whether s invalidates tier.
func (s RefreshScope) Includes(tier Tier) bool {
	for _, t := range s.Tiers() {
		if t == tier {
			return true
		}
	}
	return false
}

// ParseRefreshScope parses a scope name or a comma separated list of scope
// and tier names, returning the narrowest scope that covers all of them.
// The aliases writer, rag and enrichment name the generation, retrieval and
// lookup tiers respectively.
func ParseRefreshScope(s string) (RefreshScope, error) {
	scope := RefreshNone
	for part := range strings.SplitSeq(s, ",") {
		var next RefreshScope
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "", "none":
			next = RefreshNone
		case "generation", "writer":
			next = RefreshGeneration
		case "retrieval", "rag":
			next = RefreshRetrieval
		case "lookup", "enrichment", "all":
			next = RefreshAll
		default:
			return RefreshNone, fmt.Errorf("unknown refresh scope %q", part)
		}
		scope = max(scope, next)
	}
	return scope, nil
}
