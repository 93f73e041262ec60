package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papercomputeco/spool/pkg/identity"
)

// Stats counts cache traffic for one tier.
type Stats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
	Puts   int `json:"puts"`
}

// HitRate is the fraction of reads served from the cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache fronts a Store with JSON helpers and per-tier statistics.
// It is safe for concurrent use.
type Cache struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	stats map[Tier]*Stats
}

// New wraps store.
func New(store Store, logger *slog.Logger) *Cache {
	stats := make(map[Tier]*Stats, 3)
	for _, t := range Tiers() {
		stats[t] = &Stats{}
	}
	return &Cache{
		store:  store,
		logger: logger,
		stats:  stats,
	}
}

// Store returns the underlying store.
func (c *Cache) Store() Store {
	return c.store
}

// Get reads the raw payload for fp.
func (c *Cache) Get(ctx context.Context, tier Tier, fp identity.ID) ([]byte, bool, error) {
	entry, ok, err := c.store.Get(ctx, tier, fp)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s cache: %w", tier, err)
	}

	c.record(tier, func(s *Stats) {
		if ok {
			s.Hits++
		} else {
			s.Misses++
		}
	})
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Put writes the raw payload for fp.
func (c *Cache) Put(ctx context.Context, tier Tier, fp identity.ID, value []byte) error {
	created, err := c.store.Put(ctx, tier, fp, value)
	if err != nil {
		return fmt.Errorf("writing %s cache: %w", tier, err)
	}
	if created {
		c.record(tier, func(s *Stats) { s.Puts++ })
	}
	return nil
}

// Invalidate removes the entries of tier selected by pred.
func (c *Cache) Invalidate(ctx context.Context, tier Tier, pred Predicate) (int, error) {
	n, err := c.store.Invalidate(ctx, tier, pred)
	if err != nil {
		return 0, fmt.Errorf("invalidating %s cache: %w", tier, err)
	}
	c.logger.Debug("invalidated cache entries", "tier", tier, "count", n)
	return n, nil
}

// Refresh invalidates every tier included in scope.
func (c *Cache) Refresh(ctx context.Context, scope RefreshScope) (map[Tier]int, error) {
	removed := make(map[Tier]int)
	for _, tier := range scope.Tiers() {
		n, err := c.Invalidate(ctx, tier, All())
		if err != nil {
			return removed, err
		}
		removed[tier] = n
	}
	return removed, nil
}

// Stats returns a snapshot of the counters of every tier.
func (c *Cache) Stats() map[Tier]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Tier]Stats, len(c.stats))
	for t, s := range c.stats {
		out[t] = *s
	}
	return out
}

func (c *Cache) record(tier Tier, fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[tier]
	if !ok {
		s = &Stats{}
		c.stats[tier] = s
	}
	fn(s)
}

// GetJSON reads and decodes the payload for fp.
func GetJSON[T any](ctx context.Context, c *Cache, tier Tier, fp identity.ID) (T, bool, error) {
	var v T
	data, ok, err := c.Get(ctx, tier, fp)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s cache entry %s: %w", tier, fp, err)
	}
	return v, true, nil
}

// PutJSON encodes v and writes it under fp.
func PutJSON[T any](ctx context.Context, c *Cache, tier Tier, fp identity.ID, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s cache entry %s: %w", tier, fp, err)
	}
	return c.Put(ctx, tier, fp, data)
}
