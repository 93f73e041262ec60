// Package storage defines the durable store behind the cache, the progress
// ledger and the run history.
package storage

import (
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/ledger"
)

// Driver is a single backend holding every piece of durable pipeline state.
// Sharing one backend keeps cache writes and ledger updates in the same
// database so a restart always observes both or neither.
type Driver interface {
	cache.Store
	ledger.Ledger
	ledger.RunStore

	// Close closes the store and releases any resources.
	Close() error
}
