// Package store implements the dispatch store: validated CRUD with
// engine-owned ids and timestamps, pluggable persistence, and lifecycle
// event publication in per-microgrid commit order.
package store

import (
	"context"

	"github.com/kilianp07/griddispatch/core/model"
)

// Backend persists dispatch records and id sequences. The in-memory
// state owned by the Store is authoritative at runtime; the backend is
// the durable copy mutations are written through to. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Load returns every stored record and the persisted per-microgrid
	// id high-water marks.
	Load(ctx context.Context) ([]model.Dispatch, map[model.MicrogridID]uint64, error)
	// Put inserts or replaces one record.
	Put(ctx context.Context, d model.Dispatch) error
	// Remove deletes one record. Removing an absent record is no error;
	// existence is the Store's concern.
	Remove(ctx context.Context, microgridID model.MicrogridID, id model.DispatchID) error
	// PutSequence records the id high-water mark for one microgrid. It
	// is written before the record that consumed the id, so a crash in
	// between can only burn an id, never reissue one.
	PutSequence(ctx context.Context, microgridID model.MicrogridID, seq uint64) error
	// Close releases backend resources.
	Close() error
}
