package store

import (
	"context"
	"sync"

	"github.com/kilianp07/griddispatch/core/model"
)

type recordKey struct {
	mg model.MicrogridID
	id model.DispatchID
}

// MemoryBackend keeps records in process memory. Nothing survives a
// restart; it is the default for tests and single-run tooling.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[recordKey]model.Dispatch
	seqs    map[model.MicrogridID]uint64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[recordKey]model.Dispatch),
		seqs:    make(map[model.MicrogridID]uint64),
	}
}

// Load returns the current contents.
func (b *MemoryBackend) Load(context.Context) ([]model.Dispatch, map[model.MicrogridID]uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Dispatch, 0, len(b.records))
	for _, d := range b.records {
		out = append(out, d.Clone())
	}
	seqs := make(map[model.MicrogridID]uint64, len(b.seqs))
	for mg, s := range b.seqs {
		seqs[mg] = s
	}
	return out, seqs, nil
}

// Put inserts or replaces one record.
func (b *MemoryBackend) Put(_ context.Context, d model.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[recordKey{d.MicrogridID, d.ID}] = d.Clone()
	return nil
}

// Remove deletes one record.
func (b *MemoryBackend) Remove(_ context.Context, mg model.MicrogridID, id model.DispatchID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, recordKey{mg, id})
	return nil
}

// PutSequence records the id high-water mark for one microgrid.
func (b *MemoryBackend) PutSequence(_ context.Context, mg model.MicrogridID, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[mg] = seq
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }
