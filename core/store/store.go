package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/griddispatch/core/errs"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/logger"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/core/recurrence"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

const (
	lockStripes          = 64
	backendRetryAttempts = 3
	backendRetryBase     = 50 * time.Millisecond
)

// Bus is the lifecycle event bus the store publishes on, keyed by
// microgrid.
type Bus = eventbus.Bus[model.MicrogridID, events.Event]

// Store owns dispatch records: it allocates ids, stamps timestamps,
// validates mutations, computes end times, writes through to the
// backend and publishes lifecycle events in per-microgrid commit order.
//
// Writers on the same dispatch id serialize on a striped lock; writers
// on different dispatches proceed in parallel and only their final
// commit step (memory apply + event publish) serializes per microgrid.
type Store struct {
	backend Backend
	bus     *Bus
	log     logger.Logger

	now       func() time.Time
	retryBase time.Duration

	locks [lockStripes]sync.Mutex

	mu    sync.RWMutex
	grids map[model.MicrogridID]*gridState
}

type gridState struct {
	commitMu sync.Mutex // serializes commit+publish, defines commit order
	mu       sync.RWMutex
	records  map[model.DispatchID]model.Dispatch
	nextID   uint64 // last allocated id, persisted as high-water mark
	seq      uint64 // event sequence, process lifetime
}

// New builds a Store on top of the backend, loading its current
// contents. bus may be nil for read-only tooling; log must not be nil.
func New(ctx context.Context, backend Backend, bus *Bus, log logger.Logger) (*Store, error) {
	records, seqs, err := backend.Load(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "store: load backend")
	}
	s := &Store{
		backend:   backend,
		bus:       bus,
		log:       log,
		now:       time.Now,
		retryBase: backendRetryBase,
		grids:     make(map[model.MicrogridID]*gridState),
	}
	for _, d := range records {
		g := s.grid(d.MicrogridID)
		g.records[d.ID] = d
		if uint64(d.ID) > g.nextID {
			g.nextID = uint64(d.ID)
		}
	}
	for mg, seq := range seqs {
		g := s.grid(mg)
		if seq > g.nextID {
			g.nextID = seq
		}
	}
	total := 0
	for _, g := range s.grids {
		total += len(g.records)
	}
	log.Infof("store loaded: %d dispatches across %d microgrids", total, len(s.grids))
	return s, nil
}

// Create validates the data, assigns a fresh id and stores the record.
// The returned dispatch is the stored state.
func (s *Store) Create(ctx context.Context, mg model.MicrogridID, data model.DispatchData) (model.Dispatch, error) {
	if err := data.Validate(); err != nil {
		return model.Dispatch{}, err
	}
	now := s.now().UTC()
	if data.StartTime.Before(now) {
		return model.Dispatch{}, errs.InvalidArgf("create: start time %s is in the past", data.StartTime.UTC().Format(time.RFC3339))
	}

	g := s.grid(mg)
	id := g.allocateID()
	d := model.Dispatch{
		ID:           model.DispatchID(id),
		MicrogridID:  mg,
		DispatchData: data.Clone(),
		CreateTime:   now,
		UpdateTime:   now,
	}
	d.StartTime = d.StartTime.UTC()
	d.EndTime = recurrence.EndTime(d.StartTime, d.Duration, d.Recurrence)

	if err := s.withRetry(ctx, "put sequence", func(c context.Context) error {
		return s.backend.PutSequence(c, mg, id)
	}); err != nil {
		return model.Dispatch{}, err
	}
	if err := s.withRetry(ctx, "put dispatch", func(c context.Context) error {
		return s.backend.Put(c, d)
	}); err != nil {
		return model.Dispatch{}, err
	}

	s.commit(g, mg, events.KindCreated, d)
	s.log.Debugw("dispatch created", map[string]any{
		"microgrid_id": uint64(mg), "dispatch_id": uint64(d.ID), "type": d.Type,
	})
	return d.Clone(), nil
}

// Update applies the masked fields of patch to the stored record,
// revalidates, recomputes the end time and bumps the modification time.
func (s *Store) Update(ctx context.Context, mg model.MicrogridID, id model.DispatchID, mask model.FieldMask, patch model.DispatchData) (model.Dispatch, error) {
	if err := mask.Validate(); err != nil {
		return model.Dispatch{}, err
	}
	lock := s.stripe(mg, id)
	lock.Lock()
	defer lock.Unlock()

	g := s.grid(mg)
	cur, ok := g.get(id)
	if !ok {
		return model.Dispatch{}, errs.NotFoundf("dispatch %d not found in microgrid %d", id, mg)
	}

	next := cur.Clone()
	if err := applyMask(&next, mask, patch); err != nil {
		return model.Dispatch{}, err
	}
	if err := next.DispatchData.Validate(); err != nil {
		return model.Dispatch{}, err
	}
	now := s.now().UTC()
	if mask.Contains(model.FieldStartTime) && next.StartTime.Before(now) {
		return model.Dispatch{}, errs.InvalidArgf("update: start time %s is in the past", next.StartTime.UTC().Format(time.RFC3339))
	}
	next.EndTime = recurrence.EndTime(next.StartTime, next.Duration, next.Recurrence)
	next.UpdateTime = now
	if !next.UpdateTime.After(cur.UpdateTime) {
		next.UpdateTime = cur.UpdateTime.Add(time.Microsecond)
	}

	if err := s.withRetry(ctx, "put dispatch", func(c context.Context) error {
		return s.backend.Put(c, next)
	}); err != nil {
		return model.Dispatch{}, err
	}

	s.commit(g, mg, events.KindUpdated, next)
	s.log.Debugw("dispatch updated", map[string]any{
		"microgrid_id": uint64(mg), "dispatch_id": uint64(id), "mask": []string(mask),
	})
	return next.Clone(), nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(_ context.Context, mg model.MicrogridID, id model.DispatchID) (model.Dispatch, error) {
	g := s.grid(mg)
	d, ok := g.get(id)
	if !ok {
		return model.Dispatch{}, errs.NotFoundf("dispatch %d not found in microgrid %d", id, mg)
	}
	return d.Clone(), nil
}

// Delete removes the record. Deleting an absent or already-deleted
// dispatch fails with NotFound.
func (s *Store) Delete(ctx context.Context, mg model.MicrogridID, id model.DispatchID) error {
	lock := s.stripe(mg, id)
	lock.Lock()
	defer lock.Unlock()

	g := s.grid(mg)
	if _, ok := g.get(id); !ok {
		return errs.NotFoundf("dispatch %d not found in microgrid %d", id, mg)
	}
	if err := s.withRetry(ctx, "remove dispatch", func(c context.Context) error {
		return s.backend.Remove(c, mg, id)
	}); err != nil {
		return err
	}

	g.commitMu.Lock()
	g.mu.Lock()
	delete(g.records, id)
	g.mu.Unlock()
	g.seq++
	if s.bus != nil {
		s.bus.Publish(mg, events.Event{
			Kind: events.KindDeleted, MicrogridID: mg, ID: id, Seq: g.seq,
		})
	}
	g.commitMu.Unlock()
	s.log.Debugw("dispatch deleted", map[string]any{
		"microgrid_id": uint64(mg), "dispatch_id": uint64(id),
	})
	return nil
}

// Snapshot returns a read-consistent copy of every dispatch of one
// microgrid, in no particular order.
func (s *Store) Snapshot(mg model.MicrogridID) []model.Dispatch {
	g := s.grid(mg)
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Dispatch, 0, len(g.records))
	for _, d := range g.records {
		out = append(out, d.Clone())
	}
	return out
}

// Microgrids lists every microgrid with at least one dispatch, sorted.
func (s *Store) Microgrids() []model.MicrogridID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MicrogridID, 0, len(s.grids))
	for mg, g := range s.grids {
		g.mu.RLock()
		n := len(g.records)
		g.mu.RUnlock()
		if n > 0 {
			out = append(out, mg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes the backend. The bus is owned by the caller.
func (s *Store) Close() error {
	return s.backend.Close()
}

// commit applies the record to memory and publishes the event, holding
// the per-microgrid commit lock so delivery order equals commit order.
func (s *Store) commit(g *gridState, mg model.MicrogridID, kind events.Kind, d model.Dispatch) {
	g.commitMu.Lock()
	g.mu.Lock()
	g.records[d.ID] = d.Clone()
	g.mu.Unlock()
	g.seq++
	if s.bus != nil {
		snap := d.Clone()
		s.bus.Publish(mg, events.Event{
			Kind: kind, MicrogridID: mg, ID: d.ID, Dispatch: &snap, Seq: g.seq,
		})
	}
	g.commitMu.Unlock()
}

func (s *Store) grid(mg model.MicrogridID) *gridState {
	s.mu.RLock()
	g := s.grids[mg]
	s.mu.RUnlock()
	if g != nil {
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g = s.grids[mg]; g == nil {
		g = &gridState{records: make(map[model.DispatchID]model.Dispatch)}
		s.grids[mg] = g
	}
	return g
}

func (s *Store) stripe(mg model.MicrogridID, id model.DispatchID) *sync.Mutex {
	h := uint64(mg)*0x9E3779B97F4A7C15 ^ uint64(id)
	return &s.locks[h%lockStripes]
}

// withRetry runs fn up to backendRetryAttempts times with exponential
// backoff, surfacing the final failure as Internal.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < backendRetryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt < backendRetryAttempts-1 {
			s.log.Warnf("store: %s failed (attempt %d/%d): %v", op, attempt+1, backendRetryAttempts, err)
			select {
			case <-ctx.Done():
				return errs.Wrap(errs.KindInternal, ctx.Err(), "store: "+op+" aborted")
			case <-time.After(s.retryBase * time.Duration(1<<attempt)):
			}
		}
	}
	monitoring.CaptureException(err, map[string]string{"module": "store", "op": op})
	return errs.Wrap(errs.KindInternal, err, "store: "+op+" failed")
}

func (g *gridState) allocateID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return g.nextID
}

func (g *gridState) get(id model.DispatchID) (model.Dispatch, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.records[id]
	return d, ok
}

// applyMask copies the masked fields of patch onto next. The whole-rule
// path applies before rule sub-paths so both can appear in one mask.
func applyMask(next *model.Dispatch, mask model.FieldMask, patch model.DispatchData) error {
	if mask.Contains(model.FieldRecurrence) {
		next.Recurrence = patch.Recurrence.Clone()
	}
	for _, p := range mask {
		switch p {
		case model.FieldType:
			next.Type = patch.Type
		case model.FieldStartTime:
			next.StartTime = patch.StartTime.UTC()
		case model.FieldDuration:
			next.Duration = patch.Duration
		case model.FieldSelector:
			if patch.Selector == nil {
				next.Selector = nil
			} else {
				next.Selector = patch.Selector.Clone()
			}
		case model.FieldActive:
			next.Active = patch.Active
		case model.FieldDryRun:
			next.DryRun = patch.DryRun
		case model.FieldPayload:
			next.Payload = patch.Payload.Clone()
		case model.FieldRecurrence:
			// applied above
		default:
			if err := applyRecurrencePath(next, p, patch.Recurrence); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyRecurrencePath(next *model.Dispatch, path string, patch *model.RecurrenceRule) error {
	if next.Recurrence == nil {
		return errs.FailedPreconditionf("update: %s requires a recurrence rule on the dispatch", path)
	}
	if path == model.FieldRecurrenceEnd && patch == nil {
		next.Recurrence.End = nil
		return nil
	}
	if patch == nil {
		return errs.InvalidArgf("update: %s named but the patch carries no recurrence values", path)
	}
	r := next.Recurrence
	switch path {
	case model.FieldRecurrenceFreq:
		r.Freq = patch.Freq
	case model.FieldRecurrenceInterval:
		r.Interval = patch.Interval
	case model.FieldRecurrenceEnd:
		r.End = patch.End
	case model.FieldRecurrenceEndCount:
		c, ok := patch.End.(model.EndCount)
		if !ok {
			return errs.InvalidArgf("update: recurrence.end.count named but the patch end is not a count")
		}
		r.End = c
	case model.FieldRecurrenceEndUntil:
		u, ok := patch.End.(model.EndUntil)
		if !ok {
			return errs.InvalidArgf("update: recurrence.end.until named but the patch end is not an instant")
		}
		r.End = u
	case model.FieldRecurrenceByMinutes:
		r.ByMinutes = append([]int(nil), patch.ByMinutes...)
	case model.FieldRecurrenceByHours:
		r.ByHours = append([]int(nil), patch.ByHours...)
	case model.FieldRecurrenceByWeekdays:
		r.ByWeekdays = append([]time.Weekday(nil), patch.ByWeekdays...)
	case model.FieldRecurrenceByMonthdays:
		r.ByMonthdays = append([]int(nil), patch.ByMonthdays...)
	case model.FieldRecurrenceByMonths:
		r.ByMonths = append([]time.Month(nil), patch.ByMonths...)
	}
	return nil
}
