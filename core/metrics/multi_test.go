package metrics

import (
	"errors"
	"testing"
	"time"
)

type countingSink struct {
	lifecycle   int
	transitions int
	censuses    int
	fail        bool
}

func (c *countingSink) RecordLifecycle(LifecycleRecord) error {
	c.lifecycle++
	if c.fail {
		return errors.New("sink failed")
	}
	return nil
}

func (c *countingSink) RecordTransition(TransitionRecord) error {
	c.transitions++
	return nil
}

func (c *countingSink) RecordStateCounts(StateCountsRecord) error {
	c.censuses++
	return nil
}

func TestMultiSinkForwardsToAll(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordLifecycle(LifecycleRecord{Kind: "created", Time: time.Now()}); err != nil {
		t.Fatalf("RecordLifecycle: %v", err)
	}
	if err := m.RecordTransition(TransitionRecord{From: "pending", To: "active"}); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if err := m.RecordStateCounts(StateCountsRecord{MicrogridID: 1}); err != nil {
		t.Fatalf("RecordStateCounts: %v", err)
	}
	for _, s := range []*countingSink{a, b} {
		if s.lifecycle != 1 || s.transitions != 1 || s.censuses != 1 {
			t.Fatalf("sink counts = %+v", s)
		}
	}
}

func TestMultiSinkStopsOnFirstError(t *testing.T) {
	a := &countingSink{fail: true}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordLifecycle(LifecycleRecord{}); err == nil {
		t.Fatal("expected the first sink's error")
	}
	if b.lifecycle != 0 {
		t.Fatal("second sink must not be reached after a failure")
	}
}
