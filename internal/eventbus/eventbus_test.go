package eventbus

import (
	"errors"
	"testing"

	"github.com/kilianp07/griddispatch/core/errs"
)

func TestPublishReachesOnlyTopicSubscribers(t *testing.T) {
	bus := New[uint64, string](8)
	a := bus.Subscribe(1)
	b := bus.Subscribe(2)
	bus.Publish(1, "hello")
	if v := <-a.C(); v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	select {
	case v := <-b.C():
		t.Fatalf("topic 2 must not receive topic 1 events, got %v", v)
	default:
	}
	a.Cancel()
	b.Cancel()
}

func TestDeliveryOrderMatchesPublishOrder(t *testing.T) {
	bus := New[uint64, int](128)
	sub := bus.Subscribe(7)
	for i := 0; i < 100; i++ {
		bus.Publish(7, i)
	}
	for i := 0; i < 100; i++ {
		if v := <-sub.C(); v != i {
			t.Fatalf("event %d arrived as %d", i, v)
		}
	}
	sub.Cancel()
}

func TestOverflowTerminatesSlowSubscriber(t *testing.T) {
	bus := New[uint64, int](4)
	slow := bus.Subscribe(1)
	fast := bus.Subscribe(1)
	for i := 0; i < 4; i++ {
		bus.Publish(1, i)
	}
	// fast drains, slow does not
	for i := 0; i < 4; i++ {
		<-fast.C()
	}
	bus.Publish(1, 4)
	if v := <-fast.C(); v != 4 {
		t.Fatalf("fast subscriber lost event: got %v", v)
	}
	// slow got terminated: drain its buffer, then the channel closes
	n := 0
	for range slow.C() {
		n++
	}
	if n != 4 {
		t.Fatalf("slow subscriber should keep its buffered events, drained %d", n)
	}
	if !errors.Is(slow.Err(), ErrSlowSubscriber) {
		t.Fatalf("expected ErrSlowSubscriber, got %v", slow.Err())
	}
	if !errs.IsResourceExhausted(slow.Err()) {
		t.Fatalf("overflow must map to resource exhausted, got %v", slow.Err())
	}
	if got := bus.SubscriberCount(1); got != 1 {
		t.Fatalf("expected 1 surviving subscriber, got %d", got)
	}
	fast.Cancel()
}

func TestCancelRemovesSubscription(t *testing.T) {
	bus := New[string, int](2)
	sub := bus.Subscribe("grid")
	sub.Cancel()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if sub.Err() != nil {
		t.Fatalf("cancel must not set an error, got %v", sub.Err())
	}
	if got := bus.SubscriberCount("grid"); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
	bus.Publish("grid", 1) // must not panic
	sub.Cancel()           // idempotent
}

func TestCloseTerminatesAll(t *testing.T) {
	bus := New[uint64, int](2)
	s1 := bus.Subscribe(1)
	s2 := bus.Subscribe(2)
	bus.Close()
	if _, ok := <-s1.C(); ok {
		t.Fatalf("expected s1 closed")
	}
	if _, ok := <-s2.C(); ok {
		t.Fatalf("expected s2 closed")
	}
	if s1.Err() != nil || s2.Err() != nil {
		t.Fatalf("close must not set errors: %v %v", s1.Err(), s2.Err())
	}
	late := bus.Subscribe(3)
	if _, ok := <-late.C(); ok {
		t.Fatalf("subscription on closed bus must be terminated")
	}
}

func TestSubscriptionIDsDistinct(t *testing.T) {
	bus := New[uint64, int](1)
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)
	if a.ID() == b.ID() {
		t.Fatalf("subscription ids must be unique")
	}
	if a.Topic() != 1 {
		t.Fatalf("topic lost: %v", a.Topic())
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := New[int, string](8)
	defer bus.Close()

	all := bus.SubscribeAll()
	only := bus.Subscribe(1)

	bus.Publish(1, "a")
	bus.Publish(2, "b")
	bus.Publish(1, "c")

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if got := <-all.C(); got != w {
			t.Fatalf("wildcard event %d = %q, want %q", i, got, w)
		}
	}
	if got := <-only.C(); got != "a" {
		t.Fatalf("topic sub got %q, want %q", got, "a")
	}
	if got := <-only.C(); got != "c" {
		t.Fatalf("topic sub got %q, want %q", got, "c")
	}
}

func TestSubscribeAllOverflowTerminates(t *testing.T) {
	bus := New[int, string](2)
	defer bus.Close()

	all := bus.SubscribeAll()
	for i := 0; i < 3; i++ {
		bus.Publish(7, "e")
	}

	drained := 0
	for range all.C() {
		drained++
	}
	if drained != 2 {
		t.Fatalf("drained %d buffered events, want 2", drained)
	}
	if !errors.Is(all.Err(), ErrSlowSubscriber) {
		t.Fatalf("Err = %v, want ErrSlowSubscriber", all.Err())
	}
}

func TestSubscribeAllCancel(t *testing.T) {
	bus := New[int, string](4)
	defer bus.Close()

	all := bus.SubscribeAll()
	all.Cancel()
	all.Cancel()

	bus.Publish(1, "x")
	if _, ok := <-all.C(); ok {
		t.Fatal("canceled wildcard subscription still delivered")
	}
}
