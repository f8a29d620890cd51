package mqttbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
	coremon "github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func (r *recordMonitor) captured() (error, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err, r.tags
}

func TestBridgeErrorCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{
		errors.New("broker gone"),
		errors.New("broker gone"),
	}}
	withMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	lifecycle := eventbus.New[model.MicrogridID, events.Event](16)
	defer lifecycle.Close()
	b, err := New(Config{Broker: "tcp://localhost:1883", ClientID: "bridge", MaxRetries: 1, BackoffMS: 1}, lifecycle, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	d := testDispatch()
	lifecycle.Publish(d.MicrogridID, events.Event{
		Kind: events.KindCreated, MicrogridID: d.MicrogridID, ID: d.ID, Dispatch: &d, Seq: 1,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		capturedErr, tags := mon.captured()
		if capturedErr != nil {
			if tags["module"] != "mqtt_bridge" || tags["topic"] == "" {
				t.Fatalf("tags = %v", tags)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("error never captured")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
