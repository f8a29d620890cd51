package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/griddispatch/core/activation"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// startMosquitto launches a disposable broker in a container and
// returns its URL. Skips the test when the container cannot run.
func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()

	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("mosquitto container not available: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	// Port can be open before the broker accepts sessions.
	probe := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(5 * time.Second)
	for {
		cli := paho.NewClient(probe)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return broker
		}
		if time.Now().After(deadline) {
			t.Skipf("mosquitto not ready: %v", token.Error())
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestBridgeEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}

	ctx := context.Background()
	broker := startMosquitto(ctx, t)

	received := make(chan paho.Message, 8)
	subOpts := paho.NewClientOptions().AddBroker(broker).SetClientID("e2e-sub")
	subCli := paho.NewClient(subOpts)
	if token := subCli.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("subscriber connect: %v", token.Error())
	}
	defer subCli.Disconnect(100)
	token := subCli.Subscribe("microgrid/+/dispatch/#", 1, func(_ paho.Client, m paho.Message) {
		received <- m
	})
	if token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	lifecycle := eventbus.New[model.MicrogridID, events.Event](16)
	changes := eventbus.New[model.MicrogridID, activation.Change](16)
	b, err := New(Config{
		Broker: broker, ClientID: "e2e-bridge",
		QoS: map[string]byte{"event": 1, "activation": 1},
	}, lifecycle, changes)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer b.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.Run(runCtx)

	start := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	d := model.Dispatch{
		ID:          1,
		MicrogridID: 42,
		DispatchData: model.DispatchData{
			Type: "charge", StartTime: start, Duration: time.Hour,
			Selector: model.ComponentIDs{1}, Active: true,
		},
	}
	lifecycle.Publish(42, events.Event{Kind: events.KindCreated, MicrogridID: 42, ID: 1, Dispatch: &d, Seq: 1})
	changes.Publish(42, activation.Change{MicrogridID: 42, ID: 1, From: activation.StateUnspecified, To: activation.StatePending, At: start})

	seen := map[string]bool{
		"microgrid/42/dispatch/event":      false,
		"microgrid/42/dispatch/activation": false,
	}
	deadline := time.After(10 * time.Second)
	for remaining := len(seen); remaining > 0; {
		select {
		case m := <-received:
			done, ok := seen[m.Topic()]
			if !ok || done {
				continue
			}
			seen[m.Topic()] = true
			remaining--
			if m.Topic() == "microgrid/42/dispatch/event" {
				var ev events.Event
				if err := json.Unmarshal(m.Payload(), &ev); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				if ev.Kind != events.KindCreated || ev.ID != 1 || ev.Dispatch == nil {
					t.Fatalf("event through broker: %+v", ev)
				}
			} else {
				var ch activation.Change
				if err := json.Unmarshal(m.Payload(), &ch); err != nil {
					t.Fatalf("decode change: %v", err)
				}
				if ch.To != activation.StatePending {
					t.Fatalf("change through broker: %+v", ch)
				}
			}
		case <-deadline:
			t.Fatalf("timed out, seen: %v", seen)
		}
	}
}
