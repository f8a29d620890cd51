package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	data := `store:
  backend: "sqlite"
  path: "/var/lib/griddispatch/dispatch.db"
tracker:
  tick_seconds: 30
bus:
  buffer: 128
query:
  max_page_size: 200
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "bridge"
  username: "user"
  password: "pass"
  qos:
    event: 1
    activation: 2
metrics:
  prom_listen: ":9091"
  sinks:
    - type: "nop"
journal:
  enabled: true
  path: "/var/log/griddispatch/journal.jsonl"
  max_size_mb: 50
sentry:
  dsn: "https://key@sentry.example/1"
  environment: "staging"
logging:
  level: "debug"
  pretty: true
`
	cfg, err := Load(writeConfig(t, "config.yaml", data))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"store.backend", cfg.Store.Backend, "sqlite"},
		{"store.path", cfg.Store.Path, "/var/lib/griddispatch/dispatch.db"},
		{"tracker.tick", cfg.Tracker.Interval(), 30 * time.Second},
		{"bus.buffer", cfg.Bus.Buffer, 128},
		{"query.max_page_size", cfg.Query.MaxPageSize, 200},
		{"mqtt.enabled", cfg.MQTT.Enabled, true},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.client_id", cfg.MQTT.ClientID, "bridge"},
		{"mqtt.qos.event", cfg.MQTT.QoS["event"], byte(1)},
		{"mqtt.qos.activation", cfg.MQTT.QoS["activation"], byte(2)},
		{"metrics.prom_listen", cfg.Metrics.PromListen, ":9091"},
		{"metrics.sinks", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"journal.enabled", cfg.Journal.Enabled, true},
		{"journal.path", cfg.Journal.Path, "/var/log/griddispatch/journal.jsonl"},
		{"journal.max_size_mb", cfg.Journal.MaxSizeMB, 50},
		{"journal.max_backups", cfg.Journal.MaxBackups, 3},
		{"sentry.dsn", cfg.Sentry.DSN, "https://key@sentry.example/1"},
		{"sentry.environment", cfg.Sentry.Environment, "staging"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"logging.pretty", cfg.Logging.Pretty, true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadJSON(t *testing.T) {
	data := `{"store": {"backend": "memory"}, "logging": {"level": "warn"}}`
	cfg, err := Load(writeConfig(t, "config.json", data))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Store.Backend != "memory" || cfg.Logging.Level != "warn" {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "store:\n  backend: memory\n"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Tracker.Interval() != time.Minute {
		t.Fatalf("tracker interval = %v", cfg.Tracker.Interval())
	}
	if cfg.Bus.Buffer != 256 {
		t.Fatalf("bus buffer = %d", cfg.Bus.Buffer)
	}
	if cfg.Query.MaxPageSize != 1000 {
		t.Fatalf("max page size = %d", cfg.Query.MaxPageSize)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %s", cfg.Logging.Level)
	}
}

func TestLoadSqliteDefaultPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "store:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Store.Path == "" {
		t.Fatal("sqlite path default not applied")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GD_STORE__BACKEND", "sqlite")
	t.Setenv("GD_STORE__PATH", "/tmp/override.db")
	cfg, err := Load(writeConfig(t, "config.yaml", "store:\n  backend: memory\n"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/tmp/override.db" {
		t.Fatalf("env override not applied: %+v", cfg.Store)
	}
}

func TestLoadRejectsInvalidSection(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"store", "store:\n  backend: etcd\n", "store"},
		{"tracker", "tracker:\n  tick_seconds: -5\n", "tracker"},
		{"query", "query:\n  max_page_size: 100000\n", "query"},
		{"journal", "journal:\n  enabled: true\n  max_size_mb: -1\n", "journal"},
		{"logging", "logging:\n  level: loud\n", "logging"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, "config.yaml", tc.data))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v", tc.name, err)
		}
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "x = 1\n")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("default backend = %s", cfg.Store.Backend)
	}
}
