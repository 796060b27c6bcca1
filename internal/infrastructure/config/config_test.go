package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
logging:
  level: debug
digital_twin:
  adapter: in-memory
  entities:
    - id: dome
      uri: http://provider-1
      protocol: in-memory
      operation: Subscribe
mapping:
  values:
    - begin: 0
      end: 5
      value:
        source: dome
        target:
          metadata: dome-status
        interval_ms: 1000
        conversion:
          mul: 1.8
          offset: 32
        emit_on_change: true
cartographer:
  poll_interval: 2s
emitter:
  interval: 250ms
  sinks: [log]
proxies:
  in_memory:
    enabled: true
    signal_update_frequency: 100ms
    entities:
      - entity_id: dome
        stepwise:
          start: 0
          end: 10
          delta: 1
  http:
    enabled: true
    poll_interval: 500ms
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if len(cfg.DigitalTwin.Entities) != 1 || cfg.DigitalTwin.Entities[0].URI != "http://provider-1" {
		t.Errorf("DigitalTwin.Entities = %+v, want one entity at http://provider-1", cfg.DigitalTwin.Entities)
	}

	item := cfg.Mapping.Values[0]
	if item.End == nil || *item.End != 5 {
		t.Errorf("Mapping.Values[0].End = %v, want 5", item.End)
	}
	if item.Value.Conversion == nil || item.Value.Conversion.Mul != 1.8 {
		t.Errorf("Mapping.Values[0].Value.Conversion = %+v, want mul 1.8", item.Value.Conversion)
	}
	if item.Value.Target["metadata"] != "dome-status" {
		t.Errorf("Mapping target = %v, want metadata=dome-status", item.Value.Target)
	}

	if cfg.Cartographer.PollInterval != 2*time.Second {
		t.Errorf("Cartographer.PollInterval = %v, want 2s", cfg.Cartographer.PollInterval)
	}
	if cfg.Emitter.Interval != 250*time.Millisecond {
		t.Errorf("Emitter.Interval = %v, want 250ms", cfg.Emitter.Interval)
	}
	if cfg.Proxies.InMemory.SignalUpdateFrequency != 100*time.Millisecond {
		t.Errorf("InMemory.SignalUpdateFrequency = %v, want 100ms", cfg.Proxies.InMemory.SignalUpdateFrequency)
	}
	if s := cfg.Proxies.InMemory.Entities[0].Stepwise; s == nil || s.End != 10 {
		t.Errorf("InMemory stepwise = %+v, want end 10", s)
	}

	// Defaults survive for sections the file does not mention.
	if cfg.Proxies.HTTP.RequestTimeout != 5*time.Second {
		t.Errorf("HTTP.RequestTimeout = %v, want default 5s", cfg.Proxies.HTTP.RequestTimeout)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
digital_twin:
  adapter: cosmos
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "digital_twin.adapter") {
		t.Errorf("Load() error = %v, want mention of digital_twin.adapter", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	end := 3
	badEnd := 1

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "sqlite adapter with path",
			mutate: func(c *Config) {
				c.DigitalTwin.Adapter = AdapterSQLite
			},
		},
		{
			name: "sqlite adapter without path",
			mutate: func(c *Config) {
				c.DigitalTwin.Adapter = AdapterSQLite
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name: "unknown log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "invalid QoS",
			mutate: func(c *Config) {
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "incomplete entity",
			mutate: func(c *Config) {
				c.DigitalTwin.Entities = []EntityConfig{{ID: "dome", Protocol: "in-memory"}}
			},
			wantErr: true,
		},
		{
			name: "mapping window",
			mutate: func(c *Config) {
				c.Mapping.Values = []MappingItemConfig{{Begin: 1, End: &end, Value: MappingEntryConfig{Source: "dome"}}}
			},
		},
		{
			name: "mapping end before begin",
			mutate: func(c *Config) {
				c.Mapping.Values = []MappingItemConfig{{Begin: 2, End: &badEnd, Value: MappingEntryConfig{Source: "dome"}}}
			},
			wantErr: true,
		},
		{
			name: "mapping without source",
			mutate: func(c *Config) {
				c.Mapping.Values = []MappingItemConfig{{Begin: 0}}
			},
			wantErr: true,
		},
		{
			name: "zero emitter interval",
			mutate: func(c *Config) {
				c.Emitter.Interval = 0
			},
			wantErr: true,
		},
		{
			name: "zero emitter request limit",
			mutate: func(c *Config) {
				c.Emitter.MaxInFlight = 0
			},
			wantErr: true,
		},
		{
			name: "unknown sink",
			mutate: func(c *Config) {
				c.Emitter.Sinks = []string{"carrier-pigeon"}
			},
			wantErr: true,
		},
		{
			name: "influxdb sink while disabled",
			mutate: func(c *Config) {
				c.Emitter.Sinks = []string{SinkInfluxDB}
			},
			wantErr: true,
		},
		{
			name: "no families enabled",
			mutate: func(c *Config) {
				c.Proxies.InMemory.Enabled = false
			},
			wantErr: true,
		},
		{
			name: "sensor with both sequences",
			mutate: func(c *Config) {
				v := 1.0
				c.Proxies.InMemory.Entities = []InMemorySensorConfig{{EntityID: "a", Static: &v, Stepwise: &StepwiseConfig{Delta: 1}}}
			},
			wantErr: true,
		},
		{
			name: "enabled family with zero poll interval",
			mutate: func(c *Config) {
				c.Proxies.Redis.Enabled = true
				c.Proxies.Redis.PollInterval = 0
			},
			wantErr: true,
		},
		{
			name: "kafka without group",
			mutate: func(c *Config) {
				c.Proxies.Kafka.Enabled = true
				c.Proxies.Kafka.GroupID = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.MQTT.QoS = 5
	cfg.Emitter.Interval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "mqtt.qos") || !strings.Contains(err.Error(), "emitter.interval") {
		t.Errorf("Validate() error = %v, want both failures reported", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("FREYJA_LOG_LEVEL", "warn")
	t.Setenv("FREYJA_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FREYJA_DIGITAL_TWIN_ADAPTER", "sqlite")
	t.Setenv("FREYJA_MQTT_HOST", "mqtt.example.com")
	t.Setenv("FREYJA_MQTT_USERNAME", "testuser")
	t.Setenv("FREYJA_MQTT_PASSWORD", "testpass")
	t.Setenv("FREYJA_INFLUXDB_URL", "http://influx:8086")
	t.Setenv("FREYJA_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.DigitalTwin.Adapter != AdapterSQLite {
		t.Errorf("DigitalTwin.Adapter = %q, want %q", cfg.DigitalTwin.Adapter, AdapterSQLite)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.Proxies.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT usernames = %q/%q, want testuser", cfg.MQTT.Auth.Username, cfg.Proxies.MQTT.Auth.Username)
	}
	if cfg.MQTT.Auth.Password != "testpass" || cfg.Proxies.MQTT.Auth.Password != "testpass" {
		t.Error("MQTT passwords not overridden")
	}
	if cfg.InfluxDB.URL != "http://influx:8086" {
		t.Errorf("InfluxDB.URL = %q, want %q", cfg.InfluxDB.URL, "http://influx:8086")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.DigitalTwin.Adapter != AdapterInMemory {
		t.Errorf("defaultConfig DigitalTwin.Adapter = %q, want %q", cfg.DigitalTwin.Adapter, AdapterInMemory)
	}
	if !cfg.Proxies.InMemory.Enabled {
		t.Error("defaultConfig should enable the in-memory family")
	}
	if cfg.Proxies.HTTP.Enabled || cfg.Proxies.Kafka.Enabled {
		t.Error("defaultConfig should not enable families that need external services")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if got := cfg.InfluxDB.FlushIntervalDuration(); got != 10*time.Second {
		t.Errorf("FlushIntervalDuration() = %v, want 10s", got)
	}
}
