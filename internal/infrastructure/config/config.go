package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Freyja.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	DigitalTwin  DigitalTwinConfig  `yaml:"digital_twin"`
	Mapping      MappingConfig      `yaml:"mapping"`
	Cartographer CartographerConfig `yaml:"cartographer"`
	Emitter      EmitterConfig      `yaml:"emitter"`
	Proxies      ProxiesConfig      `yaml:"proxies"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite settings used by the sqlite digital twin adapter.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the MQTT broker used by the emitter sink.
// Provider brokers come from entity URIs; see MQTTProxyConfig.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains the InfluxDB sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// DigitalTwinConfig selects where entity descriptions come from.
type DigitalTwinConfig struct {
	// Adapter is "in-memory" (Entities below) or "sqlite" (database.path).
	Adapter  string         `yaml:"adapter"`
	Entities []EntityConfig `yaml:"entities"`
}

// EntityConfig describes one digital twin entity.
type EntityConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URI         string `yaml:"uri"`
	Protocol    string `yaml:"protocol"`
	Operation   string `yaml:"operation"`
}

// MappingConfig configures the in-memory mapping client.
type MappingConfig struct {
	Values []MappingItemConfig `yaml:"values"`
}

// MappingItemConfig activates Value between the Begin-th and End-th call
// to the mapping client's work check. A nil End keeps it active forever.
type MappingItemConfig struct {
	Begin int                `yaml:"begin"`
	End   *int               `yaml:"end"`
	Value MappingEntryConfig `yaml:"value"`
}

// MappingEntryConfig maps one source entity onto digital twin targets.
type MappingEntryConfig struct {
	Source       string                  `yaml:"source"`
	Target       map[string]string       `yaml:"target"`
	IntervalMs   int                     `yaml:"interval_ms"`
	Conversion   *LinearConversionConfig `yaml:"conversion"`
	EmitOnChange bool                    `yaml:"emit_on_change"`
}

// LinearConversionConfig converts x to x*Mul + Offset.
type LinearConversionConfig struct {
	Mul    float64 `yaml:"mul"`
	Offset float64 `yaml:"offset"`
}

// CartographerConfig controls how often the mapping is checked.
type CartographerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EmitterConfig controls the emit loop and its outputs.
type EmitterConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Sinks lists outputs by name: "log", "mqtt", "influxdb".
	Sinks []string `yaml:"sinks"`
	// MaxInFlight caps concurrent value requests to providers.
	MaxInFlight int `yaml:"max_in_flight"`
}

// ProxiesConfig contains one section per provider proxy family.
// The order families are registered in is fixed: in-memory, http, mqtt,
// redis, kafka, websocket.
type ProxiesConfig struct {
	InMemory  InMemoryProxyConfig  `yaml:"in_memory"`
	HTTP      HTTPProxyConfig      `yaml:"http"`
	MQTT      MQTTProxyConfig      `yaml:"mqtt"`
	Redis     RedisProxyConfig     `yaml:"redis"`
	Kafka     KafkaProxyConfig     `yaml:"kafka"`
	WebSocket WebSocketProxyConfig `yaml:"websocket"`
}

// InMemoryProxyConfig configures simulated providers.
type InMemoryProxyConfig struct {
	Enabled               bool                   `yaml:"enabled"`
	SignalUpdateFrequency time.Duration          `yaml:"signal_update_frequency"`
	Entities              []InMemorySensorConfig `yaml:"entities"`
}

// InMemorySensorConfig is the value sequence for one simulated entity.
// Exactly one of Static or Stepwise must be set.
type InMemorySensorConfig struct {
	EntityID string          `yaml:"entity_id"`
	Static   *float64        `yaml:"static"`
	Stepwise *StepwiseConfig `yaml:"stepwise"`
}

// StepwiseConfig ramps from Start to End by Delta per generated value.
type StepwiseConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Delta float64 `yaml:"delta"`
}

// HTTPProxyConfig configures polled HTTP providers.
type HTTPProxyConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MQTTProxyConfig configures providers that publish over MQTT.
type MQTTProxyConfig struct {
	Enabled        bool           `yaml:"enabled"`
	PollInterval   time.Duration  `yaml:"poll_interval"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	QoS            int            `yaml:"qos"`
	Auth           MQTTAuthConfig `yaml:"auth"`
}

// RedisProxyConfig configures providers that store values in Redis.
type RedisProxyConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// KafkaProxyConfig configures providers that stream values over Kafka.
type KafkaProxyConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	GroupID        string        `yaml:"group_id"`
}

// WebSocketProxyConfig configures providers that push values over websockets.
type WebSocketProxyConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// Digital twin adapter names.
const (
	AdapterInMemory = "in-memory"
	AdapterSQLite   = "sqlite"
)

// Emitter sink names.
const (
	SinkLog      = "log"
	SinkMQTT     = "mqtt"
	SinkInfluxDB = "influxdb"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FREYJA_SECTION_KEY
// For example: FREYJA_DATABASE_PATH, FREYJA_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. Only the in-memory
// families are enabled, so a bare config runs without external services.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/freyja.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "freyja",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "freyja",
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "freyja",
			BatchSize:     100,
			FlushInterval: 10,
		},
		DigitalTwin: DigitalTwinConfig{
			Adapter: AdapterInMemory,
		},
		Cartographer: CartographerConfig{
			PollInterval: 5 * time.Second,
		},
		Emitter: EmitterConfig{
			Interval:    time.Second,
			Sinks:       []string{SinkLog},
			MaxInFlight: 16,
		},
		Proxies: ProxiesConfig{
			InMemory: InMemoryProxyConfig{
				Enabled:               true,
				SignalUpdateFrequency: time.Second,
			},
			HTTP: HTTPProxyConfig{
				PollInterval:   time.Second,
				RequestTimeout: 5 * time.Second,
			},
			MQTT: MQTTProxyConfig{
				PollInterval:   time.Second,
				RequestTimeout: 5 * time.Second,
				QoS:            1,
			},
			Redis: RedisProxyConfig{
				PollInterval: time.Second,
				DialTimeout:  5 * time.Second,
				KeyPrefix:    "freyja:signal:",
			},
			Kafka: KafkaProxyConfig{
				PollInterval:   time.Second,
				RequestTimeout: 5 * time.Second,
				GroupID:        "freyja",
			},
			WebSocket: WebSocketProxyConfig{
				PollInterval:     time.Second,
				RequestTimeout:   5 * time.Second,
				HandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FREYJA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FREYJA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("FREYJA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FREYJA_DIGITAL_TWIN_ADAPTER"); v != "" {
		cfg.DigitalTwin.Adapter = v
	}

	// MQTT
	if v := os.Getenv("FREYJA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FREYJA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
		cfg.Proxies.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FREYJA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
		cfg.Proxies.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FREYJA_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("FREYJA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, "logging.level must be debug, info, warn, or error")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.DigitalTwin.Adapter {
	case AdapterInMemory:
	case AdapterSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite digital twin adapter")
		}
	default:
		errs = append(errs, fmt.Sprintf("digital_twin.adapter %q must be %q or %q", c.DigitalTwin.Adapter, AdapterInMemory, AdapterSQLite))
	}
	for i, e := range c.DigitalTwin.Entities {
		if e.ID == "" || e.URI == "" || e.Protocol == "" || e.Operation == "" {
			errs = append(errs, fmt.Sprintf("digital_twin.entities[%d] requires id, uri, protocol and operation", i))
		}
	}

	for i, item := range c.Mapping.Values {
		if item.Begin < 0 {
			errs = append(errs, fmt.Sprintf("mapping.values[%d].begin must not be negative", i))
		}
		if item.End != nil && *item.End <= item.Begin {
			errs = append(errs, fmt.Sprintf("mapping.values[%d].end must be greater than begin", i))
		}
		if item.Value.Source == "" {
			errs = append(errs, fmt.Sprintf("mapping.values[%d].value.source is required", i))
		}
		if item.Value.IntervalMs < 0 {
			errs = append(errs, fmt.Sprintf("mapping.values[%d].value.interval_ms must not be negative", i))
		}
	}

	if c.Cartographer.PollInterval <= 0 {
		errs = append(errs, "cartographer.poll_interval must be positive")
	}
	if c.Emitter.Interval <= 0 {
		errs = append(errs, "emitter.interval must be positive")
	}
	if c.Emitter.MaxInFlight <= 0 {
		errs = append(errs, "emitter.max_in_flight must be positive")
	}
	for _, sink := range c.Emitter.Sinks {
		switch sink {
		case SinkLog, SinkMQTT:
		case SinkInfluxDB:
			if !c.InfluxDB.Enabled {
				errs = append(errs, "emitter sink influxdb requires influxdb.enabled")
			}
		default:
			errs = append(errs, fmt.Sprintf("emitter.sinks: unknown sink %q", sink))
		}
	}

	errs = append(errs, c.Proxies.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p ProxiesConfig) validate() []string {
	var errs []string

	if !p.InMemory.Enabled && !p.HTTP.Enabled && !p.MQTT.Enabled &&
		!p.Redis.Enabled && !p.Kafka.Enabled && !p.WebSocket.Enabled {
		errs = append(errs, "proxies: at least one provider family must be enabled")
	}

	if p.InMemory.Enabled {
		if p.InMemory.SignalUpdateFrequency <= 0 {
			errs = append(errs, "proxies.in_memory.signal_update_frequency must be positive")
		}
		for i, s := range p.InMemory.Entities {
			if s.EntityID == "" {
				errs = append(errs, fmt.Sprintf("proxies.in_memory.entities[%d].entity_id is required", i))
			}
			if (s.Static == nil) == (s.Stepwise == nil) {
				errs = append(errs, fmt.Sprintf("proxies.in_memory.entities[%d] needs exactly one of static or stepwise", i))
			}
		}
	}

	intervals := []struct {
		name    string
		enabled bool
		value   time.Duration
	}{
		{"proxies.http.poll_interval", p.HTTP.Enabled, p.HTTP.PollInterval},
		{"proxies.mqtt.poll_interval", p.MQTT.Enabled, p.MQTT.PollInterval},
		{"proxies.redis.poll_interval", p.Redis.Enabled, p.Redis.PollInterval},
		{"proxies.kafka.poll_interval", p.Kafka.Enabled, p.Kafka.PollInterval},
		{"proxies.websocket.poll_interval", p.WebSocket.Enabled, p.WebSocket.PollInterval},
	}
	for _, iv := range intervals {
		if iv.enabled && iv.value <= 0 {
			errs = append(errs, iv.name+" must be positive")
		}
	}

	if p.MQTT.Enabled && (p.MQTT.QoS < 0 || p.MQTT.QoS > 2) {
		errs = append(errs, "proxies.mqtt.qos must be 0, 1, or 2")
	}
	if p.Kafka.Enabled && p.Kafka.GroupID == "" {
		errs = append(errs, "proxies.kafka.group_id is required")
	}

	return errs
}

// FlushIntervalDuration returns the flush interval as a Duration.
func (c InfluxDBConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}
