// Freyja - in-vehicle signal relay
//
// Freyja connects signal providers inside a vehicle, reachable over
// different protocols, to a cloud digital twin. A cartographer keeps
// provider proxies in line with the mapping service and an emitter delivers
// converted values to the configured sinks.
package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ruifelixpereira/freyja/internal/cartographer"
	"github.com/ruifelixpereira/freyja/internal/digitaltwin"
	"github.com/ruifelixpereira/freyja/internal/emitter"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/database"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/influxdb"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/logging"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/mqtt"
	"github.com/ruifelixpereira/freyja/internal/mapping"
	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
	"github.com/ruifelixpereira/freyja/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a loop
// fails. Resources are released in reverse order of acquisition.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Freyja",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Digital twin
	twin, db, err := openDigitalTwin(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	// Outputs
	var mqttClient *mqtt.Client
	if wantsSink(cfg, config.SinkMQTT) {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Provider proxies
	registry, err := buildRegistry(cfg, log.Component("proxy"))
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}
	queue := signal.NewQueue()
	selector, err := proxy.NewSelector(proxy.SelectorOptions{
		Registry: registry,
		Queue:    queue,
		Logger:   log.Component("selector"),
	})
	if err != nil {
		return fmt.Errorf("creating proxy selector: %w", err)
	}
	defer selector.Stop()
	log.Info("provider proxy selector ready", "protocols", registry.Protocols())

	// Mapping, cartographer and emitter
	items, err := mapping.ItemsFromConfig(cfg.Mapping.Values)
	if err != nil {
		return fmt.Errorf("loading mapping: %w", err)
	}
	mappingClient, err := mapping.NewInMemoryClient(items)
	if err != nil {
		return fmt.Errorf("loading mapping: %w", err)
	}
	store := mapping.NewStore()

	cart, err := cartographer.New(cartographer.Options{
		Mapping:      mappingClient,
		Twin:         twin,
		Binder:       selector,
		Store:        store,
		PollInterval: cfg.Cartographer.PollInterval,
		Logger:       log.Component("cartographer"),
	})
	if err != nil {
		return err
	}

	em, err := emitter.New(emitter.Options{
		Store:       store,
		Queue:       queue,
		Requester:   selector,
		Sinks:       buildSinks(cfg, log, mqttClient, influxClient),
		Interval:    cfg.Emitter.Interval,
		MaxInFlight: cfg.Emitter.MaxInFlight,
		Logger:      log.Component("emitter"),
	})
	if err != nil {
		return err
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cart.Run(gctx) })
	g.Go(func() error { return em.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("FREYJA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDigitalTwin builds the configured adapter. The sqlite adapter also
// returns its database, which the caller must close; configured entities
// are upserted into it.
func openDigitalTwin(ctx context.Context, cfg *config.Config, log *logging.Logger) (digitaltwin.Adapter, *database.DB, error) {
	entities := digitaltwin.FromConfig(cfg.DigitalTwin.Entities)

	if cfg.DigitalTwin.Adapter != config.AdapterSQLite {
		twin, err := digitaltwin.NewInMemoryAdapter(entities)
		if err != nil {
			return nil, nil, fmt.Errorf("loading digital twin: %w", err)
		}
		log.Info("digital twin ready", "adapter", config.AdapterInMemory, "entities", len(entities))
		return twin, nil, nil
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	twin := digitaltwin.NewSQLiteAdapter(db)
	if len(entities) > 0 {
		if err := twin.Upsert(ctx, entities...); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("seeding digital twin: %w", err)
		}
	}
	log.Info("digital twin ready", "adapter", config.AdapterSQLite, "path", db.Path(), "seeded", len(entities))
	return twin, db, nil
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
