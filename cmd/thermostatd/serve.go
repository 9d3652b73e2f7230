package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/thermostat-core/internal/availability"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/logging"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/redis"
	"github.com/nerrad567/thermostat-core/internal/integration"
	"github.com/nerrad567/thermostat-core/internal/ledger"
	"github.com/nerrad567/thermostat-core/internal/store"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the store daemon until interrupted",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			return serve(cCtx.Context, cfg)
		},
	}
}

// serve wires the store to its optional collaborators and blocks until ctx
// is cancelled. Deferred cleanups run in reverse order: background workers
// first, then Redis, InfluxDB, MQTT and finally the database.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting thermostatd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	opts := storeOptions(cfg, log)

	var notifier *mqttNotifier
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", mqttClient.Topics().Prefix(),
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		notifier = newMQTTNotifier(mqttClient)
		opts.Notifier = notifier
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts.Metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.Redis.Enabled {
		rdb, redisErr := redis.Connect(ctx, cfg.Redis)
		if redisErr != nil {
			return fmt.Errorf("connecting to Redis: %w", redisErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		opts.Cache = integration.NewRedisCache(rdb, cfg.Redis.KeyPrefix, cfg.Cache.Retention)
		log.Info("integration cache on Redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	} else {
		log.Info("integration cache on SQLite")
	}

	svc := store.New(db, opts)

	if cfg.Availability.Enabled {
		wdCfg := availability.Config{
			Source:        ledger.NewRepository(db),
			Timeout:       cfg.Availability.Timeout,
			CheckInterval: cfg.Availability.CheckInterval,
			Logger:        log.With("component", "availability"),
		}
		if notifier != nil {
			wdCfg.Publisher = notifier
		}
		if influxClient != nil {
			wdCfg.Metrics = influxClient
		}
		watchdog := availability.New(wdCfg)
		watchdog.Start(ctx)
		defer func() {
			log.Info("stopping availability watchdog")
			watchdog.Stop()
		}()
		log.Info("availability watchdog started",
			"timeout", cfg.Availability.Timeout,
			"check_interval", cfg.Availability.CheckInterval,
		)
	}

	var pruneMetrics store.PruneMetrics
	if influxClient != nil {
		pruneMetrics = influxClient
	}
	pruner := store.NewPruner(svc, cfg.Maintenance.PruneInterval, pruneMetrics)
	pruner.Start(ctx)
	defer pruner.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// healthCheck verifies every enabled connection. mqttClient and
// influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
