package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientDrill/internal/api"
	"github.com/AaronLay10/SentientDrill/internal/config"
	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/lock"
	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/mqtt"
	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
	"github.com/AaronLay10/SentientDrill/internal/storage/postgres"
	"github.com/AaronLay10/SentientDrill/internal/storage/sqlite"
)

type stores struct {
	store storage.Store
	audit api.AuditLog
	// sink queues bus events for the audit table; nil without Postgres.
	sink *events.AsyncSink
}

// openStore opens the configured backend. Postgres is retried while the
// database comes up and also receives the audit log through a queue that
// the caller must run.
func openStore(ctx context.Context, cfg *config.Config, bus *events.Bus, log *logger.Logger) (stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		log.Info("storage opened", "driver", "sqlite", "path", cfg.Storage.SQLitePath)
		return stores{store: s}, nil

	case config.DriverPostgres:
		dsn, err := cfg.Storage.PostgresDSN.Resolve()
		if err != nil {
			return stores{}, err
		}

		var client *postgres.Client
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 30 * time.Second
		op := func() error {
			c, err := postgres.New(ctx, dsn, cfg.Storage.Instance)
			if err != nil {
				log.Warn("postgres not ready", "error", err)
				return err
			}
			client = c
			return nil
		}
		if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
			return stores{}, fmt.Errorf("postgres unavailable: %w", err)
		}
		sink := events.NewAsyncSink(client, 4096)
		sink.OnError = func(err error) {
			log.Error("audit event write failed", "error", err)
		}
		bus.SetSink(sink)
		log.Info("storage opened", "driver", "postgres", "instance", cfg.Storage.Instance)
		return stores{store: client, audit: client, sink: sink}, nil

	default:
		log.Warn("using in-memory storage, sessions and profiles are lost on restart")
		return stores{store: storage.NewMemory()}, nil
	}
}

// openLocker returns the cross-process Redis locker when an address is
// configured, otherwise an in-process one.
func openLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	password, err := config.Lookup("REDIS_PASSWORD", cfg.Redis.Password)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := lock.Dial(ctx, cfg.Redis.Addr, password)
	if err != nil {
		return nil, nil, err
	}
	log.Info("redis profile locks enabled", "addr", cfg.Redis.Addr)
	return lock.NewRedis(rdb, cfg.Redis.LockPrefix, cfg.Redis.LockTTL), func() { rdb.Close() }, nil
}

// seedScenarios stores the template library and every definition under the
// scenarios directory. Invalid files, and ids already stored with different
// content, are reported and skipped. Re-seeding unchanged content is a no-op.
func seedScenarios(ctx context.Context, cfg *config.Config, repo storage.ScenarioRepository, bus *events.Bus, log *logger.Logger) error {
	var defs []*scenario.Definition
	if cfg.Scenarios.SeedTemplates() {
		defs = append(defs, scenario.Library()...)
	}
	if cfg.Scenarios.Dir != "" {
		loaded, err := scenario.LoadDir(cfg.Scenarios.Dir)
		if err != nil {
			return fmt.Errorf("failed to load scenarios: %w", err)
		}
		defs = append(defs, loaded...)
	}

	stored := 0
	for _, def := range defs {
		if res := scenario.Validate(def); !res.OK() {
			emit(bus, log, "warn", "scenario.rejected", res.Err().Error(), map[string]interface{}{
				"scenario_id": def.ID,
				"errors":      len(res.Errors),
			})
			continue
		}
		err := repo.PutScenario(ctx, def)
		if errors.Is(err, storage.ErrConflict) {
			// Sessions may reference the stored version; publish changes under a new id.
			emit(bus, log, "warn", "scenario.rejected", err.Error(), map[string]interface{}{
				"scenario_id": def.ID,
				"reason":      "id already stored with different content",
			})
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to store scenario %s: %w", def.ID, err)
		}
		emit(bus, log, "info", "scenario.stored", "", map[string]interface{}{
			"scenario_id": def.ID,
			"kind":        string(def.Kind),
			"difficulty":  def.Difficulty,
		})
		stored++
	}
	log.Info("scenarios loaded", "stored", stored, "rejected", len(defs)-stored)
	return nil
}

// startMQTT connects the broker client and runs the intake and publisher on
// g. The returned func disconnects.
func startMQTT(ctx context.Context, g *errgroup.Group, cfg *config.Config, engine *orchestrator.Engine, bus *events.Bus, readiness *api.Readiness, log *logger.Logger) (func(), error) {
	password, err := config.Lookup("MQTT_PASSWORD", cfg.MQTT.Password)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(mqtt.Options{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  password,
		QoS:       cfg.MQTT.QoS,
	}, log)

	intake := mqtt.NewActionIntake(client, engine, cfg.MQTT.TopicPrefix, log)
	publisher := mqtt.NewPublisher(client, bus, cfg.MQTT.TopicPrefix, log)

	readiness.Set("mqtt", false)
	client.OnConnect(func() {
		if err := intake.Start(ctx); err != nil {
			log.Error("failed to subscribe to action topics", "error", err)
			return
		}
		readiness.Set("mqtt", true)
		emit(bus, log, "info", "mqtt.connected", "", map[string]interface{}{
			"broker": cfg.MQTT.BrokerURL,
		})
	})
	client.OnConnectionLost(func(err error) {
		intake.Reset()
		readiness.Set("mqtt", false)
		emit(bus, log, "warn", "mqtt.disconnected", err.Error(), map[string]interface{}{
			"broker": cfg.MQTT.BrokerURL,
		})
	})

	if err := client.Connect(); err != nil {
		var timeout *mqtt.ConnectTimeoutError
		if !errors.As(err, &timeout) {
			return nil, err
		}
		// paho keeps retrying in the background; OnConnect subscribes later.
		log.Warn("mqtt broker not reachable yet", "broker", timeout.Broker)
	}
	g.Go(func() error { return publisher.Run(ctx) })
	return client.Disconnect, nil
}
