// Command drilld runs the training-simulation engine: the HTTP/WebSocket API,
// the idle-session sweeper and, when configured, the MQTT action intake and
// webhook notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientDrill/internal/advisor"
	"github.com/AaronLay10/SentientDrill/internal/api"
	"github.com/AaronLay10/SentientDrill/internal/config"
	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/notify"
	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
	"github.com/AaronLay10/SentientDrill/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to drill.yaml (default $DRILL_CONFIG or ./drill.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drilld: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drilld: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("drilld stopped", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	bus := events.NewBus(1024)
	defer bus.CloseAllSubscribers()

	st, err := openStore(ctx, cfg, bus, log)
	if err != nil {
		return err
	}
	defer st.store.Close()

	if st.sink != nil {
		// Outlives the errgroup so the shutdown event is written too.
		sinkCtx, stopSink := context.WithCancel(context.Background())
		sinkDone := make(chan struct{})
		go func() {
			st.sink.Run(sinkCtx)
			close(sinkDone)
		}()
		defer func() {
			stopSink()
			<-sinkDone
			if dropped, failed := st.sink.Stats(); dropped > 0 || failed > 0 {
				log.Warn("audit events lost", "dropped", dropped, "failed", failed)
			}
		}()
	}

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	hostname, _ := os.Hostname()
	emit(bus, log, "info", "system.startup", "drilld starting", map[string]interface{}{
		"service":  "drilld",
		"version":  version.String(),
		"hostname": hostname,
		"pid":      os.Getpid(),
		"storage":  cfg.Storage.Driver,
	})

	if err := seedScenarios(ctx, cfg, st.store, bus, log); err != nil {
		return err
	}

	scorer := scoring.New(cfg.Scoring)
	profiles := profile.NewService(st.store, locker, profile.NewAggregator(cfg.Profile.Aggregator), bus, log, cfg.Profile.Retry)

	engine := orchestrator.NewEngine(st.store, st.store, scorer, bus, log)
	engine.SetProfileApplier(profiles)

	var primary scenario.ContentGenerator
	if cfg.Scenarios.GeneratorURL != "" {
		primary = scenario.NewRemoteGenerator(cfg.Scenarios.GeneratorURL, cfg.Scenarios.GeneratorTimeout)
		log.Info("content service enabled", "url", cfg.Scenarios.GeneratorURL)
	}
	generator := scenario.NewFallbackGenerator(primary)
	generator.OnFallback = func(req scenario.GenerateRequest, src scenario.Source, reason error) {
		msg := ""
		if reason != nil {
			msg = reason.Error()
		}
		emit(bus, log, "warn", "scenario.fallback", msg, map[string]interface{}{
			"scenario_type": req.ScenarioType,
			"difficulty":    req.Difficulty,
			"source":        string(src),
		})
	}

	sweeper := orchestrator.NewSweeper(engine, cfg.Session.Timeout, cfg.Session.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	creds, err := cfg.ResolveAuth()
	if err != nil {
		return err
	}
	auth := api.NewAuth(
		api.Credentials{User: creds.AdminUser, Pass: creds.AdminPass},
		api.Credentials{User: creds.TraineeUser, Pass: creds.TraineePass},
	)
	if !auth.Enabled() {
		log.Warn("API authentication disabled, set DRILL_ADMIN_USER and DRILL_ADMIN_PASS to enable")
	}

	metrics := api.NewMetrics(bus)
	readiness := api.NewReadiness()
	readiness.Set("storage", true)

	server := api.NewServer(api.Deps{
		Engine:         engine,
		Scenarios:      st.store,
		Profiles:       profiles,
		Advisor:        advisor.New(cfg.Advisor),
		Generator:      generator,
		Bus:            bus,
		Auth:           auth,
		Metrics:        metrics,
		Readiness:      readiness,
		Audit:          st.audit,
		Log:            log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	server.SetTLS(&api.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Server.Addr) })

	if n := notify.New(cfg.Notify, bus, log); n != nil {
		g.Go(func() error { return n.Run(gctx) })
	}

	if cfg.MQTT.Enabled {
		stopMQTT, err := startMQTT(gctx, g, cfg, engine, bus, readiness, log)
		if err != nil {
			return err
		}
		defer stopMQTT()
	}

	log.Info("drilld started", "addr", cfg.Server.Addr, "version", version.String())

	err = g.Wait()
	emit(bus, log, "info", "system.shutdown", "drilld stopping", map[string]interface{}{
		"service": "drilld",
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func emit(bus *events.Bus, log *logger.Logger, level, name, msg string, fields map[string]interface{}) {
	if _, err := bus.Emit(level, name, msg, fields); err != nil {
		log.Error("failed to emit event", "event", name, "error", err)
	}
}
