package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/config"
	"github.com/encodis/encodis/internal/coordinator"
	"github.com/encodis/encodis/internal/dispatcher"
	"github.com/encodis/encodis/internal/executor"
	"github.com/encodis/encodis/internal/follower"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/notify"
	"github.com/encodis/encodis/internal/scheduler"
	"github.com/encodis/encodis/internal/store"
	transporthttp "github.com/encodis/encodis/internal/transport/http"
	"github.com/encodis/encodis/internal/validate"
	"github.com/rs/zerolog"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "encodis", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "encodis", Version: version})
	logger = log.WithComponent("daemon")

	dirs := validate.New()
	dirs.Directory("UPLOAD_DIR", cfg.UploadDir, false)
	dirs.Directory("OUTPUT_DIR", cfg.OutputDir, false)
	if err := dirs.Err(); err != nil {
		logger.Fatal().Err(err).Msg("cannot prepare upload/output directories")
	}

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config file watcher failed to start")
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("upload_dir", cfg.UploadDir).
		Str("output_dir", cfg.OutputDir).
		Msg("starting encodis")

	if cfg.Mode == config.ModeFollower {
		runFollower(ctx, logger, cfg)
		return
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open job store")
	}

	events := bus.NewMemoryBus()
	sink := buildNotifySink(cfg)
	sched := scheduler.New(st, events, sink)

	var disp *dispatcher.Dispatcher
	mode := coordinator.ModeStandalone
	if cfg.Mode == config.ModeLeader {
		mode = coordinator.ModeLeader
		disp = dispatcher.New(sched, events, dispatcher.DefaultHeartbeatInterval)
		for _, url := range cfg.Followers {
			disp.RegisterFollower(url, url)
		}
	}

	coord := coordinator.New(mode, st, events, sched, disp)
	coord.HousekeepingInterval = cfg.CheckInterval
	if mode == coordinator.ModeStandalone {
		coord.LocalWorker = func(ctx context.Context) error {
			return runLocalWorker(ctx, sched, cfg)
		}
	}

	srv := transporthttp.NewServer(sched, st, events, disp)
	srv.TracingServiceName = "encodis-api"
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http transport listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	runErr := coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	_ = transporthttp.Shutdown(shutdownCtx, httpServer)
	cancel()

	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("coordinator exited with error")
	}
	logger.Info().Msg("encodis exiting")
}

func openStore(cfg config.Config) (store.JobStore, error) {
	if cfg.StoreDriver == "badger" {
		return store.OpenBadgerStore(cfg.StorePath)
	}
	return store.NewMemoryStore(), nil
}

func buildNotifySink(cfg config.Config) *notify.MultiSink {
	var sinks []notify.Sink
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordSink(cfg.DiscordWebhookURL))
	}
	if cfg.PushoverAPIToken != "" && cfg.PushoverUserKey != "" {
		sinks = append(sinks, notify.NewPushoverSink(cfg.PushoverAPIToken, cfg.PushoverUserKey))
	}
	return &notify.MultiSink{Sinks: sinks}
}

// runLocalWorker is the standalone-mode dispatch loop: claim the head of
// the ready-queue on the local executor, one job at a time. It returns once
// ctx is done, having let the in-flight executor run to completion or be
// cancelled by ctx itself; the Coordinator's errgroup awaits this return
// before its drain timeout can fire.
func runLocalWorker(ctx context.Context, sched *scheduler.Scheduler, cfg config.Config) error {
	exec := executor.New(executor.Options{OutputRoot: cfg.OutputDir})
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, ok, err := sched.Claim(ctx, "local")
		if err != nil {
			log.L().Error().Err(err).Msg("local worker: claim failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		for ev := range exec.Execute(ctx, job.Args, 0) {
			switch ev.Kind {
			case executor.EventProgress:
				if ev.Progress != nil && ev.Progress.ProgressPercent != nil {
					_ = sched.ReportProgress(ctx, job.ID, *ev.Progress.ProgressPercent)
				}
			case executor.EventCompleted:
				success, reason := false, "unknown"
				if ev.Result != nil {
					success, reason = ev.Result.Success, ev.Result.Reason
				}
				errMsg := ""
				if !success {
					errMsg = reason
				}
				_ = sched.Complete(ctx, job.ID, success, errMsg)
			}
		}
	}
}

func runFollower(ctx context.Context, logger zerolog.Logger, cfg config.Config) {
	exec := executor.New(executor.Options{OutputRoot: cfg.OutputDir})
	hostname, _ := os.Hostname()
	client := follower.NewClient(hostname, cfg.LeaderURL, exec)
	coord := &coordinator.Coordinator{Mode: coordinator.ModeFollower, Follower: client, DrainTimeout: coordinator.DefaultDrainTimeout}
	if err := coord.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("follower coordinator exited with error")
	}
}
