package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wabridge/wabridge/internal/address"
	"github.com/wabridge/wabridge/internal/bridge"
	"github.com/wabridge/wabridge/internal/chat"
	"github.com/wabridge/wabridge/internal/config"
	"github.com/wabridge/wabridge/internal/cron"
	"github.com/wabridge/wabridge/internal/events"
	"github.com/wabridge/wabridge/internal/gateway"
	"github.com/wabridge/wabridge/internal/session"
	"github.com/wabridge/wabridge/internal/transport/wsbridge"
)

const (
	eventBuffer      = 64
	dedupPruneEvery  = "@every 1m"
	jobStateResync   = "state-resync"
	jobDedupPrune    = "dedup-prune"
	bridgeDataEnvKey = "WABRIDGE_DATA"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the session bridge and gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func loadConfig() (*config.Config, error) {
	path := config.Path()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	slog.Warn("config not found, using built-in defaults", "path", path)
	return config.LoadFromExample(config.Home())
}

func setupLogging(cfg config.LogConfig, level *slog.LevelVar) {
	level.Set(cfg.SlogLevel())
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	level := new(slog.LevelVar)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, level)
	config.Set(cfg)
	slog.Info("wabridge starting", "version", version, "home", config.Home(), "config", config.Path())

	for _, dir := range []string{config.DataDir(), config.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("failed to create directory", "dir", dir, "error", err)
		}
	}

	bus := events.NewBroadcaster(eventBuffer)
	conversations := chat.NewAggregator(address.Formatter{CountryCode: cfg.Locale.CountryCode})

	encoder := session.QREncoder{Size: cfg.Session.QRSize}
	if cfg.Session.PrintQR {
		encoder.Terminal = os.Stdout
	}
	machine := session.NewMachine(session.Config{
		ReconnectDelay: cfg.Session.ReconnectDelay,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		SendTimeout:    cfg.Session.SendTimeout,
		DefaultDomain:  cfg.Session.DefaultDomain,
	}, wsbridge.New(cfg.Transport.URL, cfg.Transport.Token), bus, conversations, encoder)

	srv := gateway.NewServer(cfg, machine, conversations, bus)

	if cfg.Bridge.Enabled {
		manager := bridge.NewManager(bridge.Config{
			Enabled: true,
			Dir:     cfg.Bridge.Path,
			Listen:  cfg.Bridge.Listen,
			Token:   cfg.Transport.Token,
			Env:     bridgeEnv(cfg.Bridge.Env),
		})
		srv.Bridge = manager
		if err := manager.Start(ctx); err != nil {
			// the machine keeps retrying, so an operator-started bridge still works
			slog.Error("bridge failed to start", "error", err)
		}
		defer manager.Stop()
	}

	sched := cron.NewScheduler()
	if err := scheduleJobs(sched, cfg, machine, srv); err != nil {
		return err
	}
	srv.Jobs = sched
	sched.Start()
	defer sched.Stop()

	config.RegisterOnReload(func(c *config.Config) {
		level.Set(c.Log.SlogLevel())
		machine.SetReconnectDelay(c.Session.ReconnectDelay)
		conversations.SetFormatter(address.Formatter{CountryCode: c.Locale.CountryCode})
		srv.SetConfig(c)
		if err := scheduleJobs(sched, c, machine, srv); err != nil {
			slog.Warn("reschedule failed", "error", err)
		}
	})
	go config.Watch(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		machine.Run(ctx)
	}()

	err = srv.Start(ctx)
	cancel()
	wg.Wait()
	slog.Info("wabridge stopped")
	return err
}

// scheduleJobs (re)registers the maintenance jobs for cfg. An empty resync
// schedule removes the resync job.
func scheduleJobs(sched *cron.Scheduler, cfg *config.Config, machine *session.Machine, srv *gateway.Server) error {
	if cfg.Gateway.ResyncSchedule == "" {
		sched.Remove(jobStateResync)
	} else if err := sched.Add(jobStateResync, cfg.Gateway.ResyncSchedule, func(ctx context.Context) error {
		machine.Resync()
		return nil
	}); err != nil {
		return err
	}
	return sched.Add(jobDedupPrune, dedupPruneEvery, func(ctx context.Context) error {
		if n := srv.Requests.Prune(); n > 0 {
			slog.Debug("pruned send request ids", "count", n)
		}
		return nil
	})
}

// bridgeEnv adds the data directory to the configured bridge env unless the
// config already sets it.
func bridgeEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+1)
	maps.Copy(out, env)
	if _, ok := out[bridgeDataEnvKey]; !ok {
		out[bridgeDataEnvKey] = config.DataDir()
	}
	return out
}
