package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/suporttech/zapdesk/internal/admin"
	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/bus"
	"github.com/suporttech/zapdesk/internal/channel"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/handlers"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/router"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store/pg"
	"github.com/suporttech/zapdesk/internal/sweep"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the helpdesk engine",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		slog.Error("ZAPDESK_POSTGRES_DSN environment variable is not set")
		os.Exit(1)
	}

	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	menus := menu.NewRegistry(stores.Menus)
	if err := menus.Load(ctx); err != nil {
		slog.Warn("menu load failed, serving defaults", "error", err)
	}
	sessions := session.NewRegistry(stores.Sessions)

	b := bus.NewMessageBus()
	sender := channel.NewBusSender(b)

	queues := agenthandoff.NewQueues()
	handoff := &agenthandoff.Service{
		Queues:   queues,
		Sessions: sessions,
		Stores:   stores,
		Menus:    menus,
		Sender:   sender,
		Agents:   cfg.Agents,
	}
	h := &handlers.Handlers{
		Sessions: sessions,
		Handoff:  handoff,
		Planner: &handlers.StorePlanner{
			Schedulings: stores.Schedulings,
			Settings:    stores.Settings,
		},
		Files: cfg.Files,
	}
	handoff.StartRating = h.StartRating

	rtr := router.New(stores, sessions, menus, sender, handoff, h)

	bridge, err := channel.NewBridge(cfg.Bridge, b, stores.Users)
	if err != nil {
		slog.Error("invalid bridge configuration", "error", err)
		os.Exit(1)
	}
	dispatcher := channel.NewDispatcher(bridge, stores, cfg.Outbound)

	jobs := &sweep.Jobs{
		Stores:      stores,
		Sessions:    sessions,
		Sender:      sender,
		Handoff:     handoff,
		Handlers:    h,
		IdleTimeout: time.Duration(cfg.Sessions.IdleTimeoutMinutes) * time.Minute,
	}
	sched := sweep.NewScheduler()
	for _, reg := range []struct {
		name string
		expr string
		run  func(context.Context)
	}{
		{"reminders", cfg.Sweeps.Reminders, jobs.Reminders},
		{"queue_positions", cfg.Sweeps.QueuePositions, jobs.QueuePositions},
		{"idle_eviction", cfg.Sweeps.IdleEviction, jobs.EvictIdle},
		{"post_sale", cfg.Sweeps.PostSale, jobs.PostSale},
	} {
		if err := sched.Register(reg.name, reg.expr, reg.run); err != nil {
			slog.Error("invalid sweep expression", "job", reg.name, "error", err)
			os.Exit(1)
		}
	}

	adminSrv := admin.NewServer(cfg.Admin, stores, sessions, menus, queues)

	go rtr.Run(ctx, b)
	go dispatcher.Run(ctx, b)
	go sched.Start(ctx)
	go func() {
		if err := adminSrv.Start(ctx); err != nil {
			slog.Error("admin server stopped", "error", err)
			cancel()
		}
	}()

	if err := bridge.Start(ctx); err != nil {
		slog.Error("bridge start failed", "error", err)
		os.Exit(1)
	}

	slog.Info("zapdesk running", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	cancel()
	bridge.Stop()
	b.Close()
}
