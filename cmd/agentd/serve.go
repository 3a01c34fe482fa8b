package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Manof-Chain/internal/agent"
	"Manof-Chain/internal/api"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/observability/alerting"
	"Manof-Chain/internal/observability/metrics"
	"Manof-Chain/pkg/logger"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("agentd")

	store, err := buildStore(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	clk, closeClock, err := buildClock(ctx, cfg.Clock)
	if err != nil {
		return err
	}
	defer closeClock()

	bus, err := buildEvents(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.publisher.Close(); err != nil {
			log.Warn("关闭事件通道失败", "error", err)
		}
	}()

	idx, err := buildIndex(ctx, cfg.Index)
	if err != nil {
		return err
	}
	defer idx.Close()
	stopFeed := feedIndex(ctx, bus, idx)
	defer stopFeed()

	auth, err := identity.NewAuthenticator(identity.Mode(cfg.Auth.Mode), cfg.Auth.SignatureWindow())
	if err != nil {
		return err
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{Logger: logger.Audit()})
	svc := agent.New(store,
		agent.WithClock(clk),
		agent.WithPublisher(bus.publisher),
		agent.WithSecurityIndex(idx),
		agent.WithAlerts(alerts),
		agent.WithValidation(agent.Validation{
			Strict:           cfg.Validation.Strict,
			MaxAnalysisDepth: cfg.Validation.MaxAnalysisDepth,
		}),
	)

	server := api.NewServer(cfg.Server.Address, svc,
		api.WithAuthenticator(auth),
		api.WithAlerts(alerts),
	)

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务退出", "error", err)
			}
		}()
	}

	log.Info("agentd 启动",
		"address", cfg.Server.Address,
		"ledger", cfg.Ledger.Driver,
		"clock", cfg.Clock.Source,
		"events", cfg.Events.Driver,
		"auth", cfg.Auth.Mode,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("agentd 已退出")
	return nil
}
