package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ExchangeMCP-Chain/internal/config"
	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/internal/mcpserver"
	"ExchangeMCP-Chain/internal/observability/metrics"
	"ExchangeMCP-Chain/internal/web3/provider"
	"ExchangeMCP-Chain/pkg/logger"
)

// main 是 ExchangeMCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("exchange-mcpd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath(os.Getenv("EXCHANGE_MCP_CONFIG")))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	daemonLog := logger.Named("daemon")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	// 链上下文初始化失败时直接退出，不注册任何工具。
	session, err := provider.Connect(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer session.Close()

	history, err := buildHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer history.Close()

	publisher, err := buildPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	signerLock, err := buildSignerLock(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer signerLock.Close()

	dispatcher, err := buildDispatcher(cfg.Alerting)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	svc, err := exchange.NewService(session.Ledger, exchange.WithObservers(observers(history, publisher, registry, dispatcher)...))
	if err != nil {
		return err
	}

	server, err := mcpserver.New(mcpserver.Config{
		Name:      cfg.Server.Name,
		Version:   cfg.Server.Version,
		Transport: cfg.Server.Transport,
		Address:   cfg.Server.Address,
		LockWait:  cfg.Lock.Wait(),
		Auth: mcpserver.AuthConfig{
			Tokens:    cfg.Server.AuthTokens,
			JWTSecret: cfg.Server.JWTSecret,
			Issuer:    cfg.Server.JWTIssuer,
		},
	}, mcpserver.Deps{
		Exchange: svc,
		Lock:     signerLock,
		History:  history,
		Metrics:  registry,
	})
	if err != nil {
		return err
	}

	daemonLog.Info("服务初始化完成",
		slog.String("deployment", session.Deployment),
		slog.String("signer", svc.Signer().Hex()),
		slog.String("pool", svc.PoolAddress().Hex()),
		slog.String("history", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("signer_lock", cfg.Lock.Driver),
	)

	// MCP 服务退出（例如 stdio 对端关闭）时一并停止指标服务。
	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()
	if cfg.Metrics.Address != "" {
		group.Go(func() error {
			if err := registry.Serve(runCtx, cfg.Metrics.Address); err != nil && runCtx.Err() == nil {
				return fmt.Errorf("指标服务异常退出: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer cancel()
		return server.Run(runCtx)
	})
	return group.Wait()
}
