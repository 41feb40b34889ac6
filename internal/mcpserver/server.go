package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/internal/lock"
	"ExchangeMCP-Chain/internal/observability/metrics"
	"ExchangeMCP-Chain/internal/storage/mysql"
	"ExchangeMCP-Chain/pkg/logger"
)

// 支持的传输方式
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// defaultLockWait 是写操作等待签名者锁的默认上限。
const defaultLockWait = 2 * time.Minute

// Exchange 是 MCP 层依赖的业务能力，由 exchange.Service 实现。
type Exchange interface {
	Signer() common.Address
	AddLiquidity(ctx context.Context, amountOfToken, ethAmount string) exchange.Outcome
	TokenToEthSwap(ctx context.Context, tokensToSwap, minEthToReceive string) exchange.Outcome
	LiquidityState(ctx context.Context) exchange.Outcome
}

// History 提供最近的工作流结果。
type History interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.OutcomeRecord, error)
}

// Config 描述 MCP 服务的元信息与传输方式。
type Config struct {
	Name         string
	Version      string
	Transport    string
	Address      string
	LockWait     time.Duration
	HistoryLimit int
	Auth         AuthConfig
}

// Deps 汇总 MCP 层的依赖。Lock 为空时使用进程内锁，History 与 Metrics 可为空。
type Deps struct {
	Exchange Exchange
	Lock     lock.SignerLock
	History  History
	Metrics  *metrics.Registry
}

// Server 持有注册完毕的 MCP 服务。
type Server struct {
	cfg    Config
	deps   Deps
	mcp    *mcp.Server
	logger *slog.Logger
	newID  func() string
	signer string
}

// New 注册全部工具与资源。Exchange 必须已完成初始化。
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Exchange == nil {
		return nil, errors.New("exchange 服务未初始化")
	}
	if deps.Lock == nil {
		deps.Lock = lock.NewMemoryLock()
	}
	if cfg.Name == "" {
		cfg.Name = "ExchangeMCP"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		logger: logger.Named("mcp"),
		newID:  newRequestID,
		signer: deps.Exchange.Signer().Hex(),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run 在配置的传输方式上提供服务，阻塞直到 ctx 结束或传输断开。
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case "", TransportStdio:
		s.logger.Info("MCP 服务已启动", slog.String("transport", TransportStdio), slog.String("signer", s.signer))
		return s.serveWithTransport(ctx, &mcp.StdioTransport{})
	case TransportHTTP:
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("不支持的传输方式: %s", s.cfg.Transport)
	}
}

func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	err := s.mcp.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("MCP 服务异常退出: %w", err)
	}
	return nil
}

// Handler 返回 HTTP 传输使用的路由：/mcp 为 streamable HTTP 端点，配置凭证时需要 Bearer 认证。
func (s *Server) Handler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	endpoint := authMiddleware(s.cfg.Auth, streamable)

	mux := http.NewServeMux()
	if s.deps.Metrics != nil {
		endpoint = s.deps.Metrics.Middleware("mcp", endpoint)
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
	mux.Handle("/mcp", endpoint)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveHTTP(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("MCP 服务已启动", slog.String("transport", TransportHTTP), slog.String("address", s.cfg.Address), slog.String("signer", s.signer))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
