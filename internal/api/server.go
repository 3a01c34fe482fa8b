package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Manof-Chain/internal/agent"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/observability/alerting"
	"Manof-Chain/internal/observability/metrics"
	"Manof-Chain/pkg/logger"
)

// Server 负责暴露 Agent 账本的 REST 接口。
type Server struct {
	addr   string
	svc    *agent.Service
	auth   identity.Authenticator
	alerts alerting.Dispatcher
	log    *slog.Logger
	audit  *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAuthenticator 设置请求认证方式，为空时不做认证。
func WithAuthenticator(a identity.Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithAlerts 设置操作失败时的告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(s *Server) {
		s.alerts = d
	}
}

// WithLogger 设置运行日志与审计日志。
func WithLogger(log, audit *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
		if audit != nil {
			s.audit = audit
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *agent.Service, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		svc:  svc,
		auth: identity.NewSignatureAuthenticator(identity.DefaultSignatureWindow),
		log:  logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.audit == nil {
		s.audit = logger.Audit()
	}
	return s
}

// Handler 返回包含认证与指标中间件的完整路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/agents", "agents.create", s.handleCreateAgent)
	s.route(mux, "GET /api/v1/agents/{address}", "agents.get", s.handleGetAgent)
	s.route(mux, "POST /api/v1/agents/{address}/analyses", "analyses.create", s.handleAnalyzeContract)
	s.route(mux, "POST /api/v1/agents/{address}/optimizations", "optimizations.create", s.handleOptimizeTransaction)
	s.route(mux, "POST /api/v1/agents/{address}/security", "security.create", s.handleUpdateSecurity)
	s.route(mux, "GET /api/v1/agents/{address}/security/latest", "security.latest", s.handleLatestSecurity)
	s.route(mux, "GET /api/v1/analyses/{address}", "analyses.get", s.handleGetAnalysis)
	s.route(mux, "POST /api/v1/analyses/{address}/complete", "analyses.complete", s.handleCompleteAnalysis)
	s.route(mux, "POST /api/v1/analyses/{address}/fail", "analyses.fail", s.handleFailAnalysis)
	s.route(mux, "GET /api/v1/optimizations/{address}", "optimizations.get", s.handleGetOptimization)
	s.route(mux, "POST /api/v1/optimizations/{address}/complete", "optimizations.complete", s.handleCompleteOptimization)
	s.route(mux, "POST /api/v1/optimizations/{address}/fail", "optimizations.fail", s.handleFailOptimization)
	s.route(mux, "GET /api/v1/security/{address}", "security.get", s.handleGetSecurity)
	s.route(mux, "GET /api/v1/payers/{address}/balance", "payers.balance", s.handleBalance)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return identity.Middleware(identity.MiddlewareConfig{
		Authenticator: s.auth,
		Public:        map[string]bool{http.MethodGet: true, http.MethodHead: true},
		Audit:         s.audit,
	})(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, metrics.Middleware(name, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("API 服务已启动", "address", s.addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
