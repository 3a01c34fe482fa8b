package identity

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "Manof-Chain/pkg/logger"
)

// maxBodyBytes 限制被签名请求体的大小。
const maxBodyBytes = 1 << 20

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// Authenticator 解析请求的调用方。为空时中间件直接放行。
	Authenticator Authenticator
	// Public 列出无需认证的 HTTP 方法，例如只读的 GET。
	Public map[string]bool
	// Audit 指定审计日志输出，为空时使用全局审计日志。
	Audit *slog.Logger
}

// Middleware 返回一个 HTTP 中间件，用于认证调用方并把地址写入上下文。
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	audit := cfg.Audit
	if audit == nil {
		audit = loggerpkg.Audit()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Authenticator == nil || cfg.Public[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			// 读取请求体以便校验签名，随后还原。
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil || len(body) > maxBodyBytes {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := cfg.Authenticator.Authenticate(r, body)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrInvalidCaller) {
					status = http.StatusBadRequest
				}
				http.Error(w, http.StatusText(status), status)
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithCaller(r.Context(), caller)))
			audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"caller", caller.Hex(),
			)
		})
	}
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
