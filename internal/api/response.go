package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"Manof-Chain/internal/agent"
	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/observability/alerting"
	"Manof-Chain/internal/observability/metrics"
)

// maxRequestBytes 限制 JSON 请求体大小。
const maxRequestBytes = 1 << 20

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAllocation, agent.CodeInvalidTransition:
		return http.StatusConflict
	case xerrors.CodeInvalidArgument, agent.CodeInvalidAnalysisParams, agent.CodeInvalidSecurityLevel, agent.CodeOptimizationFailed:
		return http.StatusBadRequest
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	}
	writeJSON(w, statusOf(code), errorResponse{Error: body})
}

// fail 记录操作结果、触发告警并写出错误响应。
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, op string, agentAddr common.Address, err error) {
	metrics.ObserveOperation(op, string(xerrors.CodeOf(err)))
	if s.alerts != nil {
		caller, _ := identity.CallerFromContext(ctx)
		if event, ok := alerting.FromError(op, agentAddr.Hex(), caller.Hex(), err); ok {
			if notifyErr := s.alerts.Notify(ctx, event); notifyErr != nil {
				s.log.Warn("发送告警失败", "operation", op, "error", notifyErr)
			}
		}
	}
	writeError(w, err)
}

func (s *Server) succeed(w http.ResponseWriter, op string, status int, v any) {
	metrics.ObserveOperation(op, "")
	writeJSON(w, status, v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "地址格式错误: "+raw)
	}
	return common.HexToAddress(raw), nil
}
