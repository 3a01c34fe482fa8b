package agent

import (
	xerrors "Manof-Chain/internal/errors"
)

const (
	// CodeInvalidAnalysisParams 表示分析参数未通过校验。
	CodeInvalidAnalysisParams xerrors.Code = "INVALID_ANALYSIS_PARAMS"
	// CodeInvalidSecurityLevel 表示安全等级超出取值范围。
	CodeInvalidSecurityLevel xerrors.Code = "INVALID_SECURITY_LEVEL"
	// CodeOptimizationFailed 表示交易优化请求或结果不合法。
	CodeOptimizationFailed xerrors.Code = "OPTIMIZATION_FAILED"
	// CodeInvalidTransition 表示状态机不允许该迁移。
	CodeInvalidTransition xerrors.Code = "INVALID_TRANSITION"
)

func init() {
	xerrors.Register(CodeInvalidAnalysisParams, xerrors.Attributes{
		Message:  "invalid analysis parameters",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidSecurityLevel, xerrors.Attributes{
		Message:  "invalid security level",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOptimizationFailed, xerrors.Attributes{
		Message:  "transaction optimization failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidTransition, xerrors.Attributes{
		Message:  "status transition not allowed",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	// ErrAgentNotFound 表示引用的 Agent 不存在，调用方因此无法证明 owner 身份。
	ErrAgentNotFound = xerrors.New(xerrors.CodeUnauthorized, "agent does not exist")
	// ErrInvalidAnalysisParams 表示分析参数未通过校验。
	ErrInvalidAnalysisParams = xerrors.New(CodeInvalidAnalysisParams, "invalid analysis parameters")
	// ErrInvalidSecurityLevel 表示安全等级超出取值范围。
	ErrInvalidSecurityLevel = xerrors.New(CodeInvalidSecurityLevel, "invalid security level")
	// ErrOptimizationFailed 表示交易优化请求或结果不合法。
	ErrOptimizationFailed = xerrors.New(CodeOptimizationFailed, "transaction optimization failed")
	// ErrInvalidTransition 表示状态机不允许该迁移。
	ErrInvalidTransition = xerrors.New(CodeInvalidTransition, "status transition not allowed")
)
