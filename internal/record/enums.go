package record

import (
	"fmt"
	"strings"
)

// SecurityLevel 是 Agent 配置中的安全等级。
type SecurityLevel uint8

const (
	SecurityLow SecurityLevel = iota
	SecurityMedium
	SecurityHigh
	SecurityMaximum
)

var securityLevelNames = []string{"low", "medium", "high", "maximum"}

// Valid 判断枚举值是否合法。
func (l SecurityLevel) Valid() bool { return int(l) < len(securityLevelNames) }

func (l SecurityLevel) String() string { return enumName(securityLevelNames, uint8(l)) }

// MarshalText 以名称形式输出。
func (l SecurityLevel) MarshalText() ([]byte, error) { return marshalEnum(securityLevelNames, uint8(l)) }

// UnmarshalText 解析名称。
func (l *SecurityLevel) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(securityLevelNames, "security level", text)
	*l = SecurityLevel(v)
	return err
}

// RiskLevel 是安全上报的风险等级。
type RiskLevel uint8

const (
	RiskSafe RiskLevel = iota
	RiskWarning
	RiskCritical
)

var riskLevelNames = []string{"safe", "warning", "critical"}

// Valid 判断枚举值是否合法。
func (r RiskLevel) Valid() bool { return int(r) < len(riskLevelNames) }

func (r RiskLevel) String() string { return enumName(riskLevelNames, uint8(r)) }

// MarshalText 以名称形式输出。
func (r RiskLevel) MarshalText() ([]byte, error) { return marshalEnum(riskLevelNames, uint8(r)) }

// UnmarshalText 解析名称。
func (r *RiskLevel) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(riskLevelNames, "risk level", text)
	*r = RiskLevel(v)
	return err
}

// AnalysisStatus 是合约分析的状态机：InProgress 只能迁移到 Completed 或 Failed。
type AnalysisStatus uint8

const (
	AnalysisInProgress AnalysisStatus = iota
	AnalysisCompleted
	AnalysisFailed
)

var analysisStatusNames = []string{"in_progress", "completed", "failed"}

// Valid 判断枚举值是否合法。
func (s AnalysisStatus) Valid() bool { return int(s) < len(analysisStatusNames) }

func (s AnalysisStatus) String() string { return enumName(analysisStatusNames, uint8(s)) }

// Terminal 表示状态不可再迁移。
func (s AnalysisStatus) Terminal() bool { return s == AnalysisCompleted || s == AnalysisFailed }

// CanTransition 判断是否允许迁移到目标状态。
func (s AnalysisStatus) CanTransition(to AnalysisStatus) bool {
	return !s.Terminal() && to.Terminal()
}

// MarshalText 以名称形式输出。
func (s AnalysisStatus) MarshalText() ([]byte, error) {
	return marshalEnum(analysisStatusNames, uint8(s))
}

// UnmarshalText 解析名称。
func (s *AnalysisStatus) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(analysisStatusNames, "analysis status", text)
	*s = AnalysisStatus(v)
	return err
}

// OptimizationStatus 是交易优化的状态机：Processing 只能迁移到 Optimized 或 Failed。
type OptimizationStatus uint8

const (
	OptimizationProcessing OptimizationStatus = iota
	OptimizationOptimized
	OptimizationFailed
)

var optimizationStatusNames = []string{"processing", "optimized", "failed"}

// Valid 判断枚举值是否合法。
func (s OptimizationStatus) Valid() bool { return int(s) < len(optimizationStatusNames) }

func (s OptimizationStatus) String() string { return enumName(optimizationStatusNames, uint8(s)) }

// Terminal 表示状态不可再迁移。
func (s OptimizationStatus) Terminal() bool {
	return s == OptimizationOptimized || s == OptimizationFailed
}

// CanTransition 判断是否允许迁移到目标状态。
func (s OptimizationStatus) CanTransition(to OptimizationStatus) bool {
	return !s.Terminal() && to.Terminal()
}

// MarshalText 以名称形式输出。
func (s OptimizationStatus) MarshalText() ([]byte, error) {
	return marshalEnum(optimizationStatusNames, uint8(s))
}

// UnmarshalText 解析名称。
func (s *OptimizationStatus) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(optimizationStatusNames, "optimization status", text)
	*s = OptimizationStatus(v)
	return err
}

func enumName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("unknown(%d)", v)
}

func marshalEnum(names []string, v uint8) ([]byte, error) {
	if int(v) >= len(names) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEnum, v)
	}
	return []byte(names[v]), nil
}

func unmarshalEnum(names []string, label string, text []byte) (uint8, error) {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for idx, name := range names {
		if name == value {
			return uint8(idx), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown %s %q", ErrInvalidEnum, label, string(text))
}
