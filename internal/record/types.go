package record

import (
	"encoding/json"
	"errors"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Kind 标识记录类型，同时决定其判别前缀与最大尺寸。
type Kind string

const (
	KindAgent        Kind = "Agent"
	KindAnalysis     Kind = "ContractAnalysis"
	KindOptimization Kind = "TransactionOptimization"
	KindSecurity     Kind = "SecurityMonitor"
)

// Kinds 返回所有支持的记录类型。
func Kinds() []Kind {
	return []Kind{KindAgent, KindAnalysis, KindOptimization, KindSecurity}
}

// ErrCounterOverflow 表示性能计数器已到达上限，继续累加会破坏单调性。
var ErrCounterOverflow = errors.New("performance counter overflow")

// Record 是所有可持久化记录的公共接口。
type Record interface {
	Kind() Kind
	toWire() (any, error)
	fromWire(body []byte) error
}

// Agent 描述一个自治智能体及其聚合计数器。
type Agent struct {
	Owner    common.Address     `json:"owner"`
	Name     string             `json:"name"`
	Config   AgentConfig        `json:"config"`
	IsActive bool               `json:"is_active"`
	Metrics  PerformanceMetrics `json:"performance_metrics"`
}

// Kind 实现 Record 接口。
func (*Agent) Kind() Kind { return KindAgent }

// Clone 返回深拷贝。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Config.OptimizationParams = a.Config.OptimizationParams.Clone()
	return &clone
}

// AgentConfig 是 Agent 的结构化配置，创建时原样保存。
type AgentConfig struct {
	AnalysisThreshold  uint64             `json:"analysis_threshold" yaml:"analysis_threshold"`
	OptimizationParams OptimizationParams `json:"optimization_params" yaml:"optimization_params"`
	SecurityLevel      SecurityLevel      `json:"security_level" yaml:"security_level"`
}

// DefaultAgentConfig 返回默认配置，安全等级为 Medium。
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{OptimizationParams: OptimizationParams{}, SecurityLevel: SecurityMedium}
}

// UnmarshalJSON 以 DefaultAgentConfig 为起点解码，缺省字段保留默认值。
func (c *AgentConfig) UnmarshalJSON(data []byte) error {
	type plain AgentConfig
	decoded := plain(DefaultAgentConfig())
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = AgentConfig(decoded)
	c.OptimizationParams = c.OptimizationParams.Clone()
	return nil
}

// UnmarshalYAML 与 UnmarshalJSON 相同，以默认配置为起点。
func (c *AgentConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain AgentConfig
	decoded := plain(DefaultAgentConfig())
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*c = AgentConfig(decoded)
	c.OptimizationParams = c.OptimizationParams.Clone()
	return nil
}

// OptimizationParams 将优化参数名映射到数值。键唯一，不保证遍历顺序；
// 编码时按键排序以保证字节确定。
type OptimizationParams map[string]uint64

// Get 返回指定参数。
func (p OptimizationParams) Get(name string) (uint64, bool) {
	value, ok := p[name]
	return value, ok
}

// Keys 返回排序后的参数名。
func (p OptimizationParams) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone 复制参数表。结果总是非 nil，与解码后的记录保持一致。
func (p OptimizationParams) Clone() OptimizationParams {
	clone := make(OptimizationParams, len(p))
	for key, value := range p {
		clone[key] = value
	}
	return clone
}

// PerformanceMetrics 聚合了 Agent 的运行统计，只增不减。
type PerformanceMetrics struct {
	TotalAnalyses      uint64 `json:"total_analyses"`
	TotalOptimizations uint64 `json:"total_optimizations"`
	ThreatsPrevented   uint64 `json:"threats_prevented"`
}

// RecordAnalysis 将分析计数加一。
func (m *PerformanceMetrics) RecordAnalysis() error {
	return increment(&m.TotalAnalyses, 1)
}

// RecordOptimization 将优化计数加一。
func (m *PerformanceMetrics) RecordOptimization() error {
	return increment(&m.TotalOptimizations, 1)
}

// RecordThreats 按检测到的威胁数累加 threats_prevented。
// 字段名称为 "prevented"，但累加依据是 "detected" 数量。
func (m *PerformanceMetrics) RecordThreats(detected uint64) error {
	if detected == 0 {
		return nil
	}
	return increment(&m.ThreatsPrevented, detected)
}

func increment(counter *uint64, delta uint64) error {
	if *counter > math.MaxUint64-delta {
		return ErrCounterOverflow
	}
	*counter += delta
	return nil
}

// ContractAnalysis 记录一次合约分析请求。
type ContractAnalysis struct {
	Contract  common.Address `json:"contract"`
	Agent     common.Address `json:"agent"`
	Timestamp int64          `json:"timestamp"`
	Params    AnalysisParams `json:"params"`
	Status    AnalysisStatus `json:"status"`
}

// Kind 实现 Record 接口。
func (*ContractAnalysis) Kind() Kind { return KindAnalysis }

// AnalysisParams 描述分析深度与开关。
type AnalysisParams struct {
	Depth           uint8 `json:"depth"`
	IncludeSecurity bool  `json:"include_security"`
	OptimizeGas     bool  `json:"optimize_gas"`
}

// TransactionOptimization 记录一次交易优化任务。
type TransactionOptimization struct {
	Transaction TransactionData    `json:"transaction"`
	Agent       common.Address     `json:"agent"`
	Timestamp   int64              `json:"timestamp"`
	Status      OptimizationStatus `json:"status"`
}

// Kind 实现 Record 接口。
func (*TransactionOptimization) Kind() Kind { return KindOptimization }

// TransactionData 是待优化交易的不透明指令与参数。JSON 中指令以 0x 前缀十六进制表示。
type TransactionData struct {
	Instructions hexutil.Bytes `json:"instructions"`
	GasLimit     uint64        `json:"gas_limit"`
	Priority     uint8         `json:"priority"`
}

// SecurityMonitor 记录一次安全上报。每次上报都是独立记录。
type SecurityMonitor struct {
	Agent      common.Address `json:"agent"`
	Data       SecurityData   `json:"data"`
	LastUpdate int64          `json:"last_update"`
}

// Kind 实现 Record 接口。
func (*SecurityMonitor) Kind() Kind { return KindSecurity }

// SecurityData 是安全上报的内容。
type SecurityData struct {
	ThreatsDetected    uint64    `json:"threats_detected"`
	RiskLevel          RiskLevel `json:"risk_level"`
	VulnerabilityCount uint64    `json:"vulnerability_count"`
}

// New 根据类型构造空记录，用于解码。
func New(kind Kind) (Record, error) {
	switch kind {
	case KindAgent:
		return &Agent{}, nil
	case KindAnalysis:
		return &ContractAnalysis{}, nil
	case KindOptimization:
		return &TransactionOptimization{}, nil
	case KindSecurity:
		return &SecurityMonitor{}, nil
	default:
		return nil, ErrUnknownKind
	}
}
