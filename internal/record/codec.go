package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/near/borsh-go"
)

const (
	// DiscriminatorSize 是每条记录前缀的类型判别字节数。
	DiscriminatorSize = 8
	// LengthPrefixSize 是判别前缀之后记录体长度字段的字节数。
	LengthPrefixSize = 4
	// HeaderSize 是记录体之前的固定头部长度。
	HeaderSize = DiscriminatorSize + LengthPrefixSize

	// MaxNameLength 是 Agent 名称的最大字节数。
	MaxNameLength = 64
	// MaxOptimizationParams 是优化参数表的最大条目数。
	MaxOptimizationParams = 16
	// MaxParamKeyLength 是优化参数名的最大字节数。
	MaxParamKeyLength = 32
	// MaxInstructionBytes 是交易指令载荷的最大字节数。
	MaxInstructionBytes = 1024
)

var (
	ErrUnknownKind          = errors.New("unknown record kind")
	ErrUnknownDiscriminator = errors.New("unknown record discriminator")
	ErrInvalidEnum          = errors.New("invalid enum value")
	ErrShortBuffer          = errors.New("record data truncated")
	ErrTrailingData         = errors.New("unexpected trailing data")
	ErrTooLarge             = errors.New("record exceeds its reserved space")
)

var discriminators = func() map[Kind][DiscriminatorSize]byte {
	out := make(map[Kind][DiscriminatorSize]byte, 4)
	for _, kind := range Kinds() {
		var disc [DiscriminatorSize]byte
		copy(disc[:], crypto.Keccak256([]byte("account:"+string(kind))))
		out[kind] = disc
	}
	return out
}()

// Discriminator 返回记录类型的 8 字节判别前缀。
func Discriminator(kind Kind) [DiscriminatorSize]byte {
	return discriminators[kind]
}

// Space 返回记录类型编码后的最大字节数（含头部），创建时按此大小预留空间。
// 记录体为 Borsh 编码，各字段上限见 Max* 常量。
func Space(kind Kind) int {
	const (
		address = common.AddressLength
		u8      = 1
		u32     = 4
		u64     = 8
	)
	switch kind {
	case KindAgent:
		config := u64 + u32 + MaxOptimizationParams*(u32+MaxParamKeyLength+u64) + u8
		metrics := 3 * u64
		return HeaderSize + address + (u32 + MaxNameLength) + config + u8 + metrics
	case KindAnalysis:
		return HeaderSize + address + address + u64 + (u8 + u8 + u8) + u8
	case KindOptimization:
		tx := u32 + MaxInstructionBytes + u64 + u8
		return HeaderSize + tx + address + u64 + u8
	case KindSecurity:
		return HeaderSize + address + (u64 + u8 + u64) + u64
	default:
		return 0
	}
}

// Marshal 编码记录：判别前缀 + 小端 u32 记录体长度 + Borsh 记录体。结果不超过 Space(kind)。
func Marshal(r Record) ([]byte, error) {
	if r == nil {
		return nil, ErrUnknownKind
	}
	kind := r.Kind()
	space := Space(kind)
	if space == 0 {
		return nil, ErrUnknownKind
	}
	wire, err := r.toWire()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	body, err := borsh.Serialize(wire)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	if HeaderSize+len(body) > space {
		return nil, fmt.Errorf("encode %s: %w", kind, ErrTooLarge)
	}
	disc := Discriminator(kind)
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, disc[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

// Unmarshal 将数据解码到记录中。记录体之后允许存在预留空间的零填充。
func Unmarshal(data []byte, r Record) error {
	kind, err := KindOf(data)
	if err != nil {
		return err
	}
	if kind != r.Kind() {
		return fmt.Errorf("%w: want %s, got %s", ErrUnknownDiscriminator, r.Kind(), kind)
	}
	if len(data) < HeaderSize {
		return fmt.Errorf("decode %s: %w", kind, ErrShortBuffer)
	}
	n := int(binary.LittleEndian.Uint32(data[DiscriminatorSize:HeaderSize]))
	if n > Space(kind)-HeaderSize {
		return fmt.Errorf("decode %s: %w: body length %d", kind, ErrTooLarge, n)
	}
	if HeaderSize+n > len(data) {
		return fmt.Errorf("decode %s: %w", kind, ErrShortBuffer)
	}
	for _, b := range data[HeaderSize+n:] {
		if b != 0 {
			return fmt.Errorf("decode %s: %w", kind, ErrTrailingData)
		}
	}
	if err := r.fromWire(data[HeaderSize : HeaderSize+n]); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

// Decode 根据判别前缀识别类型并解码。
func Decode(data []byte) (Record, error) {
	kind, err := KindOf(data)
	if err != nil {
		return nil, err
	}
	r, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

// KindOf 读取判别前缀并返回记录类型。
func KindOf(data []byte) (Kind, error) {
	if len(data) < DiscriminatorSize {
		return "", ErrShortBuffer
	}
	for kind, disc := range discriminators {
		if string(data[:DiscriminatorSize]) == string(disc[:]) {
			return kind, nil
		}
	}
	return "", ErrUnknownDiscriminator
}

func deserialize(body []byte, v any) error {
	if err := borsh.Deserialize(v, body); err != nil {
		return fmt.Errorf("%w: %v", ErrShortBuffer, err)
	}
	return nil
}

func checkLength(field string, n, limit int) error {
	if n > limit {
		return fmt.Errorf("%w: %s length %d > %d", ErrTooLarge, field, n, limit)
	}
	return nil
}

func checkEnum(field string, v uint8, valid bool) error {
	if !valid {
		return fmt.Errorf("%w: %s=%d", ErrInvalidEnum, field, v)
	}
	return nil
}

// 以下 wire 类型只包含 Borsh 原生类型，字段顺序即字节布局。

type paramWire struct {
	Key   string
	Value uint64
}

type agentWire struct {
	Owner              [common.AddressLength]byte
	Name               string
	AnalysisThreshold  uint64
	OptimizationParams []paramWire
	SecurityLevel      uint8
	IsActive           bool
	TotalAnalyses      uint64
	TotalOptimizations uint64
	ThreatsPrevented   uint64
}

func (a *Agent) toWire() (any, error) {
	if err := checkLength("name", len(a.Name), MaxNameLength); err != nil {
		return nil, err
	}
	params, err := a.Config.OptimizationParams.toWire()
	if err != nil {
		return nil, err
	}
	if err := checkEnum("security_level", uint8(a.Config.SecurityLevel), a.Config.SecurityLevel.Valid()); err != nil {
		return nil, err
	}
	return agentWire{
		Owner:              a.Owner,
		Name:               a.Name,
		AnalysisThreshold:  a.Config.AnalysisThreshold,
		OptimizationParams: params,
		SecurityLevel:      uint8(a.Config.SecurityLevel),
		IsActive:           a.IsActive,
		TotalAnalyses:      a.Metrics.TotalAnalyses,
		TotalOptimizations: a.Metrics.TotalOptimizations,
		ThreatsPrevented:   a.Metrics.ThreatsPrevented,
	}, nil
}

func (a *Agent) fromWire(body []byte) error {
	var w agentWire
	if err := deserialize(body, &w); err != nil {
		return err
	}
	if err := checkLength("name", len(w.Name), MaxNameLength); err != nil {
		return err
	}
	params, err := paramsFromWire(w.OptimizationParams)
	if err != nil {
		return err
	}
	level := SecurityLevel(w.SecurityLevel)
	if err := checkEnum("security_level", w.SecurityLevel, level.Valid()); err != nil {
		return err
	}
	*a = Agent{
		Owner: w.Owner,
		Name:  w.Name,
		Config: AgentConfig{
			AnalysisThreshold:  w.AnalysisThreshold,
			OptimizationParams: params,
			SecurityLevel:      level,
		},
		IsActive: w.IsActive,
		Metrics: PerformanceMetrics{
			TotalAnalyses:      w.TotalAnalyses,
			TotalOptimizations: w.TotalOptimizations,
			ThreatsPrevented:   w.ThreatsPrevented,
		},
	}
	return nil
}

// toWire 按键排序输出参数，与 Borsh 对有序映射的编码一致。
func (p OptimizationParams) toWire() ([]paramWire, error) {
	if len(p) > MaxOptimizationParams {
		return nil, fmt.Errorf("%w: %d optimization params > %d", ErrTooLarge, len(p), MaxOptimizationParams)
	}
	out := make([]paramWire, 0, len(p))
	for _, key := range p.Keys() {
		if err := checkLength("optimization param", len(key), MaxParamKeyLength); err != nil {
			return nil, err
		}
		out = append(out, paramWire{Key: key, Value: p[key]})
	}
	return out, nil
}

// paramsFromWire 总是返回非 nil 的参数表。
func paramsFromWire(in []paramWire) (OptimizationParams, error) {
	if len(in) > MaxOptimizationParams {
		return nil, fmt.Errorf("%w: %d optimization params", ErrTooLarge, len(in))
	}
	out := make(OptimizationParams, len(in))
	for _, param := range in {
		if err := checkLength("optimization param", len(param.Key), MaxParamKeyLength); err != nil {
			return nil, err
		}
		out[param.Key] = param.Value
	}
	return out, nil
}

type analysisWire struct {
	Contract        [common.AddressLength]byte
	Agent           [common.AddressLength]byte
	Timestamp       int64
	Depth           uint8
	IncludeSecurity bool
	OptimizeGas     bool
	Status          uint8
}

func (a *ContractAnalysis) toWire() (any, error) {
	if err := checkEnum("status", uint8(a.Status), a.Status.Valid()); err != nil {
		return nil, err
	}
	return analysisWire{
		Contract:        a.Contract,
		Agent:           a.Agent,
		Timestamp:       a.Timestamp,
		Depth:           a.Params.Depth,
		IncludeSecurity: a.Params.IncludeSecurity,
		OptimizeGas:     a.Params.OptimizeGas,
		Status:          uint8(a.Status),
	}, nil
}

func (a *ContractAnalysis) fromWire(body []byte) error {
	var w analysisWire
	if err := deserialize(body, &w); err != nil {
		return err
	}
	status := AnalysisStatus(w.Status)
	if err := checkEnum("status", w.Status, status.Valid()); err != nil {
		return err
	}
	*a = ContractAnalysis{
		Contract:  w.Contract,
		Agent:     w.Agent,
		Timestamp: w.Timestamp,
		Params: AnalysisParams{
			Depth:           w.Depth,
			IncludeSecurity: w.IncludeSecurity,
			OptimizeGas:     w.OptimizeGas,
		},
		Status: status,
	}
	return nil
}

type optimizationWire struct {
	Instructions []byte
	GasLimit     uint64
	Priority     uint8
	Agent        [common.AddressLength]byte
	Timestamp    int64
	Status       uint8
}

func (o *TransactionOptimization) toWire() (any, error) {
	if err := checkLength("instructions", len(o.Transaction.Instructions), MaxInstructionBytes); err != nil {
		return nil, err
	}
	if err := checkEnum("status", uint8(o.Status), o.Status.Valid()); err != nil {
		return nil, err
	}
	return optimizationWire{
		Instructions: []byte(o.Transaction.Instructions),
		GasLimit:     o.Transaction.GasLimit,
		Priority:     o.Transaction.Priority,
		Agent:        o.Agent,
		Timestamp:    o.Timestamp,
		Status:       uint8(o.Status),
	}, nil
}

func (o *TransactionOptimization) fromWire(body []byte) error {
	var w optimizationWire
	if err := deserialize(body, &w); err != nil {
		return err
	}
	if err := checkLength("instructions", len(w.Instructions), MaxInstructionBytes); err != nil {
		return err
	}
	status := OptimizationStatus(w.Status)
	if err := checkEnum("status", w.Status, status.Valid()); err != nil {
		return err
	}
	var instructions []byte
	if len(w.Instructions) > 0 {
		instructions = append(instructions, w.Instructions...)
	}
	*o = TransactionOptimization{
		Transaction: TransactionData{
			Instructions: instructions,
			GasLimit:     w.GasLimit,
			Priority:     w.Priority,
		},
		Agent:     w.Agent,
		Timestamp: w.Timestamp,
		Status:    status,
	}
	return nil
}

type securityWire struct {
	Agent              [common.AddressLength]byte
	ThreatsDetected    uint64
	RiskLevel          uint8
	VulnerabilityCount uint64
	LastUpdate         int64
}

func (s *SecurityMonitor) toWire() (any, error) {
	if err := checkEnum("risk_level", uint8(s.Data.RiskLevel), s.Data.RiskLevel.Valid()); err != nil {
		return nil, err
	}
	return securityWire{
		Agent:              s.Agent,
		ThreatsDetected:    s.Data.ThreatsDetected,
		RiskLevel:          uint8(s.Data.RiskLevel),
		VulnerabilityCount: s.Data.VulnerabilityCount,
		LastUpdate:         s.LastUpdate,
	}, nil
}

func (s *SecurityMonitor) fromWire(body []byte) error {
	var w securityWire
	if err := deserialize(body, &w); err != nil {
		return err
	}
	level := RiskLevel(w.RiskLevel)
	if err := checkEnum("risk_level", w.RiskLevel, level.Valid()); err != nil {
		return err
	}
	*s = SecurityMonitor{
		Agent: w.Agent,
		Data: SecurityData{
			ThreatsDetected:    w.ThreatsDetected,
			RiskLevel:          level,
			VulnerabilityCount: w.VulnerabilityCount,
		},
		LastUpdate: w.LastUpdate,
	}
	return nil
}
