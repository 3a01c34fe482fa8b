package events

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"Manof-Chain/internal/record"
)

// Operation 标识产生事件的操作。
type Operation string

const (
	OpAgentCreated          Operation = "agent.created"
	OpAnalysisRequested     Operation = "analysis.requested"
	OpAnalysisCompleted     Operation = "analysis.completed"
	OpAnalysisFailed        Operation = "analysis.failed"
	OpOptimizationRequested Operation = "optimization.requested"
	OpOptimizationCompleted Operation = "optimization.completed"
	OpOptimizationFailed    Operation = "optimization.failed"
	OpSecurityUpdated       Operation = "security.updated"
)

// Event 描述一次已提交的记录变更。Payload 为记录的定长编码。
type Event struct {
	ID        string         `cbor:"id"`
	Operation Operation      `cbor:"operation"`
	Kind      record.Kind    `cbor:"kind"`
	Address   common.Address `cbor:"address"`
	Agent     common.Address `cbor:"agent"`
	Caller    common.Address `cbor:"caller"`
	Timestamp int64          `cbor:"timestamp"`
	Payload   []byte         `cbor:"payload"`
}

// New 根据记录构造事件并分配唯一 ID。
func New(op Operation, addr, agent, caller common.Address, timestamp int64, rec record.Record) (Event, error) {
	payload, err := record.Marshal(rec)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Operation: op,
		Kind:      rec.Kind(),
		Address:   addr,
		Agent:     agent,
		Caller:    caller,
		Timestamp: timestamp,
		Payload:   payload,
	}, nil
}

// Record 解码事件携带的记录。
func (e Event) Record() (record.Record, error) {
	return record.Decode(e.Payload)
}

// Handler 处理收到的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscriber 负责消费事件，直到 ctx 结束或发生不可恢复的错误。
type Subscriber interface {
	Consume(ctx context.Context, handler Handler) error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode 使用确定性 CBOR 编码事件。
func Encode(event Event) ([]byte, error) {
	data, err := encMode.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("编码事件失败: %w", err)
	}
	return data, nil
}

// Decode 解码 CBOR 事件。
func Decode(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("解码事件失败: %w", err)
	}
	return event, nil
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher 接口。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (Nop) Close() error { return nil }
