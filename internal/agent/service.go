package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"Manof-Chain/internal/clock"
	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/index"
	"Manof-Chain/internal/ledger"
	"Manof-Chain/internal/observability/alerting"
	"Manof-Chain/internal/record"
	"Manof-Chain/pkg/logger"
)

// DefaultMaxAnalysisDepth 是严格校验模式下允许的最大分析深度。
const DefaultMaxAnalysisDepth uint8 = 16

// Validation 控制可选的业务校验。关闭时只检查编码边界与枚举取值。
type Validation struct {
	Strict           bool
	MaxAnalysisDepth uint8
}

// Service 是 Agent 账本的业务入口。
type Service struct {
	store      ledger.Store
	clock      clock.Clock
	authz      identity.Authorizer
	publisher  events.Publisher
	index      index.SecurityIndex
	alerts     alerting.Dispatcher
	validation Validation
	log        *slog.Logger
	audit      *slog.Logger
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithClock 设置记录时间戳的来源。
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAuthorizer 替换 owner 权限校验。
func WithAuthorizer(a identity.Authorizer) Option {
	return func(s *Service) {
		if a != nil {
			s.authz = a
		}
	}
}

// WithPublisher 设置提交后事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithSecurityIndex 设置用于查询最新安全上报的索引。
func WithSecurityIndex(idx index.SecurityIndex) Option {
	return func(s *Service) {
		s.index = idx
	}
}

// WithAlerts 设置事件投递失败时的告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = d
	}
}

// WithValidation 设置业务校验规则。
func WithValidation(v Validation) Option {
	return func(s *Service) {
		s.validation = v
	}
}

// WithLogger 设置运行日志与审计日志。
func WithLogger(log, audit *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
		if audit != nil {
			s.audit = audit
		}
	}
}

// New 创建 Service。
func New(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		clock:      clock.System{},
		authz:      identity.OwnerAuthorizer{},
		publisher:  events.Nop{},
		validation: Validation{MaxAnalysisDepth: DefaultMaxAnalysisDepth},
		log:        logger.Named("agent"),
		audit:      logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.validation.MaxAnalysisDepth == 0 {
		s.validation.MaxAnalysisDepth = DefaultMaxAnalysisDepth
	}
	return s
}

// Store 返回底层存储。
func (s *Service) Store() ledger.Store {
	return s.store
}

func (s *Service) now(ctx context.Context) (int64, error) {
	ts, err := s.clock.Now(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取时钟失败")
	}
	return ts, nil
}

// slotFor 返回请求指定的记录地址，为空时派生一个新地址。
func slotFor(requested common.Address) common.Address {
	if requested != (common.Address{}) {
		return requested
	}
	id := uuid.New()
	return common.BytesToAddress(crypto.Keccak256(id[:]))
}

// payer 返回为新记录付费的地址：优先使用调用方，否则使用 Agent 的 owner。
func payer(ctx context.Context, agent *record.Agent) common.Address {
	if caller, ok := identity.CallerFromContext(ctx); ok {
		return caller
	}
	return agent.Owner
}

// loadOwnedAgent 在事务内读取 Agent 并校验调用方为其 owner。
func (s *Service) loadOwnedAgent(ctx context.Context, tx ledger.Tx, addr common.Address) (*record.Agent, error) {
	var agent record.Agent
	if err := ledger.Get(ctx, tx, addr, &agent); err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return nil, xerrors.Wrap(xerrors.CodeUnauthorized, ErrAgentNotFound, "无法校验 owner 身份", xerrors.WithMetadata("agent", addr.Hex()))
		}
		return nil, err
	}
	if err := s.authz.AuthorizeOwner(ctx, agent.Owner); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "调用方不是 Agent 的 owner", xerrors.WithMetadata("agent", addr.Hex()))
	}
	return &agent, nil
}

func counterError(err error) error {
	return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "性能计数器溢出")
}

// committed 记录审计日志并投递事件。投递失败只记录日志，不影响已提交的操作。
func (s *Service) committed(ctx context.Context, op events.Operation, addr, agent common.Address, ts int64, rec record.Record) {
	caller, _ := identity.CallerFromContext(ctx)
	event, err := events.New(op, addr, agent, caller, ts, rec)
	if err != nil {
		s.log.Error("构造事件失败", "operation", op, "record", addr.Hex(), "error", err)
		return
	}
	s.audit.Info("ledger_operation",
		"operation", string(op),
		"agent", agent.Hex(),
		"record", addr.Hex(),
		"caller", caller.Hex(),
		"op_id", event.ID,
	)
	if err := s.publisher.Publish(ctx, event); err != nil {
		if !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
			err = xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递事件失败", xerrors.WithMetadata("op_id", event.ID))
		}
		s.log.Warn("投递事件失败", "operation", op, "record", addr.Hex(), "op_id", event.ID, "code", string(xerrors.CodeOf(err)), "error", err)
		if s.alerts == nil {
			return
		}
		if alert, ok := alerting.FromError(string(op), agent.Hex(), caller.Hex(), err); ok {
			if notifyErr := s.alerts.Notify(ctx, alert); notifyErr != nil {
				s.log.Warn("发送告警失败", "operation", op, "error", notifyErr)
			}
		}
	}
}

// logFailure 记录被拒绝的操作。
func (s *Service) logFailure(op events.Operation, agent common.Address, err error) {
	level := slog.LevelWarn
	if attr := xerrors.AttributesOf(xerrors.CodeOf(err)); attr.Severity == xerrors.SeverityInfo {
		level = slog.LevelInfo
	}
	if stdErrors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	s.log.Log(context.Background(), level, "操作未执行",
		"operation", string(op),
		"agent", agent.Hex(),
		"code", string(xerrors.CodeOf(err)),
		"error", err,
	)
}
