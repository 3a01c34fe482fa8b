package agent

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/ledger"
	"Manof-Chain/internal/record"
)

// UpdateSecurityRequest 描述一次安全上报。
type UpdateSecurityRequest struct {
	Agent common.Address      `json:"agent"`
	Slot  common.Address      `json:"slot,omitempty"`
	Data  record.SecurityData `json:"data"`
}

// UpdateSecurityStatus 创建新的安全上报记录。检测到威胁时，
// Agent 的 threats_prevented 按 threats_detected 累加。
func (s *Service) UpdateSecurityStatus(ctx context.Context, req UpdateSecurityRequest) (common.Address, *record.SecurityMonitor, error) {
	if !req.Data.RiskLevel.Valid() {
		err := xerrors.Wrap(xerrors.CodeInvalidArgument, record.ErrInvalidEnum,
			fmt.Sprintf("风险等级 %d 超出取值范围", req.Data.RiskLevel))
		s.logFailure(events.OpSecurityUpdated, req.Agent, err)
		return common.Address{}, nil, err
	}

	ts, err := s.now(ctx)
	if err != nil {
		return common.Address{}, nil, err
	}

	slot := slotFor(req.Slot)
	monitor := &record.SecurityMonitor{
		Agent:      req.Agent,
		Data:       req.Data,
		LastUpdate: ts,
	}
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		agent, err := s.loadOwnedAgent(ctx, tx, req.Agent)
		if err != nil {
			return err
		}
		if err := ledger.Create(ctx, tx, slot, monitor, payer(ctx, agent)); err != nil {
			return err
		}
		if req.Data.ThreatsDetected == 0 {
			return nil
		}
		if err := agent.Metrics.RecordThreats(req.Data.ThreatsDetected); err != nil {
			return counterError(err)
		}
		return ledger.Put(ctx, tx, req.Agent, agent)
	})
	if err != nil {
		s.logFailure(events.OpSecurityUpdated, req.Agent, err)
		return common.Address{}, nil, err
	}

	s.committed(ctx, events.OpSecurityUpdated, slot, req.Agent, ts, monitor)
	copied := *monitor
	return slot, &copied, nil
}

// GetSecurityReport 读取安全上报记录。
func (s *Service) GetSecurityReport(ctx context.Context, addr common.Address) (*record.SecurityMonitor, error) {
	var monitor record.SecurityMonitor
	if err := ledger.Read(ctx, s.store, addr, &monitor); err != nil {
		return nil, err
	}
	return &monitor, nil
}

// LatestSecurity 通过安全索引返回 Agent 最近一次上报的地址与内容。
func (s *Service) LatestSecurity(ctx context.Context, agent common.Address) (common.Address, *record.SecurityMonitor, error) {
	if s.index == nil {
		return common.Address{}, nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置安全索引")
	}
	entry, err := s.index.Latest(ctx, agent)
	if err != nil {
		return common.Address{}, nil, err
	}
	monitor, err := s.GetSecurityReport(ctx, entry.Monitor)
	if err != nil {
		return common.Address{}, nil, err
	}
	return entry.Monitor, monitor, nil
}
