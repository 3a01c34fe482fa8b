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

// OptimizeTransactionRequest 描述一次交易优化请求。
type OptimizeTransactionRequest struct {
	Agent       common.Address         `json:"agent"`
	Slot        common.Address         `json:"slot,omitempty"`
	Transaction record.TransactionData `json:"transaction"`
}

// OptimizeTransaction 创建状态为 Processing 的优化记录，并累加 Agent 的优化次数。
func (s *Service) OptimizeTransaction(ctx context.Context, req OptimizeTransactionRequest) (common.Address, *record.TransactionOptimization, error) {
	if s.validation.Strict {
		if err := validateTransaction(req.Transaction); err != nil {
			s.logFailure(events.OpOptimizationRequested, req.Agent, err)
			return common.Address{}, nil, err
		}
	}

	ts, err := s.now(ctx)
	if err != nil {
		return common.Address{}, nil, err
	}

	slot := slotFor(req.Slot)
	optimization := &record.TransactionOptimization{
		Transaction: record.TransactionData{
			Instructions: append([]byte(nil), req.Transaction.Instructions...),
			GasLimit:     req.Transaction.GasLimit,
			Priority:     req.Transaction.Priority,
		},
		Agent:     req.Agent,
		Timestamp: ts,
		Status:    record.OptimizationProcessing,
	}
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		agent, err := s.loadOwnedAgent(ctx, tx, req.Agent)
		if err != nil {
			return err
		}
		if err := ledger.Create(ctx, tx, slot, optimization, payer(ctx, agent)); err != nil {
			return err
		}
		if err := agent.Metrics.RecordOptimization(); err != nil {
			return counterError(err)
		}
		return ledger.Put(ctx, tx, req.Agent, agent)
	})
	if err != nil {
		s.logFailure(events.OpOptimizationRequested, req.Agent, err)
		return common.Address{}, nil, err
	}

	s.committed(ctx, events.OpOptimizationRequested, slot, req.Agent, ts, optimization)
	return slot, cloneOptimization(optimization), nil
}

// CompleteOptimization 将优化记录从 Processing 迁移到 Optimized。
// gasUsed 超过请求的 gas 上限时返回 OPTIMIZATION_FAILED，记录保持不变。
func (s *Service) CompleteOptimization(ctx context.Context, addr common.Address, gasUsed uint64) (*record.TransactionOptimization, error) {
	return s.transitionOptimization(ctx, addr, record.OptimizationOptimized, events.OpOptimizationCompleted, func(o *record.TransactionOptimization) error {
		if gasUsed > o.Transaction.GasLimit {
			return xerrors.Wrap(CodeOptimizationFailed, ErrOptimizationFailed,
				fmt.Sprintf("实际消耗 gas %d 超过上限 %d", gasUsed, o.Transaction.GasLimit))
		}
		return nil
	})
}

// FailOptimization 将优化记录从 Processing 迁移到 Failed。
func (s *Service) FailOptimization(ctx context.Context, addr common.Address) (*record.TransactionOptimization, error) {
	return s.transitionOptimization(ctx, addr, record.OptimizationFailed, events.OpOptimizationFailed, nil)
}

// GetOptimization 读取优化记录。
func (s *Service) GetOptimization(ctx context.Context, addr common.Address) (*record.TransactionOptimization, error) {
	var optimization record.TransactionOptimization
	if err := ledger.Read(ctx, s.store, addr, &optimization); err != nil {
		return nil, err
	}
	return &optimization, nil
}

func (s *Service) transitionOptimization(ctx context.Context, addr common.Address, to record.OptimizationStatus, op events.Operation, check func(*record.TransactionOptimization) error) (*record.TransactionOptimization, error) {
	ts, err := s.now(ctx)
	if err != nil {
		return nil, err
	}

	var optimization record.TransactionOptimization
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := ledger.Get(ctx, tx, addr, &optimization); err != nil {
			return err
		}
		if _, err := s.loadOwnedAgent(ctx, tx, optimization.Agent); err != nil {
			return err
		}
		if !optimization.Status.CanTransition(to) {
			return xerrors.Wrap(CodeInvalidTransition, ErrInvalidTransition,
				fmt.Sprintf("优化记录无法从 %s 迁移到 %s", optimization.Status, to),
				xerrors.WithMetadata("record", addr.Hex()))
		}
		if check != nil {
			if err := check(&optimization); err != nil {
				return err
			}
		}
		optimization.Status = to
		return ledger.Put(ctx, tx, addr, &optimization)
	})
	if err != nil {
		s.logFailure(op, optimization.Agent, err)
		return nil, err
	}

	s.committed(ctx, op, addr, optimization.Agent, ts, &optimization)
	return &optimization, nil
}

func validateTransaction(data record.TransactionData) error {
	if len(data.Instructions) == 0 {
		return xerrors.Wrap(CodeOptimizationFailed, ErrOptimizationFailed, "交易指令不能为空")
	}
	if data.GasLimit == 0 {
		return xerrors.Wrap(CodeOptimizationFailed, ErrOptimizationFailed, "gas 上限必须大于 0")
	}
	return nil
}

func cloneOptimization(o *record.TransactionOptimization) *record.TransactionOptimization {
	copied := *o
	copied.Transaction.Instructions = append([]byte(nil), o.Transaction.Instructions...)
	return &copied
}
