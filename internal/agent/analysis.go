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

// AnalyzeContractRequest 描述一次合约分析请求。
type AnalyzeContractRequest struct {
	Agent    common.Address        `json:"agent"`
	Slot     common.Address        `json:"slot,omitempty"`
	Contract common.Address        `json:"contract"`
	Params   record.AnalysisParams `json:"params"`
}

// AnalyzeContract 创建状态为 InProgress 的分析记录，并累加 Agent 的分析次数。
func (s *Service) AnalyzeContract(ctx context.Context, req AnalyzeContractRequest) (common.Address, *record.ContractAnalysis, error) {
	if s.validation.Strict {
		if req.Params.Depth == 0 || req.Params.Depth > s.validation.MaxAnalysisDepth {
			err := xerrors.Wrap(CodeInvalidAnalysisParams, ErrInvalidAnalysisParams,
				fmt.Sprintf("分析深度必须在 1 到 %d 之间", s.validation.MaxAnalysisDepth))
			s.logFailure(events.OpAnalysisRequested, req.Agent, err)
			return common.Address{}, nil, err
		}
	}

	ts, err := s.now(ctx)
	if err != nil {
		return common.Address{}, nil, err
	}

	slot := slotFor(req.Slot)
	analysis := &record.ContractAnalysis{
		Contract:  req.Contract,
		Agent:     req.Agent,
		Timestamp: ts,
		Params:    req.Params,
		Status:    record.AnalysisInProgress,
	}
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		agent, err := s.loadOwnedAgent(ctx, tx, req.Agent)
		if err != nil {
			return err
		}
		if err := ledger.Create(ctx, tx, slot, analysis, payer(ctx, agent)); err != nil {
			return err
		}
		if err := agent.Metrics.RecordAnalysis(); err != nil {
			return counterError(err)
		}
		return ledger.Put(ctx, tx, req.Agent, agent)
	})
	if err != nil {
		s.logFailure(events.OpAnalysisRequested, req.Agent, err)
		return common.Address{}, nil, err
	}

	s.committed(ctx, events.OpAnalysisRequested, slot, req.Agent, ts, analysis)
	copied := *analysis
	return slot, &copied, nil
}

// CompleteAnalysis 将分析记录从 InProgress 迁移到 Completed。
func (s *Service) CompleteAnalysis(ctx context.Context, addr common.Address) (*record.ContractAnalysis, error) {
	return s.transitionAnalysis(ctx, addr, record.AnalysisCompleted, events.OpAnalysisCompleted)
}

// FailAnalysis 将分析记录从 InProgress 迁移到 Failed。
func (s *Service) FailAnalysis(ctx context.Context, addr common.Address) (*record.ContractAnalysis, error) {
	return s.transitionAnalysis(ctx, addr, record.AnalysisFailed, events.OpAnalysisFailed)
}

// GetAnalysis 读取分析记录。
func (s *Service) GetAnalysis(ctx context.Context, addr common.Address) (*record.ContractAnalysis, error) {
	var analysis record.ContractAnalysis
	if err := ledger.Read(ctx, s.store, addr, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (s *Service) transitionAnalysis(ctx context.Context, addr common.Address, to record.AnalysisStatus, op events.Operation) (*record.ContractAnalysis, error) {
	ts, err := s.now(ctx)
	if err != nil {
		return nil, err
	}

	var analysis record.ContractAnalysis
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := ledger.Get(ctx, tx, addr, &analysis); err != nil {
			return err
		}
		if _, err := s.loadOwnedAgent(ctx, tx, analysis.Agent); err != nil {
			return err
		}
		if !analysis.Status.CanTransition(to) {
			return xerrors.Wrap(CodeInvalidTransition, ErrInvalidTransition,
				fmt.Sprintf("分析记录无法从 %s 迁移到 %s", analysis.Status, to),
				xerrors.WithMetadata("record", addr.Hex()))
		}
		analysis.Status = to
		return ledger.Put(ctx, tx, addr, &analysis)
	})
	if err != nil {
		s.logFailure(op, analysis.Agent, err)
		return nil, err
	}

	s.committed(ctx, op, addr, analysis.Agent, ts, &analysis)
	return &analysis, nil
}
