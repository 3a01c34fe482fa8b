package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/ledger"
	"Manof-Chain/internal/record"
)

// CreateAgentRequest 描述注册 Agent 的参数。Slot 为空时自动派生地址，Config 为空时使用默认配置。
type CreateAgentRequest struct {
	Slot   common.Address      `json:"slot,omitempty"`
	Name   string              `json:"name"`
	Config *record.AgentConfig `json:"config,omitempty"`
}

// CreateAgent 以调用方为 owner 与付款方注册新的 Agent。
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (common.Address, *record.Agent, error) {
	caller, ok := identity.CallerFromContext(ctx)
	if !ok {
		return common.Address{}, nil, xerrors.Wrap(xerrors.CodeUnauthorized, identity.ErrMissingCaller, "缺少调用方身份")
	}

	cfg := record.DefaultAgentConfig()
	if req.Config != nil {
		cfg = *req.Config
		cfg.OptimizationParams = req.Config.OptimizationParams.Clone()
	}
	if err := s.validateConfig(cfg); err != nil {
		s.logFailure(events.OpAgentCreated, common.Address{}, err)
		return common.Address{}, nil, err
	}

	ts, err := s.now(ctx)
	if err != nil {
		return common.Address{}, nil, err
	}

	slot := slotFor(req.Slot)
	agent := &record.Agent{
		Owner:    caller,
		Name:     req.Name,
		Config:   cfg,
		IsActive: true,
	}
	err = s.store.Apply(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return ledger.Create(ctx, tx, slot, agent, caller)
	})
	if err != nil {
		s.logFailure(events.OpAgentCreated, slot, err)
		return common.Address{}, nil, err
	}

	s.committed(ctx, events.OpAgentCreated, slot, slot, ts, agent)
	return slot, agent.Clone(), nil
}

// GetAgent 读取 Agent。
func (s *Service) GetAgent(ctx context.Context, addr common.Address) (*record.Agent, error) {
	var agent record.Agent
	if err := ledger.Read(ctx, s.store, addr, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Service) validateConfig(cfg record.AgentConfig) error {
	if !cfg.SecurityLevel.Valid() {
		return xerrors.Wrap(CodeInvalidSecurityLevel, ErrInvalidSecurityLevel,
			fmt.Sprintf("安全等级 %d 超出取值范围", cfg.SecurityLevel))
	}
	if !s.validation.Strict {
		return nil
	}
	if cfg.AnalysisThreshold == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "analysis_threshold 必须大于 0")
	}
	for key := range cfg.OptimizationParams {
		if strings.TrimSpace(key) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "optimization_params 的键不能为空")
		}
	}
	return nil
}
