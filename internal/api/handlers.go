package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"Manof-Chain/internal/agent"
	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/record"
)

type agentResponse struct {
	Address common.Address `json:"address"`
	Agent   *record.Agent  `json:"agent"`
}

type analysisResponse struct {
	Address  common.Address           `json:"address"`
	Analysis *record.ContractAnalysis `json:"analysis"`
}

type optimizationResponse struct {
	Address      common.Address                  `json:"address"`
	Optimization *record.TransactionOptimization `json:"optimization"`
}

type securityResponse struct {
	Address common.Address          `json:"address"`
	Report  *record.SecurityMonitor `json:"report"`
}

type analyzeBody struct {
	Slot     common.Address        `json:"slot"`
	Contract common.Address        `json:"contract"`
	Params   record.AnalysisParams `json:"params"`
}

type optimizeBody struct {
	Slot        common.Address         `json:"slot"`
	Transaction record.TransactionData `json:"transaction"`
}

type securityBody struct {
	Slot common.Address      `json:"slot"`
	Data record.SecurityData `json:"data"`
}

type completeOptimizationBody struct {
	GasUsed uint64 `json:"gas_used"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpAgentCreated)
	var req agent.CreateAgentRequest
	if err := decodeBody(r, &req); err != nil {
		// security_level 是请求体中唯一的枚举字段。
		if errors.Is(err, record.ErrInvalidEnum) {
			err = xerrors.Wrap(agent.CodeInvalidSecurityLevel, err, "安全等级取值非法")
		}
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	addr, created, err := s.svc.CreateAgent(r.Context(), req)
	if err != nil {
		s.fail(r.Context(), w, op, req.Slot, err)
		return
	}
	s.succeed(w, op, http.StatusCreated, agentResponse{Address: addr, Agent: created})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	const op = "agents.get"
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	found, err := s.svc.GetAgent(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, addr, err)
		return
	}
	s.succeed(w, op, http.StatusOK, agentResponse{Address: addr, Agent: found})
}

func (s *Server) handleAnalyzeContract(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpAnalysisRequested)
	agentAddr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	var body analyzeBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	addr, analysis, err := s.svc.AnalyzeContract(r.Context(), agent.AnalyzeContractRequest{
		Agent:    agentAddr,
		Slot:     body.Slot,
		Contract: body.Contract,
		Params:   body.Params,
	})
	if err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	s.succeed(w, op, http.StatusCreated, analysisResponse{Address: addr, Analysis: analysis})
}

func (s *Server) handleOptimizeTransaction(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpOptimizationRequested)
	agentAddr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	var body optimizeBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	addr, optimization, err := s.svc.OptimizeTransaction(r.Context(), agent.OptimizeTransactionRequest{
		Agent:       agentAddr,
		Slot:        body.Slot,
		Transaction: body.Transaction,
	})
	if err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	s.succeed(w, op, http.StatusCreated, optimizationResponse{Address: addr, Optimization: optimization})
}

func (s *Server) handleUpdateSecurity(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpSecurityUpdated)
	agentAddr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	var body securityBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	addr, report, err := s.svc.UpdateSecurityStatus(r.Context(), agent.UpdateSecurityRequest{
		Agent: agentAddr,
		Slot:  body.Slot,
		Data:  body.Data,
	})
	if err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	s.succeed(w, op, http.StatusCreated, securityResponse{Address: addr, Report: report})
}

func (s *Server) handleLatestSecurity(w http.ResponseWriter, r *http.Request) {
	const op = "security.latest"
	agentAddr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	addr, report, err := s.svc.LatestSecurity(r.Context(), agentAddr)
	if err != nil {
		s.fail(r.Context(), w, op, agentAddr, err)
		return
	}
	s.succeed(w, op, http.StatusOK, securityResponse{Address: addr, Report: report})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	const op = "analyses.get"
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	analysis, err := s.svc.GetAnalysis(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, analysisResponse{Address: addr, Analysis: analysis})
}

func (s *Server) handleCompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	s.transitionAnalysis(w, r, events.OpAnalysisCompleted, s.svc.CompleteAnalysis)
}

func (s *Server) handleFailAnalysis(w http.ResponseWriter, r *http.Request) {
	s.transitionAnalysis(w, r, events.OpAnalysisFailed, s.svc.FailAnalysis)
}

func (s *Server) transitionAnalysis(w http.ResponseWriter, r *http.Request, operation events.Operation, apply func(ctx context.Context, addr common.Address) (*record.ContractAnalysis, error)) {
	op := string(operation)
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	analysis, err := apply(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, analysisResponse{Address: addr, Analysis: analysis})
}

func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	const op = "optimizations.get"
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	optimization, err := s.svc.GetOptimization(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, optimizationResponse{Address: addr, Optimization: optimization})
}

func (s *Server) handleCompleteOptimization(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpOptimizationCompleted)
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	var body completeOptimizationBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	optimization, err := s.svc.CompleteOptimization(r.Context(), addr, body.GasUsed)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, optimizationResponse{Address: addr, Optimization: optimization})
}

func (s *Server) handleFailOptimization(w http.ResponseWriter, r *http.Request) {
	op := string(events.OpOptimizationFailed)
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	optimization, err := s.svc.FailOptimization(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, optimizationResponse{Address: addr, Optimization: optimization})
}

func (s *Server) handleGetSecurity(w http.ResponseWriter, r *http.Request) {
	const op = "security.get"
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	report, err := s.svc.GetSecurityReport(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, securityResponse{Address: addr, Report: report})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "payers.balance"
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	balance, err := s.svc.Store().Balance(r.Context(), addr)
	if err != nil {
		s.fail(r.Context(), w, op, common.Address{}, err)
		return
	}
	s.succeed(w, op, http.StatusOK, map[string]any{"address": addr, "balance": balance})
}
