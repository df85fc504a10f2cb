package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"RewardPool/internal/metrics"
	"RewardPool/internal/model"
	"RewardPool/internal/recorder"
)

const maxBodyBytes = 1 << 16

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type roleRequest struct {
	Principal  string           `json:"principal"`
	Capability model.Capability `json:"capability"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	evt, err := s.ledger.Deposit(r.Context(), r.Header.Get(PrincipalHeader), req.Amount)
	metrics.RecordOperation("deposit", err)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleDepositReward(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	evt, err := s.ledger.DepositReward(r.Context(), r.Header.Get(PrincipalHeader), req.Amount)
	metrics.RecordOperation("deposit_reward", err)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	evt, err := s.ledger.Withdraw(r.Context(), r.Header.Get(PrincipalHeader))
	metrics.RecordOperation("withdraw", err)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.handleRole(w, r, s.roles.Grant, "granted")
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleRole(w, r, s.roles.Revoke, "revoked")
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request, apply func(caller, principal string, c model.Capability) error, verb string) {
	if s.roles == nil {
		writeError(w, http.StatusNotImplemented, "roles_unavailable", "role management is not configured")
		return
	}
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := r.Header.Get(PrincipalHeader)
	if err := apply(caller, req.Principal, req.Capability); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.log.Info("capability "+verb, "caller", caller, "principal", req.Principal, "capability", req.Capability)
	writeJSON(w, http.StatusOK, map[string]any{
		"capability": req.Capability,
		"members":    s.roles.Members(req.Capability),
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if s.roles == nil {
		writeError(w, http.StatusNotImplemented, "roles_unavailable", "role management is not configured")
		return
	}
	c := model.Capability(chi.URLParam(r, "capability"))
	if !c.Valid() {
		writeError(w, http.StatusNotFound, "unknown_capability", fmt.Sprintf("unknown capability %q", c))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability": c, "members": s.roles.Members(c)})
}

func (s *Server) handleCurrentPeriod(w http.ResponseWriter, _ *http.Request) {
	p, err := s.ledger.Period(s.ledger.CurrentPeriod())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := periodParam(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.Period(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := periodParam(w, r)
	if !ok {
		return
	}
	participant := chi.URLParam(r, "participant")
	amount, err := s.ledger.ContributionOf(id, participant)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":      id,
		"participant": participant,
		"amount":      amount,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	writeJSON(w, http.StatusOK, map[string]any{
		"participant":  participant,
		"withdrawable": s.ledger.WithdrawableBalance(participant),
	})
}

type lastRewardResponse struct {
	LastRewardAt    *time.Time `json:"last_reward_at"`
	NextEligibleAt  *time.Time `json:"next_eligible_at"`
	IntervalSeconds int64      `json:"interval_seconds"`
}

func (s *Server) handleLastReward(w http.ResponseWriter, _ *http.Request) {
	resp := lastRewardResponse{IntervalSeconds: int64(s.ledger.RewardInterval() / time.Second)}
	if last := s.ledger.LastRewardTimestamp(); !last.IsZero() {
		next := s.ledger.NextRewardAt()
		resp.LastRewardAt = &last
		resp.NextEligibleAt = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

type totalsResponse struct {
	model.Totals
	CurrentPeriod uint64 `json:"current_period"`
	Outstanding   uint64 `json:"outstanding"`
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request) {
	out, err := s.ledger.Outstanding()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsResponse{
		Totals:        s.ledger.Totals(),
		CurrentPeriod: s.ledger.CurrentPeriod(),
		Outstanding:   out,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := recorder.EventFilter{
		Participant: q.Get("participant"),
		Kind:        model.EventKind(q.Get("kind")),
	}
	if v := q.Get("period"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "period must be an unsigned integer")
			return
		}
		f.Period = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	events, err := s.rec.ListEvents(r.Context(), f)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func periodParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "period id must be an unsigned integer")
		return 0, false
	}
	return id, true
}
