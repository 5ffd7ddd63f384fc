package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agroshield/droughtcover/internal/ledger"
	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/policy"
	"github.com/agroshield/droughtcover/internal/pricing"
	"github.com/agroshield/droughtcover/internal/scheduler"
)

type moneyDTO struct {
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

func (m moneyDTO) money() model.Money {
	return model.NewMoney(model.Currency(m.Currency), m.Value)
}

type createPolicyRequest struct {
	Operator     string         `json:"operator"`
	Counterparty string         `json:"counterparty"`
	Premium      moneyDTO       `json:"premium"`
	Payout       moneyDTO       `json:"payout"`
	Location     model.Location `json:"location"`
	Duration     string         `json:"duration"`
	Deposit      moneyDTO       `json:"deposit"`
}

func (a *App) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	terms := model.Terms{
		Operator:     model.Party(req.Operator),
		Counterparty: model.Party(req.Counterparty),
		Premium:      req.Premium.money(),
		Payout:       req.Payout.money(),
		Location:     req.Location,
		Duration:     duration,
	}
	id, err := a.engine.Create(r.Context(), terms, req.Deposit.money())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (a *App) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.engine.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type policyResponse struct {
		model.Policy
		PayoutReserve  model.Money `json:"payout_reserve"`
		PremiumReserve model.Money `json:"premium_reserve"`
	}
	writeJSON(w, http.StatusOK, policyResponse{
		Policy:         p,
		PayoutReserve:  a.engine.Ledger().Remaining(id, ledger.ReservePayout),
		PremiumReserve: a.engine.Ledger().Remaining(id, ledger.ReservePremium),
	})
}

type payPremiumRequest struct {
	Payer  string   `json:"payer"`
	Amount moneyDTO `json:"amount"`
}

func (a *App) handlePayPremium(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req payPremiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.PayPremium(r.Context(), id, model.Party(req.Payer), req.Amount.money()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCancelLapsed(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.CancelLapsed(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleEnable(w http.ResponseWriter, _ *http.Request) {
	a.sched.Enable()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDisable(w http.ResponseWriter, _ *http.Request) {
	a.sched.Disable()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sched.SetInterval(d); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleForceEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ids = append(ids, id)
	}
	sum := a.sched.ForceEvaluate(r.Context(), ids)
	writeJSON(w, http.StatusOK, sum)
}

func (a *App) handleActivePage(w http.ResponseWriter, r *http.Request) {
	offset := intQuery(r, "offset", 0)
	limit := intQuery(r, "limit", 50)
	page := a.sched.Page(offset, limit)
	ids := make([]string, len(page))
	for i, id := range page {
		ids[i] = id.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ids":   ids,
		"total": a.sched.Len(),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status         string `json:"status"`
		MQTTConnected  bool   `json:"mqtt_connected"`
		ActivePolicies int    `json:"active_policies"`
	}
	st := status{
		MQTTConnected:  a.mqtt != nil && a.mqtt.IsConnectionOpen(),
		ActivePolicies: a.sched.Len(),
	}
	st.Status = "ok"
	if a.mqtt != nil && !st.MQTTConnected {
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReady gates traffic on the hard dependency: a configured broker
// that lost its connection means readings and attestations are not
// flowing, so the instance should be rotated out.
func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.mqtt != nil && !a.mqtt.IsConnectionOpen() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeDomainError maps the engine's failure taxonomy to HTTP statuses.
// The body always carries the violated rule, never a generic message.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, policy.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, policy.ErrInvalidTerms),
		errors.Is(err, policy.ErrWrongPayer),
		errors.Is(err, scheduler.ErrIntervalTooShort):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, policy.ErrInsufficientFunding),
		errors.Is(err, policy.ErrInsufficientAmount):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, policy.ErrAlreadyPaid),
		errors.Is(err, policy.ErrGraceExpired),
		errors.Is(err, policy.ErrGraceNotElapsed),
		errors.Is(err, policy.ErrTooSoon),
		errors.Is(err, policy.ErrCoverageElapsed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, policy.ErrReadingUnavailable),
		errors.Is(err, pricing.ErrRateUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
