package handler

import (
	"log/slog"
	"net/http"
)

// AdminHandler serves the authority-only operations.
type AdminHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc ExecutionService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger.With(slog.String("handler", "admin"))}
}

type withdrawRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Withdraw sends held tokens to the authority.
// POST /v1/admin/withdraw
func (h *AdminHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var body withdrawRequest
	if err := decodeJSON(r, &body); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	token, err := parseAddress("token", body.Token)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Withdraw(r.Context(), from, token, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token.Hex(),
		"amount": amount.String(),
	})
}

// ToggleHalt flips the emergency halt flag.
// POST /v1/admin/halt
func (h *AdminHandler) ToggleHalt(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	halted, err := h.svc.ToggleEmergencyHalt(r.Context(), from)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"halted": halted})
}

type limitsRequest struct {
	MaxTradeSize   string `json:"max_trade_size"`
	DailyLossLimit string `json:"daily_loss_limit"`
}

// UpdateLimits replaces both safety limits. Zero disables a limit.
// PUT /v1/admin/limits
func (h *AdminHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var body limitsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	maxSize, err := parseAmount("max_trade_size", body.MaxTradeSize)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	daily, err := parseAmount("daily_loss_limit", body.DailyLossLimit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.svc.UpdateLimits(r.Context(), from, maxSize, daily); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSafetyResponse(h.svc))
}
