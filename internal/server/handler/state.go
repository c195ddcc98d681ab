package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// StateHandler serves read-only engine state.
type StateHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(svc ExecutionService, logger *slog.Logger) *StateHandler {
	return &StateHandler{svc: svc, logger: logger.With(slog.String("handler", "state"))}
}

type safetyResponse struct {
	Engine         string `json:"engine"`
	Halted         bool   `json:"halted"`
	MaxTradeSize   string `json:"max_trade_size"`
	DailyLossLimit string `json:"daily_loss_limit"`
	DailyLoss      string `json:"daily_loss"`
	LastResetDay   int64  `json:"last_reset_day"`
}

func newSafetyResponse(svc ExecutionService) safetyResponse {
	s := svc.Safety()
	return safetyResponse{
		Engine:         svc.EngineAddress().Hex(),
		Halted:         s.Halted,
		MaxTradeSize:   amountString(s.MaxTradeSize),
		DailyLossLimit: amountString(s.DailyLossLimit),
		DailyLoss:      amountString(s.DailyLoss),
		LastResetDay:   s.LastResetDay,
	}
}

// Safety returns the current safety state.
// GET /v1/safety
func (h *StateHandler) Safety(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSafetyResponse(h.svc))
}

// Balance returns the engine's balance of one token.
// GET /v1/balances/{token}
func (h *StateHandler) Balance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress("token", r.PathValue("token"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"holder":  h.svc.EngineAddress().Hex(),
		"balance": h.svc.Balance(token).String(),
	})
}

// Execution returns the persisted record of a settled attempt.
// GET /v1/executions/{id}
func (h *StateHandler) Execution(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Execution(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
