package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
)

// ExecuteHandler serves arbitrage submissions.
type ExecuteHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(svc ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{svc: svc, logger: logger.With(slog.String("handler", "execute"))}
}

type resultResponse struct {
	AttemptID string `json:"attempt_id"`
	State     string `json:"state"`
	Profit    string `json:"profit"`
	NetProfit string `json:"net_profit"`
	Premium   string `json:"premium"`
	Borrowed  bool   `json:"borrowed"`
	Steps     int    `json:"steps"`
	CostMS    int64  `json:"cost_ms"`
}

func newResultResponse(res engine.Result) resultResponse {
	return resultResponse{
		AttemptID: res.AttemptID,
		State:     string(res.State),
		Profit:    amountString(res.Profit),
		NetProfit: amountString(res.NetProfit),
		Premium:   amountString(res.Premium),
		Borrowed:  res.Borrowed,
		Steps:     res.Steps,
		CostMS:    res.Cost.Milliseconds(),
	}
}

// Execute runs a JSON-encoded arbitrage request.
// POST /v1/execute
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var req domain.ArbitrageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Execute(r.Context(), from, req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

type rawRequest struct {
	Data string `json:"data"`
}

// ExecuteABI runs an ABI-encoded executeArbitrage argument tuple, with or
// without the 4-byte selector.
// POST /v1/execute/abi
func (h *ExecuteHandler) ExecuteABI(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var body rawRequest
	if err := decodeJSON(r, &body); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	data := strings.TrimSpace(body.Data)
	if !strings.HasPrefix(data, "0x") {
		data = "0x" + data
	}
	raw, err := hexutil.Decode(data)
	if err != nil {
		writeDomainError(w, r, h.logger, &domain.ParamError{Field: "data", Reason: err.Error()})
		return
	}
	res, err := h.svc.ExecuteRaw(r.Context(), from, raw)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}
