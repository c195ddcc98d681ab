package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
	"github.com/alanyoungcy/arbexecutor/internal/server/middleware"
)

// maxBodyBytes bounds request bodies decoded by handlers.
const maxBodyBytes = 1 << 20

// ExecutionService is the service surface the handlers need.
type ExecutionService interface {
	Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (engine.Result, error)
	ExecuteRaw(ctx context.Context, caller common.Address, raw []byte) (engine.Result, error)
	Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error
	ToggleEmergencyHalt(ctx context.Context, caller common.Address) (bool, error)
	UpdateLimits(ctx context.Context, caller common.Address, maxTradeSize, dailyLossLimit *big.Int) error
	Safety() domain.SafetyState
	EngineAddress() common.Address
	Balance(token common.Address) *big.Int
	Execution(ctx context.Context, attemptID string) (domain.ExecutionRecord, error)
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error category onto an HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindReentrant, domain.KindBusy:
		return http.StatusConflict
	case domain.KindSafetyHalt:
		return http.StatusLocked
	case domain.KindParams:
		return http.StatusBadRequest
	case domain.KindVenue, domain.KindProfit, domain.KindLimit:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError classifies err and writes it. Internal errors are logged
// and hidden from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.Classify(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

// decodeJSON decodes a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if domain.Classify(err) == domain.KindParams {
			return err
		}
		return &domain.ParamError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// caller returns the signature-authenticated caller. Routes that reach a
// handler without one are wired wrong.
func caller(r *http.Request) (common.Address, error) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return common.Address{}, fmt.Errorf("%w: request is not signed", domain.ErrUnauthorized)
	}
	return c, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, &domain.ParamError{Field: field, Reason: fmt.Sprintf("%q is not an address", s)}
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, &domain.ParamError{Field: field, Reason: fmt.Sprintf("%q is not a non-negative integer", s)}
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
