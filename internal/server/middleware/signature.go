package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/crypto"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// maxSignedBody bounds the body read for signature checks.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller stores the authenticated caller address in ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller recovered by Signature.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// Signature returns middleware that recovers the caller address from an
// EIP-191 signature over the request and rejects stale timestamps. Each
// signed request is accepted once: repeats within twice the skew window are
// refused. A nil nonces uses a process-local store. It does not decide who
// may call what; the engine checks the recovered address.
func Signature(maxSkew time.Duration, now func() time.Time, nonces domain.NonceStore) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	if nonces == nil {
		nonces = NewMemoryNonces(DefaultNonceCapacity, now)
	}
	ttl := 2 * maxSkew
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(crypto.HeaderSignature)
			tsRaw := r.Header.Get(crypto.HeaderTimestamp)
			if sig == "" || tsRaw == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing request signature")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid signature timestamp")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeJSONError(w, http.StatusUnauthorized, "signature timestamp outside allowed skew")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			path := r.URL.RequestURI()
			caller, err := crypto.RecoverRequest(r.Method, path, body, ts, sig)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}
			// Keyed by signer and digest, so a re-encoded signature over the
			// same request is still a repeat.
			key := caller.Hex() + ":" + hex.EncodeToString(crypto.RequestDigest(r.Method, path, body, ts))
			fresh, err := nonces.Claim(r.Context(), key, ttl)
			if err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "signature replay check unavailable")
				return
			}
			if !fresh {
				writeJSONError(w, http.StatusUnauthorized, "signature already used")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
