package domain

import (
	"context"
	"time"
)

// SafetyStore persists the orchestrator's SafetyState. Load reports false when
// nothing has been stored yet.
type SafetyStore interface {
	Load(ctx context.Context) (SafetyState, bool, error)
	Save(ctx context.Context, state SafetyState) error
}

// ExecutionRecord is the persisted view of one settled attempt.
type ExecutionRecord struct {
	Execution ArbitrageExecuted  `json:"execution"`
	FlashLoan *FlashLoanExecuted `json:"flash_loan,omitempty"`
}

// ExecutionStore persists completion records as they are published and
// looks them up by attempt id. It returns ErrNotFound for unknown ids.
type ExecutionStore interface {
	EventSink
	GetByAttempt(ctx context.Context, attemptID string) (ExecutionRecord, error)
}

// LockManager provides distributed mutual exclusion. Acquire returns
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter admits at most limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NonceStore remembers single-use keys. Claim reports true the first time a
// key is seen within ttl and false for every repeat.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
