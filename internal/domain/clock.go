package domain

import (
	"context"
	"time"
)

// Clock returns the current time. Components take one so tests can pin it.
type Clock func() time.Time

type executionTimeKey struct{}

// WithExecutionTime stamps ctx with the time an attempt is executing at. Every
// venue call made under ctx observes the same instant, the way every call in a
// single block observes one timestamp.
func WithExecutionTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, executionTimeKey{}, t)
}

// ExecutionTime returns the instant stamped on ctx, or clock() when ctx
// carries none.
func ExecutionTime(ctx context.Context, clock Clock) time.Time {
	if t, ok := ctx.Value(executionTimeKey{}).(time.Time); ok {
		return t
	}
	if clock == nil {
		return time.Now()
	}
	return clock()
}
