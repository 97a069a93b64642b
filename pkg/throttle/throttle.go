// Package throttle limits how often a caller may perform an action.
package throttle

import (
	"context"
	"time"
)

// Defaults applied when a limiter is built with zero values.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited allows every call.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return limit, window
}
