// Package ratelimit provides sliding window limiters used for cooldowns on
// verification resends and password reset requests.
package ratelimit

import (
	"context"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerWindow is the maximum number of requests allowed in the window.
	RequestsPerWindow int
	// WindowSize is the duration of the sliding window.
	WindowSize time.Duration
}

// Cooldown allows one request per d.
func Cooldown(d time.Duration) Config {
	return Config{RequestsPerWindow: 1, WindowSize: d}
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is only set when not allowed.
	RetryAfter time.Duration
}

// Limiter checks whether a request identified by key is allowed. An allowed
// request is counted against the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now    func() time.Time
	prefix string
}

// WithClock sets the clock used to place requests in the window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPrefix namespaces keys. The default is "authkit:rl:".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, prefix: "authkit:rl:"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
