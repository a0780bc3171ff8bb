package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Actions with configured limits. Identifiers are emails for login/register/
// reset and token IDs for refresh.
const (
	ActionLogin         = "login"
	ActionRegister      = "register"
	ActionPasswordReset = "password_reset"
	ActionRefreshToken  = "refresh_token"
)

var ErrRateLimited = errors.New("rate limited")

// Rule is a fixed-window limit: at most MaxAttempts per Window. Fixed-window
// counting is deliberate: O(1) state per key, and the burst tolerance at
// window boundaries is accepted.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultRules mirrors the production limits.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionLogin:         {MaxAttempts: 5, Window: time.Minute},
		ActionRegister:      {MaxAttempts: 5, Window: time.Hour},
		ActionPasswordReset: {MaxAttempts: 3, Window: time.Hour},
		ActionRefreshToken:  {MaxAttempts: 10, Window: time.Minute},
	}
}

type Limiter struct {
	client *redis.Client
	rules  map[string]Rule
}

func NewLimiter(client *redis.Client, rules map[string]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{client: client, rules: rules}
}

// Allow checks and increments the counter for (action, identifier).
// Actions without a configured rule are always allowed: unknown actions
// fail open by explicit default, not by accident. At the limit the counter
// is not incremented, so being limited does not extend the block.
// Under concurrent calls get-then-incr may overshoot the max by one
// attempt; that bound is accepted.
func (l *Limiter) Allow(ctx context.Context, action, identifier string) error {
	rule, ok := l.rules[action]
	if !ok {
		return nil
	}

	k := key(action, identifier)

	count, err := l.client.Get(ctx, k).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if count >= int64(rule.MaxAttempts) {
		return ErrRateLimited
	}

	if err := l.client.Incr(ctx, k).Err(); err != nil {
		return err
	}
	return l.client.Expire(ctx, k, rule.Window).Err()
}

// Reset clears the counter immediately (administrative override).
func (l *Limiter) Reset(ctx context.Context, action, identifier string) error {
	return l.client.Del(ctx, key(action, identifier)).Err()
}

func key(action, identifier string) string {
	return "rate_limit:" + action + ":" + identifier
}
