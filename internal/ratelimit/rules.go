package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/pkg/config"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Rules holds the configured limits and the whitelist.
type Rules struct {
	whitelist  map[int64]struct{}
	perUser    Rule
	generation Rule
}

func NewRules(rl config.RateLimitConfig, gen config.GenerationConfig) *Rules {
	wl := make(map[int64]struct{}, len(rl.Whitelist))
	for _, id := range rl.Whitelist {
		wl[id] = struct{}{}
	}

	return &Rules{
		whitelist:  wl,
		perUser:    Rule{Limit: rl.PerUser.Requests, Window: rl.PerUser.Window},
		generation: Rule{Limit: gen.StartsPerWindow, Window: gen.StartsRateWindow},
	}
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	_, ok := r.whitelist[userID]
	return ok
}

func (r *Rules) PerUser() Rule          { return r.perUser }
func (r *Rules) GenerationStarts() Rule { return r.generation }

// Guard applies Rules through a Limiter and reports violations as rate-limit AppErrors.
type Guard struct {
	limiter Limiter
	rules   *Rules
	enabled bool
}

func NewGuard(limiter Limiter, rules *Rules, enabled bool) *Guard {
	return &Guard{limiter: limiter, rules: rules, enabled: enabled}
}

// AllowMessage limits bot updates per Telegram user.
func (g *Guard) AllowMessage(ctx context.Context, telegramID int64) error {
	return g.allow(ctx, fmt.Sprintf("user:%d", telegramID), telegramID, g.rules.PerUser())
}

// AllowGeneration limits generation starts per user.
func (g *Guard) AllowGeneration(ctx context.Context, userID int64) error {
	return g.allow(ctx, fmt.Sprintf("generation:%d", userID), userID, g.rules.GenerationStarts())
}

func (g *Guard) allow(ctx context.Context, key string, id int64, rule Rule) error {
	if g == nil || !g.enabled || !rule.enabled() || g.rules.IsWhitelisted(id) {
		return nil
	}

	result, err := g.limiter.Check(ctx, key, rule.Limit, rule.Window)
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		// limiter outages must not block users
		return nil
	}
	if result != nil && !result.Allowed {
		return apperrors.NewRateLimitError(result.RetryAfter(time.Now()))
	}
	return nil
}
