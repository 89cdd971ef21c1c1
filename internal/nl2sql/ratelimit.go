package nl2sql

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedModel gates calls to an upstream model with a token bucket.
type RateLimitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// NewRateLimitedModel allows perSecond calls per second with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimitedModel(next Model, perSecond float64, burst int) *RateLimitedModel {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedModel{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (m *RateLimitedModel) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for model rate limit: %w", err)
	}
	return m.next.Generate(ctx, prompt, temperature)
}
