package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider in a circuit breaker so a dead
// backend fails fast instead of burning stage retries on timeouts.
// Only retryable failures count toward opening the circuit; a rejected
// prompt is the caller's problem, not the provider's health.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

func WithBreaker(inner Provider) *BreakerProvider {
	return newBreakerProvider(inner, 3, 30*time.Second)
}

func newBreakerProvider(inner Provider, trip uint32, timeout time.Duration) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})
	return &BreakerProvider{inner: inner, cb: cb}
}

func (p *BreakerProvider) Name() string {
	return p.inner.Name()
}

func (p *BreakerProvider) Generate(ctx context.Context, req Request) (string, error) {
	out, err := p.cb.Execute(func() (any, error) {
		return p.inner.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &CircuitOpenError{ProviderName: p.inner.Name()}
	}
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	return text, nil
}
