// Package telephony provides the Telephony Adapter's concrete provider
// implementations and a resilience wrapper (circuit breaker + retry) around
// the domain.TelephonyProvider port.
package telephony

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
)

// BackoffConfig configures the retry wrapper around makeCall/registerAgent.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
}

// ResilientProvider wraps a concrete TelephonyProvider with a per-
// (company,provider) circuit breaker and an exponential backoff retry.
// One instance is cached per (companyID, providerName) pair.
type ResilientProvider struct {
	inner   domain.TelephonyProvider
	breaker *observability.CircuitBreaker
	backoff BackoffConfig
}

// NewResilientProvider wraps inner with a circuit breaker identified by
// name (typically "<companyID>/<providerName>").
func NewResilientProvider(inner domain.TelephonyProvider, name string, cfg BackoffConfig) *ResilientProvider {
	return &ResilientProvider{
		inner:   inner,
		breaker: observability.GetCircuitBreaker(name, 5, 30*time.Second),
		backoff: cfg,
	}
}

// Name returns the wrapped provider's name.
func (p *ResilientProvider) Name() string { return p.inner.Name() }

func (p *ResilientProvider) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoff.InitialInterval
	b.MaxInterval = p.backoff.MaxInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	return backoff.WithMaxRetries(b, uint64(p.backoff.MaxRetries))
}

// MakeCall retries failed attempts with exponential backoff behind the
// circuit breaker; every error is retried, not only transient ones.
func (p *ResilientProvider) MakeCall(ctx domain.Context, req domain.CallRequest) (domain.CallResult, error) {
	var result domain.CallResult
	err := p.breaker.Call(func() error {
		return backoff.Retry(func() error {
			r, err := p.inner.MakeCall(ctx, req)
			if err != nil {
				slog.Warn("telephony makeCall attempt failed", slog.String("provider", p.inner.Name()), slog.Any("error", err))
				return err
			}
			result = r
			return nil
		}, p.newBackoff())
	})
	return result, err
}

// NormalizeWebhook is not retried; webhook delivery retry is the vendor's
// responsibility, not ours.
func (p *ResilientProvider) NormalizeWebhook(ctx domain.Context, method string, query map[string][]string, body []byte) (domain.WebhookEvent, error) {
	return p.inner.NormalizeWebhook(ctx, method, query, body)
}

// RegisterAgent retries behind the circuit breaker; the underlying
// providers already treat "already registered" as success, so retries are
// safe to repeat.
func (p *ResilientProvider) RegisterAgent(ctx domain.Context, agentNumber, agentName string) error {
	return p.breaker.Call(func() error {
		return backoff.Retry(func() error {
			return p.inner.RegisterAgent(ctx, agentNumber, agentName)
		}, p.newBackoff())
	})
}
