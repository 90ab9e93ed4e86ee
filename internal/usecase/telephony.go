package usecase

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"github.com/fieldops/surveypipe/internal/service/ratelimiter"
	"go.opentelemetry.io/otel"
)

// ProviderFactory constructs a domain.TelephonyProvider by name, lazily, on
// first use for a given (companyID, providerName) pair.
type ProviderFactory func(companyID, providerName string) (domain.TelephonyProvider, error)

// TelephonyService implements the Telephony Adapter's provider-selection
// layer on top of pluggable domain.TelephonyProvider instances.
type TelephonyService struct {
	Tenants domain.TenantConfigRepository
	Factory ProviderFactory

	// RateLimiter, when set, caps outbound makeCall volume per provider
	// name (not per tenant): every company using a provider draws on the
	// same budget. A nil RateLimiter (the zero value) never throttles.
	RateLimiter ratelimiter.Limiter

	mu        sync.Mutex
	instances map[string]domain.TelephonyProvider // "companyID/providerName" -> instance
}

// NewTelephonyService constructs a TelephonyService.
func NewTelephonyService(tenants domain.TenantConfigRepository, factory ProviderFactory) *TelephonyService {
	return &TelephonyService{Tenants: tenants, Factory: factory, instances: map[string]domain.TelephonyProvider{}}
}

// WithRateLimiter attaches a per-provider call-rate limiter and returns the
// service for chaining.
func (s *TelephonyService) WithRateLimiter(l ratelimiter.Limiter) *TelephonyService {
	s.RateLimiter = l
	return s
}

// SelectProvider resolves the provider to use for a company per its
// configured selection method, falling back to fallbackProvider when the
// selected provider is not enabled for the tenant.
func (s *TelephonyService) SelectProvider(ctx domain.Context, companyID string) (domain.TelephonyProvider, error) {
	cfg, err := s.Tenants.Get(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("op=SelectProvider tenant config: %w", err)
	}

	name, err := selectProviderName(cfg)
	if err != nil {
		return nil, fmt.Errorf("op=SelectProvider: %w", err)
	}
	if !contains(cfg.EnabledProviders, name) {
		name = cfg.FallbackProvider
	}
	return s.instance(companyID, name)
}

func selectProviderName(cfg *domain.TenantConfig) (string, error) {
	switch cfg.SelectionMethod {
	case domain.SelectionSwitch:
		return cfg.ActiveProvider, nil
	case domain.SelectionRandom:
		if len(cfg.EnabledProviders) == 0 {
			return "", domain.ErrInternal
		}
		i, err := randIndex(len(cfg.EnabledProviders))
		if err != nil {
			return "", err
		}
		return cfg.EnabledProviders[i], nil
	case domain.SelectionPercentage:
		return selectByPercentage(cfg)
	default:
		return cfg.ActiveProvider, nil
	}
}

// selectByPercentage draws U~Uniform(0,100) and accumulates weights in a
// fixed (sorted provider name) order, falling back to the first enabled
// provider if weights don't sum to 100.
func selectByPercentage(cfg *domain.TenantConfig) (string, error) {
	names := make([]string, 0, len(cfg.Weights))
	for n := range cfg.Weights {
		names = append(names, n)
	}
	sort.Strings(names)

	u, err := randFloat100()
	if err != nil {
		return "", err
	}
	cumulative := 0.0
	for _, n := range names {
		cumulative += cfg.Weights[n]
		if cumulative > u {
			return n, nil
		}
	}
	if len(cfg.EnabledProviders) > 0 {
		return cfg.EnabledProviders[0], nil
	}
	return "", domain.ErrInternal
}

func (s *TelephonyService) instance(companyID, providerName string) (domain.TelephonyProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := companyID + "/" + providerName
	if p, ok := s.instances[key]; ok {
		return p, nil
	}
	p, err := s.Factory(companyID, providerName)
	if err != nil {
		return nil, err
	}
	s.instances[key] = p
	return p, nil
}

// MakeCall selects a provider and places a call.
func (s *TelephonyService) MakeCall(ctx domain.Context, companyID string, req domain.CallRequest) (domain.CallResult, error) {
	tr := otel.Tracer("usecase.telephony")
	ctx, span := tr.Start(ctx, "TelephonyService.MakeCall")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	provider, err := s.SelectProvider(ctx, companyID)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("op=MakeCall select provider: %w", err)
	}
	if s.RateLimiter != nil {
		allowed, retryAfter, rlErr := s.RateLimiter.Allow(ctx, provider.Name(), 1)
		if rlErr == nil && !allowed {
			return domain.CallResult{}, fmt.Errorf("op=MakeCall %s: rate limited, retry after %s: %w", provider.Name(), retryAfter, domain.ErrProviderError)
		}
	}
	start := time.Now()
	res, err := provider.MakeCall(ctx, req)
	observability.TelephonyCallDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.TelephonyCallsTotal.WithLabelValues(provider.Name(), "failed").Inc()
		lg.Error("makeCall failed", slog.String("provider", provider.Name()), slog.Any("error", err))
		return domain.CallResult{}, fmt.Errorf("op=MakeCall %s: %w", provider.Name(), domain.ErrProviderError)
	}
	if res.CallID == "" {
		if req.UID != "" {
			res.CallID = req.UID
		} else {
			observability.TelephonyCallsTotal.WithLabelValues(provider.Name(), "failed").Inc()
			return domain.CallResult{}, fmt.Errorf("op=MakeCall %s: no call id and no uid fallback: %w", provider.Name(), domain.ErrProviderError)
		}
	}
	observability.TelephonyCallsTotal.WithLabelValues(provider.Name(), "placed").Inc()
	lg.Info("call placed", slog.String("provider", provider.Name()), slog.String("call_id", res.CallID))
	return res, nil
}

// NormalizeWebhook delegates to the company's currently selected provider.
func (s *TelephonyService) NormalizeWebhook(ctx domain.Context, companyID, method string, query map[string][]string, body []byte) (domain.WebhookEvent, error) {
	provider, err := s.SelectProvider(ctx, companyID)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("op=NormalizeWebhook select provider: %w", err)
	}
	ev, err := provider.NormalizeWebhook(ctx, method, query, body)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("op=NormalizeWebhook %s: %w", provider.Name(), domain.ErrProviderError)
	}
	return ev, nil
}

// RegisterAgent is idempotent: providers treat "already registered" as
// success.
func (s *TelephonyService) RegisterAgent(ctx domain.Context, companyID, agentNumber, agentName string) error {
	provider, err := s.SelectProvider(ctx, companyID)
	if err != nil {
		return fmt.Errorf("op=RegisterAgent select provider: %w", err)
	}
	if err := provider.RegisterAgent(ctx, agentNumber, agentName); err != nil {
		return fmt.Errorf("op=RegisterAgent %s: %w", provider.Name(), domain.ErrProviderError)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func randFloat100() (float64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return 0, err
	}
	return float64(v.Int64()) / 10_000.0, nil
}
