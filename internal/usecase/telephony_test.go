package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/surveypipe/internal/domain"
)

type stubProvider struct {
	name               string
	callID             string
	makeCallErr        error
	registerCalls      int
	registerAlreadyErr bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) MakeCall(ctx domain.Context, req domain.CallRequest) (domain.CallResult, error) {
	if p.makeCallErr != nil {
		return domain.CallResult{}, p.makeCallErr
	}
	return domain.CallResult{CallID: p.callID, Provider: p.name}, nil
}

func (p *stubProvider) NormalizeWebhook(ctx domain.Context, method string, query map[string][]string, body []byte) (domain.WebhookEvent, error) {
	return domain.WebhookEvent{CallID: "w1"}, nil
}

func (p *stubProvider) RegisterAgent(ctx domain.Context, agentNumber, agentName string) error {
	p.registerCalls++
	return nil // idempotent: already-registered is mapped to success upstream
}

func providerFactory(providers map[string]*stubProvider) ProviderFactory {
	return func(companyID, providerName string) (domain.TelephonyProvider, error) {
		p, ok := providers[providerName]
		if !ok {
			return nil, errors.New("unknown provider")
		}
		return p, nil
	}
}

func TestSelectProvider_Switch(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorA",
		EnabledProviders: []string{"vendorA", "vendorB"}, FallbackProvider: "vendorB",
	})
	providers := map[string]*stubProvider{"vendorA": {name: "vendorA"}, "vendorB": {name: "vendorB"}}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	p, err := svc.SelectProvider(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "vendorA", p.Name())
}

func TestSelectProvider_FallsBackWhenActiveNotEnabled(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorC",
		EnabledProviders: []string{"vendorA", "vendorB"}, FallbackProvider: "vendorB",
	})
	providers := map[string]*stubProvider{"vendorA": {name: "vendorA"}, "vendorB": {name: "vendorB"}}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	p, err := svc.SelectProvider(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "vendorB", p.Name())
}

func TestSelectProvider_Percentage_FallsBackWhenWeightsDontSumTo100(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionPercentage,
		EnabledProviders: []string{"vendorA", "vendorB"},
		Weights:          map[string]float64{"vendorA": 10}, // sums to 10, not 100
		FallbackProvider: "vendorB",
	})
	providers := map[string]*stubProvider{"vendorA": {name: "vendorA"}, "vendorB": {name: "vendorB"}}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	// Run several times: should always land on vendorA's enabled-first
	// fallback path once cumulative weight is exhausted, or on vendorA if
	// the draw happens to fall under 10.
	for i := 0; i < 20; i++ {
		p, err := svc.SelectProvider(context.Background(), "c1")
		require.NoError(t, err)
		assert.Contains(t, []string{"vendorA", "vendorB"}, p.Name())
	}
}

func TestInstanceCaching_OnePerCompanyAndProvider(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorA",
		EnabledProviders: []string{"vendorA"},
	})
	calls := 0
	factory := func(companyID, providerName string) (domain.TelephonyProvider, error) {
		calls++
		return &stubProvider{name: providerName}, nil
	}
	svc := NewTelephonyService(tenants, factory)

	p1, err := svc.SelectProvider(context.Background(), "c1")
	require.NoError(t, err)
	p2, err := svc.SelectProvider(context.Background(), "c1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls, "factory must only be invoked once per (company, provider)")
}

func TestMakeCall_UsesUIDFallbackWhenProviderOmitsCallID(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorA",
		EnabledProviders: []string{"vendorA"},
	})
	providers := map[string]*stubProvider{"vendorA": {name: "vendorA", callID: ""}}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	res, err := svc.MakeCall(context.Background(), "c1", domain.CallRequest{UID: "uid-123"})
	require.NoError(t, err)
	assert.Equal(t, "uid-123", res.CallID)
}

func TestMakeCall_NoCallIDAndNoUIDIsFailure(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorA",
		EnabledProviders: []string{"vendorA"},
	})
	providers := map[string]*stubProvider{"vendorA": {name: "vendorA", callID: ""}}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	_, err := svc.MakeCall(context.Background(), "c1", domain.CallRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestRegisterAgent_IdempotentAcrossCalls(t *testing.T) {
	tenants := newMemTenantRepo(&domain.TenantConfig{
		CompanyID: "c1", SelectionMethod: domain.SelectionSwitch, ActiveProvider: "vendorA",
		EnabledProviders: []string{"vendorA"},
	})
	p := &stubProvider{name: "vendorA"}
	providers := map[string]*stubProvider{"vendorA": p}
	svc := NewTelephonyService(tenants, providerFactory(providers))

	require.NoError(t, svc.RegisterAgent(context.Background(), "c1", "+100", "Agent A"))
	require.NoError(t, svc.RegisterAgent(context.Background(), "c1", "+100", "Agent A"))
	assert.Equal(t, 2, p.registerCalls)
}
