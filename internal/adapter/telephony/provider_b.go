package telephony

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldops/surveypipe/internal/domain"
)

// ProviderB is a REST provider whose webhook callbacks are form-encoded
// rather than JSON, modeled abstractly on common IVR vendors (no real
// vendor wire format, per spec non-goals).
type ProviderB struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	HTTPClient *http.Client
}

// NewProviderB constructs a ProviderB client.
func NewProviderB(baseURL, accountSID, authToken string, timeout time.Duration) *ProviderB {
	return &ProviderB{BaseURL: baseURL, AccountSID: accountSID, AuthToken: authToken, HTTPClient: &http.Client{Timeout: timeout}}
}

// Name returns the provider's logical name.
func (p *ProviderB) Name() string { return "provider_b" }

// MakeCall places a call through the vendor's form-encoded API.
func (p *ProviderB) MakeCall(ctx domain.Context, req domain.CallRequest) (domain.CallResult, error) {
	form := url.Values{}
	form.Set("From", req.FromNumber)
	form.Set("To", req.ToNumber)
	form.Set("TimeLimit", strconv.Itoa(req.TimeLimit))
	if req.UID != "" {
		form.Set("Uid", req.UID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/2010/Calls", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.AccountSID, p.AuthToken)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.CallResult{}, fmt.Errorf("provider_b status %d", resp.StatusCode)
	}

	callID := resp.Header.Get("X-Call-Sid")
	return domain.CallResult{CallID: callID, Provider: p.Name()}, nil
}

// NormalizeWebhook parses ProviderB's form-encoded webhook body.
func (p *ProviderB) NormalizeWebhook(_ domain.Context, _ string, _ map[string][]string, body []byte) (domain.WebhookEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("parse form webhook: %w", err)
	}
	durationSec, _ := strconv.Atoi(values.Get("CallDuration"))
	return domain.WebhookEvent{
		CallID:         values.Get("CallSid"),
		FromNumber:     values.Get("From"),
		ToNumber:       values.Get("To"),
		AnsweredNumber: values.Get("AnsweredBy"),
		Status:         normalizeCallStatus(values.Get("CallStatus")),
		DurationSec:    durationSec,
		RecordingURL:   values.Get("RecordingUrl"),
		Direction:      values.Get("Direction"),
	}, nil
}

// RegisterAgent is a no-op for ProviderB, which requires no pre-registration.
func (p *ProviderB) RegisterAgent(_ domain.Context, _, _ string) error {
	return nil
}
