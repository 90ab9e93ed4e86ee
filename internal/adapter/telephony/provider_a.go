package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/surveypipe/internal/domain"
)

// ProviderA is a REST/JSON-webhook telephony provider, modeled abstractly
// on common IVR/calling vendors (no real vendor wire format, per spec
// non-goals).
type ProviderA struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewProviderA constructs a ProviderA client.
func NewProviderA(baseURL, apiKey string, timeout time.Duration) *ProviderA {
	return &ProviderA{BaseURL: baseURL, APIKey: apiKey, HTTPClient: &http.Client{Timeout: timeout}}
}

// Name returns the provider's logical name.
func (p *ProviderA) Name() string { return "provider_a" }

type providerACallRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	FromType  string `json:"from_type"`
	ToType    string `json:"to_type"`
	TimeLimit int    `json:"time_limit_sec"`
	UID       string `json:"uid,omitempty"`
}

type providerACallResponse struct {
	CallID string `json:"call_id"`
}

// MakeCall places a call through the vendor's JSON API.
func (p *ProviderA) MakeCall(ctx domain.Context, req domain.CallRequest) (domain.CallResult, error) {
	body, err := json.Marshal(providerACallRequest{
		From: req.FromNumber, To: req.ToNumber,
		FromType: req.FromType, ToType: req.ToType,
		TimeLimit: req.TimeLimit, UID: req.UID,
	})
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.CallResult{}, fmt.Errorf("provider_a status %d: %s", resp.StatusCode, string(raw))
	}

	var out providerACallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.CallResult{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return domain.CallResult{CallID: out.CallID, Provider: p.Name(), RawResponse: raw}, nil
}

// NormalizeWebhook parses ProviderA's JSON webhook body into the uniform
// WebhookEvent shape, mapping vendor status strings by case-insensitive
// substring.
func (p *ProviderA) NormalizeWebhook(_ domain.Context, _ string, _ map[string][]string, body []byte) (domain.WebhookEvent, error) {
	var payload struct {
		CallID       string `json:"call_id"`
		UID          string `json:"uid"`
		From         string `json:"from"`
		To           string `json:"to"`
		Answered     string `json:"answered_number"`
		Status       string `json:"status"`
		DurationSec  int    `json:"duration_sec"`
		RecordingURL string `json:"recording_url"`
		Direction    string `json:"direction"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("unmarshal webhook: %w", err)
	}
	return domain.WebhookEvent{
		CallID:         payload.CallID,
		UID:            payload.UID,
		FromNumber:     payload.From,
		ToNumber:       payload.To,
		AnsweredNumber: payload.Answered,
		Status:         normalizeCallStatus(payload.Status),
		DurationSec:    payload.DurationSec,
		RecordingURL:   payload.RecordingURL,
		Direction:      payload.Direction,
	}, nil
}

// RegisterAgent is idempotent: a 409 (or a message claiming the agent is
// already registered) is treated as success.
func (p *ProviderA) RegisterAgent(ctx domain.Context, agentNumber, agentName string) error {
	body, _ := json.Marshal(map[string]string{"agent_number": agentNumber, "agent_name": agentName})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/agents", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(string(raw)), "already registered") {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider_a register status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// normalizeCallStatus maps vendor status strings by case-insensitive
// substring.
func normalizeCallStatus(raw string) domain.CallStatus {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "no") || strings.Contains(s, "unans"):
		return domain.CallNoAnswer
	case strings.Contains(s, "answer"):
		return domain.CallAnswered
	case strings.Contains(s, "busy"):
		return domain.CallBusy
	case strings.Contains(s, "cancel"):
		return domain.CallCancelled
	case strings.Contains(s, "fail"):
		return domain.CallFailed
	case strings.Contains(s, "complet"):
		return domain.CallCompleted
	default:
		return domain.CallFailed
	}
}
