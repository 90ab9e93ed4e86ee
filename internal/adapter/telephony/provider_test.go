package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/surveypipe/internal/domain"
)

func TestNormalizeCallStatus_MapsVendorStringsByCaseInsensitiveSubstring(t *testing.T) {
	cases := map[string]domain.CallStatus{
		"ANSWERED":    domain.CallAnswered,
		"line-busy":   domain.CallBusy,
		"no-answer":   domain.CallNoAnswer,
		"unanswered":  domain.CallNoAnswer,
		"Cancelled":   domain.CallCancelled,
		"call-failed": domain.CallFailed,
		"completed":   domain.CallCompleted,
		"gibberish":   domain.CallFailed,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normalizeCallStatus(raw), "input %q", raw)
	}
}

func TestProviderA_MakeCall_ReturnsCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls", r.URL.Path)
		assert.Equal(t, "Bearer key1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"call_id":"pa-call-1"}`))
	}))
	defer srv.Close()

	p := NewProviderA(srv.URL, "key1", 5*time.Second)
	res, err := p.MakeCall(context.Background(), domain.CallRequest{FromNumber: "+1", ToNumber: "+2"})
	require.NoError(t, err)
	assert.Equal(t, "pa-call-1", res.CallID)
	assert.Equal(t, "provider_a", res.Provider)
}

func TestProviderA_MakeCall_ErrorStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := NewProviderA(srv.URL, "key1", 5*time.Second)
	_, err := p.MakeCall(context.Background(), domain.CallRequest{})
	assert.Error(t, err)
}

func TestProviderA_RegisterAgent_409IsIdempotentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	p := NewProviderA(srv.URL, "key1", 5*time.Second)
	assert.NoError(t, p.RegisterAgent(context.Background(), "+100", "Agent"))
}

func TestProviderA_RegisterAgent_AlreadyRegisteredMessageIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("agent already registered"))
	}))
	defer srv.Close()

	p := NewProviderA(srv.URL, "key1", 5*time.Second)
	assert.NoError(t, p.RegisterAgent(context.Background(), "+100", "Agent"))
}

func TestProviderA_NormalizeWebhook(t *testing.T) {
	p := NewProviderA("", "", time.Second)
	ev, err := p.NormalizeWebhook(context.Background(), "POST", nil, []byte(`{"call_id":"c1","status":"Answered","duration_sec":42}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.CallID)
	assert.Equal(t, domain.CallAnswered, ev.Status)
	assert.Equal(t, 42, ev.DurationSec)
}

func TestProviderB_MakeCall_ReadsCallSidHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010/Calls", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sid1", user)
		assert.Equal(t, "token1", pass)
		w.Header().Set("X-Call-Sid", "pb-call-1")
	}))
	defer srv.Close()

	p := NewProviderB(srv.URL, "sid1", "token1", 5*time.Second)
	res, err := p.MakeCall(context.Background(), domain.CallRequest{FromNumber: "+1", ToNumber: "+2"})
	require.NoError(t, err)
	assert.Equal(t, "pb-call-1", res.CallID)
}

func TestProviderB_NormalizeWebhook_FormEncoded(t *testing.T) {
	p := NewProviderB("", "", "", time.Second)
	ev, err := p.NormalizeWebhook(context.Background(), "POST", nil, []byte("CallSid=c2&CallStatus=busy&CallDuration=10&From=%2B1&To=%2B2"))
	require.NoError(t, err)
	assert.Equal(t, "c2", ev.CallID)
	assert.Equal(t, domain.CallBusy, ev.Status)
	assert.Equal(t, 10, ev.DurationSec)
	assert.Equal(t, "+1", ev.FromNumber)
}

func TestProviderB_RegisterAgent_IsNoOp(t *testing.T) {
	p := NewProviderB("", "", "", time.Second)
	assert.NoError(t, p.RegisterAgent(context.Background(), "+100", "Agent"))
}
