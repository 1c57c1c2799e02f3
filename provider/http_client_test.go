package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderHTTPClient_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
		msg    string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"Message":"Invalid token"}`, ErrUpstreamAuth, "Invalid token"},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"No access"}}`, ErrUpstreamAuth, "No access"},
		{"not found", http.StatusNotFound, `{"error":"missing"}`, ErrUpstreamNotFound, "missing"},
		{"server error", http.StatusInternalServerError, `oops`, ErrUpstream, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewProviderHTTPClient(CreateHTTPClientConfig(Stripe, srv.URL, time.Second))
			resp, err := client.SendJSON(context.Background(), &HTTPRequest{Op: "getStatus", Method: http.MethodGet, Endpoint: "/x"})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, Stripe, perr.Provider)
			assert.Equal(t, tt.msg, perr.Message)
		})
	}
}

func TestProviderHTTPClient_TimeoutIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewProviderHTTPClient(CreateHTTPClientConfig(Papara, srv.URL, 50*time.Millisecond))
	_, err := client.SendJSON(context.Background(), &HTTPRequest{Method: http.MethodGet, Endpoint: "/slow"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrUpstreamNotFound)
}

func TestProviderHTTPClient_SendFormAndHeaders(t *testing.T) {
	var gotForm url.Values
	var gotHeader, gotQuery, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		gotHeader = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("expand")
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"id":"pi_1"}`))
	}))
	defer srv.Close()

	client := NewProviderHTTPClient(CreateHTTPClientConfig(Stripe, srv.URL+"/v1", time.Second))
	resp, err := client.SendForm(context.Background(), &HTTPRequest{
		Method:      http.MethodPost,
		Endpoint:    "payment_intents",
		Headers:     map[string]string{"Authorization": "Bearer sk"},
		FormData:    url.Values{"amount": {"1000"}, "currency": {"usd"}},
		QueryParams: map[string]string{"expand": "latest_charge"},
	})
	require.NoError(t, err)

	var parsed struct{ ID string }
	require.NoError(t, client.ParseJSONResponse(resp, &parsed))
	assert.Equal(t, "pi_1", parsed.ID)
	assert.Equal(t, "1000", gotForm.Get("amount"))
	assert.Equal(t, "Bearer sk", gotHeader)
	assert.Equal(t, "latest_charge", gotQuery)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://a/b", joinURL("https://a/", "/b"))
	assert.Equal(t, "https://a/b", joinURL("https://a", "b"))
	assert.Equal(t, "https://a/b", joinURL("https://a", "/b"))
}

func TestDecodeRaw(t *testing.T) {
	assert.Equal(t, "x", DecodeRaw([]byte(`{"a":"x"}`))["a"])
	assert.Equal(t, "not json", DecodeRaw([]byte(`not json`))["body"])
}
