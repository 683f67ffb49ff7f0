package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"orderwatch/internal/resilience"
	"orderwatch/pkg/logx"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "tok"}, logx.Nop())
}

func TestSendTextOK(t *testing.T) {
	t.Parallel()
	var got sendRequest
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/send-message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SendText(context.Background(), "+201012345678", "مرحبا"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.Phone != "+201012345678" || got.Message != "مرحبا" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSendTextServerErrorIsTransient(t *testing.T) {
	t.Parallel()
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.SendText(context.Background(), "+201012345678", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !resilience.IsRetryable(err) {
		t.Fatalf("5xx should be retryable: %v", err)
	}
}

func TestSendTextBadTokenNotRetryable(t *testing.T) {
	t.Parallel()
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := c.SendText(context.Background(), "+201012345678", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if resilience.IsRetryable(err) {
		t.Fatalf("auth failure must not be retried: %v", err)
	}
}

func TestNotConnectedCondition(t *testing.T) {
	t.Parallel()
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.IsRegistered(context.Background(), "+201012345678")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestIsRegisteredAndStatus(t *testing.T) {
	t.Parallel()
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/check-number":
			_, _ = w.Write([]byte(`{"registered":true}`))
		case "/api/status":
			_, _ = w.Write([]byte(`{"is_connected":true,"session_exists":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ok, err := c.IsRegistered(context.Background(), "+201012345678")
	if err != nil || !ok {
		t.Fatalf("IsRegistered = %v, %v", ok, err)
	}

	st, err := c.ConnectionStatus(context.Background())
	if err != nil {
		t.Fatalf("ConnectionStatus: %v", err)
	}
	if !st.IsConnected || !st.SessionExists {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestEmptyBaseURLIsConfigFailure(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, logx.Nop())
	err := c.SendText(context.Background(), "+201012345678", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if resilience.IsRetryable(err) {
		t.Fatal("missing gateway url must not be retryable")
	}
}
