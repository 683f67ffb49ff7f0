// Package transport is the boundary to the WhatsApp messaging gateway.
//
// Session lifecycle (pairing, reconnects, browser automation) belongs to the
// gateway process; this client only sends messages, checks number
// registration and reads connection status.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orderwatch/internal/resilience"
	"orderwatch/pkg/logx"
)

// ErrNotConnected is a per-row, non-fatal condition: the gateway session is
// down, so registration is unknowable right now.
var ErrNotConnected = errors.New("whatsapp gateway not connected")

// Status mirrors the gateway's session state.
type Status struct {
	IsConnected   bool `json:"is_connected"`
	SessionExists bool `json:"session_exists"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the gateway's HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type checkRequest struct {
	Phone string `json:"phone"`
}

type checkResponse struct {
	Registered bool `json:"registered"`
}

// SendText delivers one rendered message to a canonical phone number.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return resilience.NoRetry(errors.New("whatsapp gateway url is empty"))
	}
	body, err := json.Marshal(sendRequest{Phone: phone, Message: text})
	if err != nil {
		return resilience.NoRetry(err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/send-message", body)
	if err != nil {
		return err
	}
	defer drain(resp)

	return c.classify(resp, "send")
}

// IsRegistered asks the gateway whether the number has a WhatsApp account.
func (c *Client) IsRegistered(ctx context.Context, phone string) (bool, error) {
	body, err := json.Marshal(checkRequest{Phone: phone})
	if err != nil {
		return false, resilience.NoRetry(err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/check-number", body)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	if err := c.classify(resp, "check"); err != nil {
		return false, err
	}
	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, fmt.Errorf("check response decode: %w", err)
	}
	return cr.Registered, nil
}

// ConnectionStatus reads the gateway's session state.
func (c *Client) ConnectionStatus(ctx context.Context) (Status, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return Status{}, err
	}
	defer drain(resp)

	if err := c.classify(resp, "status"); err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("status response decode: %w", err)
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, rd)
	if err != nil {
		return nil, resilience.NoRetry(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("gateway request: %w", err))
	}
	return resp, nil
}

// classify maps gateway HTTP status codes onto the retry taxonomy.
func (c *Client) classify(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resilience.NoRetry(fmt.Errorf("gateway %s rejected token (HTTP %d)", op, resp.StatusCode))
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusServiceUnavailable:
		// The gateway reports a missing session on these.
		return ErrNotConnected
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resilience.Transient(fmt.Errorf("gateway %s HTTP %d", op, resp.StatusCode))
	default:
		return fmt.Errorf("gateway %s HTTP %d", op, resp.StatusCode)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
