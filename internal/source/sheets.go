// Package source reads order rows from a Google Sheets values range.
//
// Only the boundary lives here: authentication is a plain API key, the row
// schema is fixed by column position, and all transport failures are
// classified for the resilience layer (configuration errors are permanent,
// network errors transient).
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orderwatch/internal/resilience"
	"orderwatch/pkg/logx"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// Sheet column layout (zero-based). The first sheet row is a header and is
// skipped.
const (
	colOrderID = iota
	colName
	colPhone
	colWhatsapp
	colStatus
	colTotalPrice
	colProductName
	colTrackingNumber
)

// ConfigError means the source cannot be used at all until an operator
// fixes credentials or the target sheet. It is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "source not configured: " + e.Reason }

// IsConfigError reports whether err is a source configuration failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

type Config struct {
	SpreadsheetID string
	Range         string
	APIKey        string

	// BaseURL overrides the sheets endpoint (tests, proxies).
	BaseURL string
	Timeout time.Duration
}

// Client fetches rows from one spreadsheet range.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Range == "" {
		cfg.Range = "Orders!A:H"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// valuesResponse is the sheets values.get payload.
type valuesResponse struct {
	Values [][]any `json:"values"`
}

// FetchRows retrieves and parses the configured range.
func (c *Client) FetchRows(ctx context.Context) ([]Row, error) {
	if strings.TrimSpace(c.cfg.SpreadsheetID) == "" {
		return nil, resilience.NoRetry(&ConfigError{Reason: "spreadsheet id is empty"})
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, resilience.NoRetry(&ConfigError{Reason: "api key is empty"})
	}

	u := fmt.Sprintf("%s/%s/values/%s?key=%s",
		c.cfg.BaseURL,
		url.PathEscape(c.cfg.SpreadsheetID),
		url.PathEscape(c.cfg.Range),
		url.QueryEscape(c.cfg.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, resilience.NoRetry(fmt.Errorf("build request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Anything the HTTP client itself reports is a network-level failure.
		return nil, resilience.Transient(fmt.Errorf("sheets request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("sheets response read: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resilience.NoRetry(&ConfigError{Reason: fmt.Sprintf("sheets rejected credentials (HTTP %d)", resp.StatusCode)})
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.NoRetry(&ConfigError{Reason: "spreadsheet or range not found"})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resilience.Transient(fmt.Errorf("sheets HTTP %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("sheets HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var vr valuesResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("sheets response decode: %w", err)
	}

	rows := ParseValues(vr.Values)
	c.log.Debug("rows fetched", logx.Int("rows", len(rows)))
	return rows, nil
}

// ParseValues maps raw sheet cells to Rows. Row zero is the header and is
// always skipped.
func ParseValues(values [][]any) []Row {
	if len(values) == 0 {
		return nil
	}
	rows := make([]Row, 0, len(values)-1)
	for _, raw := range values[1:] {
		rows = append(rows, parseRow(raw))
	}
	return rows
}

func parseRow(cells []any) Row {
	r := Row{
		OrderID:        cellString(cells, colOrderID),
		Name:           cellString(cells, colName),
		PhoneRaw:       cellString(cells, colPhone),
		WhatsappRaw:    cellString(cells, colWhatsapp),
		Status:         cellString(cells, colStatus),
		ProductName:    cellString(cells, colProductName),
		TrackingNumber: cellString(cells, colTrackingNumber),
	}
	if raw := cellString(cells, colTotalPrice); raw != "" {
		if d, err := decimal.NewFromString(normalizeNumber(raw)); err == nil {
			r.TotalPrice = d
			r.HasPrice = true
		}
	}
	return r
}

func cellString(cells []any, idx int) string {
	if idx >= len(cells) {
		return ""
	}
	switch v := cells[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// normalizeNumber strips currency decoration sellers type into price cells.
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "EGP")
	s = strings.TrimSuffix(s, "جنيه")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
