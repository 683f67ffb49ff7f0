package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"orderwatch/internal/resilience"
	"orderwatch/pkg/logx"
)

func TestParseValuesSkipsHeaderAndMapsColumns(t *testing.T) {
	t.Parallel()
	values := [][]any{
		{"Order ID", "Name", "Phone", "WhatsApp", "Status", "Total", "Product", "Tracking"},
		{"A1", "أحمد", "01012345678", "01012345678", "تم الشحن", "450", "ساعة", "TRK-9"},
		{"A2", "منى", "0111 222 3334", "", "", 300.5, "", ""},
	}

	rows := ParseValues(values)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	r := rows[0]
	if r.OrderID != "A1" || r.Status != "تم الشحن" || r.TrackingNumber != "TRK-9" {
		t.Fatalf("unexpected row: %+v", r)
	}
	if !r.HasPrice || r.TotalPrice.String() != "450" {
		t.Fatalf("price = %s has=%v", r.TotalPrice, r.HasPrice)
	}

	r = rows[1]
	if r.WhatsappRaw != "" || r.Status != "" {
		t.Fatalf("unexpected row: %+v", r)
	}
	if !r.HasPrice || r.TotalPrice.String() != "300.5" {
		t.Fatalf("numeric cell price = %s has=%v", r.TotalPrice, r.HasPrice)
	}
}

func TestParseValuesShortAndEmpty(t *testing.T) {
	t.Parallel()
	if got := ParseValues(nil); got != nil {
		t.Fatalf("expected nil for empty values, got %v", got)
	}

	rows := ParseValues([][]any{
		{"header"},
		{"A3"}, // row with only an order id cell
	})
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].OrderID != "A3" || rows[0].Name != "" || rows[0].HasPrice {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestRowUnprocessable(t *testing.T) {
	t.Parallel()
	if !(Row{}).Unprocessable() {
		t.Fatal("empty row must be unprocessable")
	}
	if (Row{OrderID: "A1"}).Unprocessable() {
		t.Fatal("row with an order id is processable")
	}
	if (Row{PhoneRaw: "0101"}).Unprocessable() {
		t.Fatal("row with a phone is processable")
	}
}

func TestFetchRowsMissingConfig(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, logx.Nop())
	_, err := c.FetchRows(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if resilience.IsRetryable(err) {
		t.Fatal("config errors must not be retryable")
	}
}

func TestFetchRowsClassifiesHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		config    bool
		retryable bool
	}{
		{name: "forbidden", status: http.StatusForbidden, config: true},
		{name: "not found", status: http.StatusNotFound, config: true},
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{SpreadsheetID: "sheet", APIKey: "key", BaseURL: srv.URL}, logx.Nop())
			_, err := c.FetchRows(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if IsConfigError(err) != tt.config {
				t.Fatalf("IsConfigError = %v, want %v (%v)", IsConfigError(err), tt.config, err)
			}
			if resilience.IsRetryable(err) != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v (%v)", resilience.IsRetryable(err), tt.retryable, err)
			}
		})
	}
}

func TestFetchRowsOK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "key" {
			t.Errorf("missing api key in query: %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"values":[["h"],["A1","أحمد","01012345678","","",""]]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{SpreadsheetID: "sheet", APIKey: "key", BaseURL: srv.URL}, logx.Nop())
	rows, err := c.FetchRows(context.Background())
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 1 || rows[0].OrderID != "A1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestFetchRowsNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: connection refused

	c := NewClient(Config{SpreadsheetID: "sheet", APIKey: "key", BaseURL: srv.URL}, logx.Nop())
	_, err := c.FetchRows(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !resilience.IsRetryable(err) {
		t.Fatalf("network failure should be retryable: %v", err)
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		t.Fatal("network failure must not classify as config error")
	}
}
