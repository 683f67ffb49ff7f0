package alert

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"orderwatch/internal/eventbus"
	"orderwatch/pkg/logx"
)

func testService(sent *[]string, perMin int) *Service {
	s := &Service{
		cfg:     Config{ChatID: 1, RatePerMin: perMin},
		log:     logx.Nop(),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
	}
	s.send = func(text string) error {
		*sent = append(*sent, text)
		return nil
	}
	return s
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   eventbus.Event
		want string // substring, "" means no alert
	}{
		{
			"health transition",
			eventbus.Event{Type: eventbus.TypeHealthChanged, Data: map[string]any{
				"previous": "healthy", "overall": "critical",
				"recommendations": []string{"source.fetch is failing fast"},
			}},
			"healthy → critical",
		},
		{"stuck cycle", eventbus.Event{Type: eventbus.TypeCycleStuck}, "stuck"},
		{
			"cycle failed",
			eventbus.Event{Type: eventbus.TypeCycleFailed, Data: map[string]any{"error": "boom"}},
			"boom",
		},
		{"routine event ignored", eventbus.Event{Type: eventbus.TypeCycleCompleted}, ""},
		{"dispatch noise ignored", eventbus.Event{Type: eventbus.TypeDispatchSent}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			if tt.want == "" {
				if got != "" {
					t.Fatalf("expected no alert, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("message %q missing %q", got, tt.want)
			}
		})
	}
}

func TestHealthRecommendationsListed(t *testing.T) {
	got := formatEvent(eventbus.Event{Type: eventbus.TypeHealthChanged, Data: map[string]any{
		"previous": "healthy", "overall": "degraded",
		"recommendations": []string{"a", "b"},
	}})
	if !strings.Contains(got, "• a") || !strings.Contains(got, "• b") {
		t.Fatalf("recommendations missing: %q", got)
	}
}

func TestRateLimitDropsExcessAlerts(t *testing.T) {
	var sent []string
	s := testService(&sent, 2)

	for i := 0; i < 5; i++ {
		s.handle(eventbus.Event{Type: eventbus.TypeCycleStuck})
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d alerts, want 2 (burst)", len(sent))
	}
	if s.dropped != 3 {
		t.Fatalf("dropped = %d, want 3", s.dropped)
	}
}

func TestRoutineEventsDoNotConsumeRateLimit(t *testing.T) {
	var sent []string
	s := testService(&sent, 1)

	for i := 0; i < 10; i++ {
		s.handle(eventbus.Event{Type: eventbus.TypeDispatchQueued})
	}
	s.handle(eventbus.Event{Type: eventbus.TypeCycleStuck})
	if len(sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sent))
	}
}
