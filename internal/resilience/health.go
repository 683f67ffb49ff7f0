package resilience

import (
	"fmt"
	"time"
)

// Verdict is the aggregated health of all wrapped dependencies.
type Verdict string

const (
	Healthy  Verdict = "healthy"
	Degraded Verdict = "degraded"
	Critical Verdict = "critical"
)

// HealthReport aggregates per-dependency breaker state plus recommendations
// an operator can act on.
type HealthReport struct {
	Overall         Verdict           `json:"overall"`
	Dependencies    []BreakerSnapshot `json:"dependencies"`
	Recommendations []string          `json:"recommendations,omitempty"`
	CheckedAt       time.Time         `json:"checked_at"`
}

// PerformHealthCheck derives a verdict from breaker state: any open breaker
// is critical, a half-open breaker or accumulating failures is degraded.
func (w *Wrapper) PerformHealthCheck() HealthReport {
	now := time.Now()
	st := w.Stats()

	rep := HealthReport{Overall: Healthy, Dependencies: st.Breakers, CheckedAt: now}
	for _, b := range st.Breakers {
		switch {
		case b.State == StateOpen:
			rep.Overall = Critical
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("%s is failing fast (open since %s); check connectivity or credentials", b.Label, b.OpenedAt.Format(time.RFC3339)))
		case b.State == StateHalfOpen:
			if rep.Overall == Healthy {
				rep.Overall = Degraded
			}
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("%s is probing after an outage; expect delayed notifications", b.Label))
		case b.ConsecutiveFailures > 0:
			if rep.Overall == Healthy {
				rep.Overall = Degraded
			}
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("%s has %d consecutive failure(s)", b.Label, b.ConsecutiveFailures))
		}
	}
	return rep
}
