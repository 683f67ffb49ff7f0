package engine

import (
	"sync"
	"time"

	"orderwatch/internal/cache"
)

// DetailedStats are row-processing counters accumulated across cycles.
type DetailedStats struct {
	CyclesCompleted uint64 `json:"cycles_completed"`
	CyclesFailed    uint64 `json:"cycles_failed"`

	RowsSeen          uint64 `json:"rows_seen"`
	RowsUnprocessable uint64 `json:"rows_unprocessable"`
	PhonesValid       uint64 `json:"phones_valid"`
	PhonesInvalid     uint64 `json:"phones_invalid"`
	UnknownStatuses   uint64 `json:"unknown_statuses"`

	SkippedDisabled     uint64 `json:"skipped_disabled"`
	SkippedUnregistered uint64 `json:"skipped_unregistered"`
	EnqueueFailures     uint64 `json:"enqueue_failures"`
	Dispatched          uint64 `json:"dispatched"`
	RemindersScheduled  uint64 `json:"reminders_scheduled"`

	// DispatchedByType groups accepted dispatches by message type.
	DispatchedByType map[string]uint64 `json:"dispatched_by_type"`
}

// PerformanceStats cover timing, cache behavior and remote call volume.
type PerformanceStats struct {
	LastCycleMillis int64       `json:"last_cycle_ms"`
	AvgCycleMillis  int64       `json:"avg_cycle_ms"`
	CyclesMeasured  uint64      `json:"cycles_measured"`
	RowCache        cache.Stats `json:"row_cache"`
	PhoneCache      cache.Stats `json:"phone_cache"`
	// APICalls counts outbound calls per dependency label (cache hits on the
	// row fetch do not count).
	APICalls map[string]uint64 `json:"api_calls"`
}

// statsCollector is written only from cycle execution and read by the
// observability accessors.
type statsCollector struct {
	mu       sync.Mutex
	detailed DetailedStats

	totalCycleDur time.Duration
	lastCycleDur  time.Duration
	measured      uint64
	apiCalls      map[string]uint64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		detailed: DetailedStats{DispatchedByType: map[string]uint64{}},
		apiCalls: map[string]uint64{},
	}
}

func (s *statsCollector) mutate(fn func(d *DetailedStats)) {
	s.mu.Lock()
	fn(&s.detailed)
	s.mu.Unlock()
}

func (s *statsCollector) countAPICall(label string) {
	s.mu.Lock()
	s.apiCalls[label]++
	s.mu.Unlock()
}

func (s *statsCollector) recordCycle(d time.Duration, failed bool) {
	s.mu.Lock()
	if failed {
		s.detailed.CyclesFailed++
	} else {
		s.detailed.CyclesCompleted++
	}
	s.lastCycleDur = d
	s.totalCycleDur += d
	s.measured++
	s.mu.Unlock()
}

func (s *statsCollector) detailedSnapshot() DetailedStats {
	s.mu.Lock()
	out := s.detailed
	out.DispatchedByType = make(map[string]uint64, len(s.detailed.DispatchedByType))
	for k, v := range s.detailed.DispatchedByType {
		out.DispatchedByType[k] = v
	}
	s.mu.Unlock()
	return out
}

func (s *statsCollector) performanceSnapshot(rowCache, phoneCache cache.Stats) PerformanceStats {
	s.mu.Lock()
	out := PerformanceStats{
		LastCycleMillis: s.lastCycleDur.Milliseconds(),
		CyclesMeasured:  s.measured,
		RowCache:        rowCache,
		PhoneCache:      phoneCache,
		APICalls:        make(map[string]uint64, len(s.apiCalls)),
	}
	if s.measured > 0 {
		out.AvgCycleMillis = (s.totalCycleDur / time.Duration(s.measured)).Milliseconds()
	}
	for k, v := range s.apiCalls {
		out.APICalls[k] = v
	}
	s.mu.Unlock()
	return out
}
