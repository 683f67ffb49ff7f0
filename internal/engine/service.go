package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"orderwatch/internal/cache"
	"orderwatch/internal/dedup"
	"orderwatch/internal/dispatch"
	"orderwatch/internal/eventbus"
	"orderwatch/internal/message"
	"orderwatch/internal/phone"
	"orderwatch/internal/resilience"
	"orderwatch/internal/source"
	"orderwatch/internal/storage"
	"orderwatch/internal/transport"
	"orderwatch/pkg/logx"
)

// ErrCycleRunning is returned by RunOnceNow while a cycle is in flight.
// Forced runs are rejected, never queued.
var ErrCycleRunning = errors.New("cycle already running")

// RowSource fetches the current order rows.
type RowSource interface {
	FetchRows(ctx context.Context) ([]source.Row, error)
}

// Transport is the messaging gateway surface the engine consults directly.
// Actual sends happen inside the dispatch workers.
type Transport interface {
	IsRegistered(ctx context.Context, phone string) (bool, error)
	ConnectionStatus(ctx context.Context) (transport.Status, error)
}

// Dispatcher accepts rendered notification jobs.
type Dispatcher interface {
	Enqueue(job dispatch.Job, opts *dispatch.Options) error
}

// Config holds the engine's timing and policy knobs. The config package
// validates ranges before anything reaches here.
type Config struct {
	CheckInterval      time.Duration
	ReminderDelay      time.Duration
	RejectedOfferDelay time.Duration
	MinResendInterval  time.Duration
	RowCacheTTL        time.Duration

	// StuckAfter flags an in-flight cycle as stuck in health reports.
	// Zero means three check intervals.
	StuckAfter time.Duration

	// SkipUnregistered drops rows whose phone is not registered on the
	// transport. Only consulted while the gateway reports connected.
	SkipUnregistered bool

	// EnabledTypes is the message-type allow-list. Empty means all types.
	EnabledTypes []message.Type

	// Templates overrides the built-in message bodies per type.
	Templates map[message.Type]string

	FetchPolicy resilience.Policy
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.MinResendInterval <= 0 {
		c.MinResendInterval = 30 * time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 3 * c.CheckInterval
	}
	return c
}

// Status is the engine's lifecycle snapshot.
type Status struct {
	IsRunning     bool      `json:"is_running"`
	CycleInFlight bool      `json:"cycle_in_flight"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitzero"`
	NextCycleAt   time.Time `json:"next_cycle_at,omitzero"`
}

// Engine owns the recurring reconciliation cycle and all cross-cycle state
// (status history, duplicate ledger, row cache). One instance per process.
type Engine struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	src  RowSource
	tp   Transport
	disp Dispatcher
	res  *resilience.Wrapper

	history    *HistoryStore
	ledger     *dedup.Ledger
	rowCache   *cache.Cache[[]source.Row]
	phoneCache *cache.Cache[phone.Result]
	stats      *statsCollector

	// store is optional durability for the two ledgers; nil when disabled.
	store storage.Store

	// inFlight is the single-cycle reentrancy guard, taken with TryLock at
	// cycle entry and released at exit, including on error.
	inFlight sync.Mutex

	mu           sync.Mutex
	cron         *cron.Cron
	entryID      cron.EntryID
	started      bool
	lastCycleAt  time.Time
	cycleStartAt time.Time
	stuckFlagged bool
}

func New(cfg Config, src RowSource, tp Transport, disp Dispatcher, res *resilience.Wrapper, store storage.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		log:        log.With(logx.String("component", "engine")),
		bus:        bus,
		src:        src,
		tp:         tp,
		disp:       disp,
		res:        res,
		store:      store,
		history:    NewHistoryStore(),
		ledger:     dedup.New(),
		rowCache:   cache.New[[]source.Row](),
		phoneCache: cache.New[phone.Result](),
		stats:      newStatsCollector(),
	}
}

// Start rehydrates persisted state and begins the recurring cycle timer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	e.rehydrate(ctx)

	c := cron.New()
	id, err := c.AddFunc("@every "+e.cfg.CheckInterval.String(), func() {
		if err := e.runCycle(context.Background(), false); err != nil {
			if errors.Is(err, ErrCycleRunning) {
				e.log.Warn("scheduled cycle skipped, previous cycle still in flight")
				return
			}
			e.log.Error("cycle failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	c.Start()

	e.cron = c
	e.entryID = id
	e.started = true
	e.log.Info("engine started",
		logx.Duration("interval", e.cfg.CheckInterval),
		logx.Duration("min_resend", e.cfg.MinResendInterval),
		logx.Int("history", e.history.Len()),
		logx.Int("ledger", e.ledger.Len()))
	return nil
}

// Stop cancels future timer firings. It does not interrupt an in-flight
// cycle; it waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	c := e.cron
	e.cron = nil
	e.started = false
	e.mu.Unlock()

	stopCtx := c.Stop()
	<-stopCtx.Done()

	// Wait for an in-flight cycle.
	e.inFlight.Lock()
	e.inFlight.Unlock()
	e.log.Info("engine stopped")
}

// RunOnceNow triggers an out-of-band cycle. Returns ErrCycleRunning when a
// cycle is already executing.
func (e *Engine) RunOnceNow(ctx context.Context) error {
	return e.runCycle(ctx, true)
}

// Status reports the engine lifecycle snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		IsRunning:   e.started,
		LastCycleAt: e.lastCycleAt,
		CycleInFlight: func() bool {
			return !e.cycleStartAt.IsZero() && e.cycleStartAt.After(e.lastCycleAt)
		}(),
	}
	if e.started && e.cron != nil {
		st.NextCycleAt = e.cron.Entry(e.entryID).Next
	}
	e.mu.Unlock()
	return st
}

// Health merges the resilience wrapper's dependency report with the
// stuck-cycle hazard: an in-flight cycle older than StuckAfter blocks every
// future cycle and must surface as critical.
func (e *Engine) Health() resilience.HealthReport {
	rep := e.res.PerformHealthCheck()

	e.mu.Lock()
	start := e.cycleStartAt
	last := e.lastCycleAt
	flagged := e.stuckFlagged
	e.mu.Unlock()

	inFlight := !start.IsZero() && start.After(last)
	if inFlight && time.Since(start) > e.cfg.StuckAfter {
		rep.Overall = resilience.Critical
		rep.Recommendations = append(rep.Recommendations,
			"cycle in flight for "+time.Since(start).Truncate(time.Second).String()+", engine may be stuck")
		if !flagged {
			e.mu.Lock()
			e.stuckFlagged = true
			e.mu.Unlock()
			e.publish(eventbus.TypeCycleStuck, map[string]any{"started_at": start})
		}
	}
	return rep
}

// DetailedStats returns row-processing counters.
func (e *Engine) DetailedStats() DetailedStats {
	return e.stats.detailedSnapshot()
}

// PerformanceStats returns timing, cache and API call counters.
func (e *Engine) PerformanceStats() PerformanceStats {
	return e.stats.performanceSnapshot(e.rowCache.Stats(), e.phoneCache.Stats())
}

// DuplicatePreventionStats groups suppressed sends by message type.
func (e *Engine) DuplicatePreventionStats() map[string]uint64 {
	return e.ledger.StatsByType()
}

// StatusHistory returns the observed-status ledger, sorted by order id.
func (e *Engine) StatusHistory() []HistoryEntry {
	return e.history.Entries()
}

// ResetStatusHistory clears observed statuses; the next cycle treats every
// row as new.
func (e *Engine) ResetStatusHistory(ctx context.Context) error {
	e.history.Reset()
	e.log.Warn("status history reset")
	if e.store != nil {
		return e.store.ClearStatuses(ctx)
	}
	return nil
}

// ResetDuplicatePrevention clears the suppression ledger, allowing immediate
// re-sends for every key.
func (e *Engine) ResetDuplicatePrevention(ctx context.Context) error {
	e.ledger.Reset()
	e.log.Warn("duplicate prevention ledger reset")
	if e.store != nil {
		return e.store.ClearDedup(ctx)
	}
	return nil
}

func (e *Engine) rehydrate(ctx context.Context) {
	if e.store == nil {
		return
	}
	dedupRecs, err := e.store.LoadDedup(ctx)
	if err != nil {
		e.log.Error("dedup rehydrate failed", logx.Err(err))
	} else if len(dedupRecs) > 0 {
		entries := make([]dedup.Entry, 0, len(dedupRecs))
		for _, r := range dedupRecs {
			entries = append(entries, dedup.Entry{Key: r.Key, LastSentAt: r.LastSentAt})
		}
		e.ledger.Restore(entries)
	}

	statusRecs, err := e.store.LoadStatuses(ctx)
	if err != nil {
		e.log.Error("status rehydrate failed", logx.Err(err))
	} else if len(statusRecs) > 0 {
		entries := make([]HistoryEntry, 0, len(statusRecs))
		for _, r := range statusRecs {
			entries = append(entries, HistoryEntry{OrderID: r.OrderID, Status: r.Status, ObservedAt: r.ObservedAt})
		}
		e.history.Restore(entries)
	}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
