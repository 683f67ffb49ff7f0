// Package app wires the daemon together: config, logging, storage, the
// sheet source, the gateway transport, the dispatch pipeline, the
// reconciliation engine and operator alerts.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"orderwatch/internal/alert"
	"orderwatch/internal/config"
	"orderwatch/internal/dispatch"
	"orderwatch/internal/engine"
	"orderwatch/internal/eventbus"
	"orderwatch/internal/message"
	"orderwatch/internal/resilience"
	"orderwatch/internal/source"
	"orderwatch/internal/storage"
	"orderwatch/internal/transport"
	"orderwatch/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store  storage.Store
	res    *resilience.Wrapper
	disp   *dispatch.Service
	eng    *engine.Engine
	alerts *alert.Service

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("component", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	srcTimeout, err := config.ParseDurationField("source.timeout", cfg.Source.Timeout)
	if err != nil {
		return nil, err
	}
	src := source.NewClient(source.Config{
		SpreadsheetID: cfg.Source.SpreadsheetID,
		Range:         cfg.Source.Range,
		APIKey:        cfg.Source.APIKey,
		BaseURL:       cfg.Source.BaseURL,
		Timeout:       srcTimeout,
	}, log.With(logx.String("component", "source")))

	tpTimeout, err := config.ParseDurationField("transport.timeout", cfg.Transport.Timeout)
	if err != nil {
		return nil, err
	}
	tp := transport.NewClient(transport.Config{
		BaseURL: cfg.Transport.BaseURL,
		Token:   cfg.Transport.Token,
		Timeout: tpTimeout,
	}, log.With(logx.String("component", "transport")))

	retryBase, err := config.ParseDurationField("resilience.retry_base", cfg.Resilience.RetryBase)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := config.ParseDurationField("resilience.retry_max_delay", cfg.Resilience.RetryMaxDelay)
	if err != nil {
		return nil, err
	}
	breakerCooldown, err := config.ParseDurationField("resilience.breaker_cooldown", cfg.Resilience.BreakerCooldown)
	if err != nil {
		return nil, err
	}
	policy := resilience.Policy{
		MaxRetries: cfg.Resilience.RetryMax,
		BaseDelay:  retryBase,
		MaxDelay:   retryMaxDelay,
	}
	res := resilience.New(resilience.Config{
		Policy:           policy,
		BreakerThreshold: cfg.Resilience.BreakerThreshold,
		BreakerCooldown:  breakerCooldown,
	}, log.With(logx.String("component", "resilience")))

	// Dispatch workers send through the same resilience wrapper so transport
	// outages trip one shared breaker.
	sendFn := func(ctx context.Context, job dispatch.Job) error {
		return res.ExecuteWithRetry(ctx, "transport.send", policy, func(ctx context.Context) error {
			return tp.SendText(ctx, job.Phone, job.Text)
		})
	}
	disp := dispatch.New(dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, sendFn, log.With(logx.String("component", "dispatch")), bus)

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, src, tp, disp, res, store, bus, log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log.With(logx.String("component", "app")),
		bus:     bus,
		store:   store,
		res:     res,
		disp:    disp,
		eng:     eng,
	}

	if cfg.Alert != nil && cfg.Alert.Enabled {
		pollTimeout, err := config.ParseDurationField("alert.poll_timeout", cfg.Alert.PollTimeout)
		if err != nil {
			return nil, err
		}
		alerts, err := alert.New(alert.Config{
			Token:       cfg.Alert.Token,
			ChatID:      cfg.Alert.ChatID,
			RatePerMin:  cfg.Alert.RatePerMin,
			PollTimeout: pollTimeout,
		}, bus, a.StatusSummary, log)
		if err != nil {
			return nil, fmt.Errorf("alert service: %w", err)
		}
		a.alerts = alerts
	}
	return a, nil
}

// engineConfig translates the config file's timing fields (already clamped
// by Normalize) into engine units.
func engineConfig(cfg *config.Config) (engine.Config, error) {
	minResend, err := config.ParseDurationOrDefault("engine.min_resend_interval", cfg.Engine.MinResendInterval, 30*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	stuckAfter, err := config.ParseDurationField("engine.stuck_after", cfg.Engine.StuckAfter)
	if err != nil {
		return engine.Config{}, err
	}
	cacheTTL, err := config.ParseDurationField("source.cache_ttl", cfg.Source.CacheTTL)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("resilience.retry_base", cfg.Resilience.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}

	var enabled []message.Type
	for _, s := range cfg.Engine.EnabledStatuses {
		enabled = append(enabled, message.Type(s))
	}
	templates := map[message.Type]string{}
	for name, body := range cfg.Templates {
		templates[message.Type(name)] = body
	}

	return engine.Config{
		CheckInterval:      time.Duration(cfg.Engine.CheckIntervalSeconds) * time.Second,
		ReminderDelay:      time.Duration(cfg.Engine.ReminderDelayHours) * time.Hour,
		RejectedOfferDelay: time.Duration(cfg.Engine.RejectedOfferDelayHours) * time.Hour,
		MinResendInterval:  minResend,
		RowCacheTTL:        cacheTTL,
		StuckAfter:         stuckAfter,
		SkipUnregistered:   cfg.Transport.SkipUnregistered,
		EnabledTypes:       enabled,
		Templates:          templates,
		FetchPolicy: resilience.Policy{
			MaxRetries: cfg.Resilience.RetryMax,
			BaseDelay:  retryBase,
		},
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.disp.Start(rctx)
	if err := a.eng.Start(rctx); err != nil {
		cancel()
		a.cancel = nil
		return err
	}
	if a.alerts != nil {
		a.alerts.Start(rctx)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(rctx)
	}()
	go func() {
		defer a.wg.Done()
		a.watchConfig(rctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.healthLoop(rctx)
	}()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	a.eng.Stop()
	a.disp.Stop(ctx)
	if a.alerts != nil {
		a.alerts.Stop()
	}
	cancel()
	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// Engine exposes the observability accessors (status, stats, resets).
func (a *App) Engine() *engine.Engine { return a.eng }

// watchConfig applies reloadable sections. Logging takes effect live;
// everything else requires a restart and is logged as such.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config applied; engine/transport sections take effect on restart")
		}
	}
}

// healthLoop publishes a health event whenever the overall verdict changes.
func (a *App) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	last := resilience.Healthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep := a.eng.Health()
			if rep.Overall == last {
				continue
			}
			a.bus.Publish(eventbus.Event{
				Type: eventbus.TypeHealthChanged,
				Time: time.Now(),
				Data: map[string]any{
					"previous":        string(last),
					"overall":         string(rep.Overall),
					"recommendations": rep.Recommendations,
				},
			})
			a.log.Warn("health changed",
				logx.String("previous", string(last)),
				logx.String("overall", string(rep.Overall)))
			last = rep.Overall
		}
	}
}

// StatusSummary renders a short operator-readable snapshot for the alert
// channel's /status command.
func (a *App) StatusSummary() string {
	st := a.eng.Status()
	det := a.eng.DetailedStats()
	rep := a.eng.Health()

	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s\n", rep.Overall)
	fmt.Fprintf(&b, "Running: %v", st.IsRunning)
	if !st.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, ", last cycle %s ago", time.Since(st.LastCycleAt).Truncate(time.Second))
	}
	if !st.NextCycleAt.IsZero() {
		fmt.Fprintf(&b, ", next in %s", time.Until(st.NextCycleAt).Truncate(time.Second))
	}
	fmt.Fprintf(&b, "\nCycles: %d ok / %d failed\n", det.CyclesCompleted, det.CyclesFailed)
	fmt.Fprintf(&b, "Dispatched: %d (reminders %d), enqueue failures %d\n",
		det.Dispatched, det.RemindersScheduled, det.EnqueueFailures)
	for q, qs := range a.disp.Stats() {
		fmt.Fprintf(&b, "Queue %s: %d waiting, %d active, %d done, %d failed\n",
			q, qs.Waiting, qs.Active, qs.Completed, qs.Failed)
	}
	for _, rec := range rep.Recommendations {
		fmt.Fprintf(&b, "• %s\n", rec)
	}
	return strings.TrimRight(b.String(), "\n")
}
