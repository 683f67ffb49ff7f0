package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"orderwatch/internal/dedup"
	"orderwatch/internal/dispatch"
	"orderwatch/internal/eventbus"
	"orderwatch/internal/message"
	"orderwatch/internal/phone"
	"orderwatch/internal/source"
	"orderwatch/pkg/logx"
)

const rowCacheKey = "rows"

// runCycle executes one reconciliation pass. Only a fetch failure aborts the
// cycle; every per-row error is recorded and skipped.
func (e *Engine) runCycle(ctx context.Context, forced bool) error {
	if !e.inFlight.TryLock() {
		return ErrCycleRunning
	}
	defer e.inFlight.Unlock()

	start := time.Now()
	e.mu.Lock()
	e.cycleStartAt = start
	e.stuckFlagged = false
	e.mu.Unlock()

	e.publish(eventbus.TypeCycleStarted, map[string]any{"forced": forced})
	e.log.Debug("cycle started", logx.Bool("forced", forced))

	rows, err := e.fetchRows(ctx)
	if err != nil {
		e.finishCycle(start, true)
		e.publish(eventbus.TypeCycleFailed, map[string]any{"error": err.Error()})
		return err
	}

	connected := e.gatewayConnected(ctx)

	var dispatched, skipped, failed int
	now := time.Now()
	for _, row := range rows {
		e.stats.mutate(func(d *DetailedStats) { d.RowsSeen++ })
		switch e.processRow(ctx, row, now, connected) {
		case rowDispatched:
			dispatched++
		case rowFailed:
			failed++
		default:
			skipped++
		}
	}

	e.finishCycle(start, false)
	e.publish(eventbus.TypeCycleCompleted, map[string]any{
		"rows":       len(rows),
		"dispatched": dispatched,
		"skipped":    skipped,
		"failed":     failed,
		"took_ms":    time.Since(start).Milliseconds(),
	})
	e.log.Info("cycle completed",
		logx.Int("rows", len(rows)),
		logx.Int("dispatched", dispatched),
		logx.Int("skipped", skipped),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)))
	return nil
}

func (e *Engine) finishCycle(start time.Time, failed bool) {
	e.stats.recordCycle(time.Since(start), failed)
	e.mu.Lock()
	e.lastCycleAt = time.Now()
	e.mu.Unlock()
}

// fetchRows returns the cached row set when fresh, otherwise fetches under
// retry + circuit breaking and refreshes the cache.
func (e *Engine) fetchRows(ctx context.Context) ([]source.Row, error) {
	if rows, ok := e.rowCache.Get(rowCacheKey); ok {
		return rows, nil
	}
	var rows []source.Row
	err := e.res.ExecuteWithRetry(ctx, "source.fetch", e.cfg.FetchPolicy, func(ctx context.Context) error {
		e.stats.countAPICall("source.fetch")
		var ferr error
		rows, ferr = e.src.FetchRows(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if e.cfg.RowCacheTTL > 0 {
		e.rowCache.Set(rowCacheKey, rows, e.cfg.RowCacheTTL)
	}
	return rows, nil
}

// gatewayConnected checks the transport session once per cycle. A failed
// check means registration state is unknown; sends are still attempted.
func (e *Engine) gatewayConnected(ctx context.Context) bool {
	var connected bool
	err := e.res.Execute(ctx, "transport.status", func(ctx context.Context) error {
		e.stats.countAPICall("transport.status")
		st, serr := e.tp.ConnectionStatus(ctx)
		if serr != nil {
			return serr
		}
		connected = st.IsConnected
		return nil
	})
	if err != nil {
		e.log.Warn("gateway status check failed", logx.Err(err))
		return false
	}
	return connected
}

type rowOutcome int

const (
	rowSkipped rowOutcome = iota
	rowDispatched
	rowFailed
)

func (e *Engine) processRow(ctx context.Context, row source.Row, now time.Time, connected bool) rowOutcome {
	if row.Unprocessable() || row.OrderID == "" {
		e.stats.mutate(func(d *DetailedStats) { d.RowsUnprocessable++ })
		e.log.Warn("unprocessable row skipped", logx.String("name", row.Name), logx.String("status", row.Status))
		return rowFailed
	}
	rlog := e.log.With(logx.String("order_id", row.OrderID))

	res := e.resolvePhone(row)
	if !res.Preferred.IsValid {
		e.stats.mutate(func(d *DetailedStats) { d.PhonesInvalid++ })
		rlog.Warn("no valid phone for row", logx.Any("steps", res.Log))
		return rowFailed
	}
	e.stats.mutate(func(d *DetailedStats) { d.PhonesValid++ })

	prev, seen := e.history.Get(row.OrderID)
	isNew := !seen
	changed := seen && prev.Status != row.Status
	if !isNew && !changed {
		return rowSkipped
	}

	mt := message.Resolve(row.Status)
	if mt == message.TypeUnknown {
		// Record the status anyway so the same unknown value is not
		// re-flagged every cycle.
		e.stats.mutate(func(d *DetailedStats) { d.UnknownStatuses++ })
		rlog.Warn("unknown status", logx.String("status", row.Status))
		e.recordStatus(ctx, row.OrderID, row.Status, now)
		return rowFailed
	}

	if !e.typeEnabled(mt) {
		e.stats.mutate(func(d *DetailedStats) { d.SkippedDisabled++ })
		rlog.Debug("message type disabled", logx.String("type", string(mt)))
		e.recordStatus(ctx, row.OrderID, row.Status, now)
		return rowSkipped
	}

	if connected && e.cfg.SkipUnregistered {
		registered, err := e.checkRegistered(ctx, res.Preferred.Normalized)
		if err != nil {
			rlog.Warn("registration check failed, sending anyway", logx.Err(err))
		} else if !registered {
			e.stats.mutate(func(d *DetailedStats) { d.SkippedUnregistered++ })
			rlog.Info("phone not registered on gateway", logx.String("type", string(mt)))
			return rowSkipped
		}
	}

	key := dedup.Key(row.OrderID, string(mt))
	if e.ledger.ShouldSuppress(key, now, e.cfg.MinResendInterval) {
		rlog.Debug("duplicate suppressed", logx.String("key", key))
		return rowSkipped
	}

	text := message.Render(e.templateFor(mt), fieldsFor(row))
	job := dispatch.Job{
		ID:          uuid.NewString(),
		OrderID:     row.OrderID,
		Phone:       res.Preferred.Normalized,
		MessageType: string(mt),
		Text:        text,
	}
	var opts *dispatch.Options
	if mt == message.TypeRejectedOffer {
		job.Queue = dispatch.QueueRejectedOffer
		opts = &dispatch.Options{Delay: e.cfg.RejectedOfferDelay}
	} else {
		job.Queue = dispatch.QueueMessage
	}

	if err := e.disp.Enqueue(job, opts); err != nil {
		e.stats.mutate(func(d *DetailedStats) { d.EnqueueFailures++ })
		rlog.Error("enqueue failed", logx.String("type", string(mt)), logx.Err(err))
		return rowFailed
	}

	// Ledger and history are written only after the queue accepted the job.
	e.ledger.Record(key, now)
	e.recordDedup(ctx, key, now)
	e.recordStatus(ctx, row.OrderID, row.Status, now)
	e.stats.mutate(func(d *DetailedStats) {
		d.Dispatched++
		d.DispatchedByType[string(mt)]++
	})
	rlog.Info("notification queued",
		logx.String("type", string(mt)),
		logx.String("job_id", job.ID),
		logx.String("queue", string(job.Queue)))

	if mt == message.TypeNoAnswer {
		e.scheduleReminder(ctx, row, res.Preferred.Normalized, now, rlog)
	}
	return rowDispatched
}

// scheduleReminder queues the delayed follow-up for a no-answer order,
// deduped under its own reminder key.
func (e *Engine) scheduleReminder(ctx context.Context, row source.Row, phoneNum string, now time.Time, rlog logx.Logger) {
	rkey := dedup.ReminderKey(row.OrderID)
	if e.ledger.ShouldSuppress(rkey, now, e.cfg.MinResendInterval) {
		rlog.Debug("reminder suppressed", logx.String("key", rkey))
		return
	}
	job := dispatch.Job{
		ID:          uuid.NewString(),
		Queue:       dispatch.QueueReminder,
		OrderID:     row.OrderID,
		Phone:       phoneNum,
		MessageType: "reminder",
		Text:        message.Render(message.ReminderTemplate, fieldsFor(row)),
	}
	if err := e.disp.Enqueue(job, &dispatch.Options{Delay: e.cfg.ReminderDelay}); err != nil {
		e.stats.mutate(func(d *DetailedStats) { d.EnqueueFailures++ })
		rlog.Error("reminder enqueue failed", logx.Err(err))
		return
	}
	e.ledger.Record(rkey, now)
	e.recordDedup(ctx, rkey, now)
	e.stats.mutate(func(d *DetailedStats) { d.RemindersScheduled++ })
	rlog.Info("reminder scheduled", logx.Duration("delay", e.cfg.ReminderDelay))
}

// resolvePhone reconciles a row's two candidate numbers, caching the result
// for one check interval so unchanged rows skip re-validation.
func (e *Engine) resolvePhone(row source.Row) phone.Result {
	key := row.PhoneRaw + "|" + row.WhatsappRaw
	if res, ok := e.phoneCache.Get(key); ok {
		return res
	}
	res := phone.ProcessTwoNumbers(row.PhoneRaw, row.WhatsappRaw)
	e.phoneCache.Set(key, res, e.cfg.CheckInterval)
	return res
}

func (e *Engine) checkRegistered(ctx context.Context, phoneNum string) (bool, error) {
	var registered bool
	err := e.res.Execute(ctx, "transport.check", func(ctx context.Context) error {
		e.stats.countAPICall("transport.check")
		var cerr error
		registered, cerr = e.tp.IsRegistered(ctx, phoneNum)
		return cerr
	})
	return registered, err
}

func (e *Engine) typeEnabled(mt message.Type) bool {
	if len(e.cfg.EnabledTypes) == 0 {
		return true
	}
	for _, t := range e.cfg.EnabledTypes {
		if t == mt {
			return true
		}
	}
	return false
}

func (e *Engine) templateFor(mt message.Type) string {
	if tpl, ok := e.cfg.Templates[mt]; ok && tpl != "" {
		return tpl
	}
	return message.DefaultTemplates()[mt]
}

func (e *Engine) recordStatus(ctx context.Context, orderID, status string, now time.Time) {
	e.history.Put(orderID, status, now)
	if e.store == nil {
		return
	}
	if err := e.store.PutStatus(ctx, orderID, status, now); err != nil {
		e.log.Error("status persist failed", logx.String("order_id", orderID), logx.Err(err))
	}
}

func (e *Engine) recordDedup(ctx context.Context, key string, now time.Time) {
	if e.store == nil {
		return
	}
	if err := e.store.PutDedup(ctx, key, now); err != nil {
		e.log.Error("dedup persist failed", logx.String("key", key), logx.Err(err))
	}
}

func fieldsFor(row source.Row) message.Fields {
	return message.Fields{
		Name:           row.Name,
		OrderID:        row.OrderID,
		ProductName:    row.ProductName,
		TrackingNumber: row.TrackingNumber,
		TotalPrice:     row.TotalPrice,
		HasPrice:       row.HasPrice,
	}
}
