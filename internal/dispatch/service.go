// Package dispatch implements the outbound notification queue: a bounded
// buffer drained by a small worker pool under a token-bucket rate limit,
// with timer-based delayed release for follow-up jobs.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"orderwatch/internal/eventbus"
	"orderwatch/pkg/logx"
)

// SendFunc performs the actual delivery of one job. The caller wires it to
// the resilience-wrapped transport, so retry policy lives outside the queue.
type SendFunc func(ctx context.Context, job Job) error

type counters struct {
	active    int
	completed uint64
	failed    uint64
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	send    SendFunc
	limiter *rate.Limiter

	queue     chan Job
	accepting bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Delayed jobs waiting on their release timer.
	timers  map[string]*time.Timer
	delayed map[Queue]int

	stats map[Queue]*counters
}

func New(cfg Config, send SendFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Service{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		send: send,
		// Burst = rate so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timers:  map[string]*time.Timer{},
		delayed: map[Queue]int{},
		stats: map[Queue]*counters{
			QueueMessage:       {},
			QueueReminder:      {},
			QueueRejectedOffer: {},
		},
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan Job, s.cfg.QueueSize)
	s.accepting = true

	for i := 0; i < s.cfg.Workers; i++ {
		q := s.queue
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(runCtx, q)
		}()
	}
	s.log.Debug("dispatch started", logx.Int("workers", s.cfg.Workers), logx.Int("queue_size", s.cfg.QueueSize))
}

// Stop blocks intake, cancels pending release timers and waits for workers
// to drain in-flight work (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.delayed = map[Queue]int{}
	cancel := s.cancel
	q := s.queue
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()

	close(q)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
	s.log.Debug("dispatch stopped")
}

// Enqueue accepts a job; with a Delay option the job is parked on a timer
// and enters the queue when due. Accept/refuse is decided now: a full
// buffer refuses immediately rather than blocking a cycle.
func (s *Service) Enqueue(job Job, opts *Options) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}

	if opts != nil && opts.Delay > 0 {
		// Reserve buffer headroom up front so a burst of delayed jobs can't
		// oversubscribe the queue when they all come due together.
		if len(s.queue)+s.totalDelayedLocked() >= cap(s.queue) {
			s.mu.Unlock()
			return ErrQueueFull
		}
		s.delayed[job.Queue]++
		s.timers[job.ID] = time.AfterFunc(opts.Delay, func() { s.releaseDelayed(job) })
		s.mu.Unlock()
		s.publish(eventbus.TypeDispatchQueued, job, nil)
		return nil
	}

	q := s.queue
	s.mu.Unlock()

	select {
	case q <- job:
		s.publish(eventbus.TypeDispatchQueued, job, nil)
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) totalDelayedLocked() int {
	n := 0
	for _, c := range s.delayed {
		n += c
	}
	return n
}

func (s *Service) releaseDelayed(job Job) {
	s.mu.Lock()
	delete(s.timers, job.ID)
	if s.delayed[job.Queue] > 0 {
		s.delayed[job.Queue]--
	}
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()

	if !accepting || q == nil {
		return
	}
	// Stop may close the channel between the check above and the send;
	// recover keeps a late timer from crashing the process.
	defer func() { _ = recover() }()
	select {
	case q <- job:
	default:
		// Queue filled up while the job was parked. Count it as failed so
		// the loss is visible.
		s.markDone(job, ErrQueueFull)
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q:
			if !ok {
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				s.markDone(job, err)
				return
			}
			s.markActive(job.Queue, +1)
			err := s.send(ctx, job)
			s.markActive(job.Queue, -1)
			s.markDone(job, err)
		}
	}
}

func (s *Service) markActive(q Queue, delta int) {
	s.mu.Lock()
	if c := s.stats[q]; c != nil {
		c.active += delta
	}
	s.mu.Unlock()
}

func (s *Service) markDone(job Job, err error) {
	s.mu.Lock()
	c := s.stats[job.Queue]
	if c != nil {
		if err != nil {
			c.failed++
		} else {
			c.completed++
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("dispatch failed",
			logx.String("order_id", job.OrderID),
			logx.String("message_type", job.MessageType),
			logx.String("queue", string(job.Queue)),
			logx.Err(err))
		s.publish(eventbus.TypeDispatchFailed, job, err)
		return
	}
	s.log.Info("dispatch sent",
		logx.String("order_id", job.OrderID),
		logx.String("message_type", job.MessageType),
		logx.String("queue", string(job.Queue)))
	s.publish(eventbus.TypeDispatchSent, job, nil)
}

func (s *Service) publish(typ string, job Job, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{JobID: job.ID, Queue: job.Queue, OrderID: job.OrderID, MessageType: job.MessageType, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// Stats returns per-queue counters. Waiting counts parked (delayed) jobs per
// queue; jobs already in the shared buffer are attributed to the message
// queue, which is where immediate sends go.
func (s *Service) Stats() map[Queue]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Queue]Stats, len(s.stats))
	for name, c := range s.stats {
		out[name] = Stats{
			Waiting:   s.delayed[name],
			Active:    c.active,
			Completed: c.completed,
			Failed:    c.failed,
		}
	}
	if s.queue != nil {
		st := out[QueueMessage]
		st.Waiting += len(s.queue)
		out[QueueMessage] = st
	}
	return out
}
