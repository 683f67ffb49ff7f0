// Package alert pushes operator-facing notifications to a Telegram chat:
// health transitions, stuck cycles, cycle failures and a daily status
// summary. It listens on the event bus and never blocks the engine.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"orderwatch/internal/eventbus"
	"orderwatch/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// RatePerMin caps outbound alerts; excess alerts are dropped and
	// counted. Default 6.
	RatePerMin  int
	PollTimeout time.Duration
	// SummaryEvery is the period of the recurring status summary.
	// Default 24h.
	SummaryEvery time.Duration
}

// StatusFunc renders the /status reply.
type StatusFunc func() string

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot      *tele.Bot
	statusFn StatusFunc
	limiter  *rate.Limiter

	// send is swappable for tests.
	send func(text string) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped uint64
}

func New(cfg Config, bus eventbus.Bus, statusFn StatusFunc, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("alert token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("alert chat id is empty")
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 6
	}
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = 24 * time.Hour
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      log.With(logx.String("component", "alert")),
		bus:      bus,
		bot:      b,
		statusFn: statusFn,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), cfg.RatePerMin),
	}
	s.send = func(text string) error {
		_, err := b.Send(tele.ChatID(cfg.ChatID), text)
		return err
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	events, unsubscribe := s.bus.Subscribe(64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-rctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handle(ev)
			}
		}
	}()

	if s.statusFn != nil {
		s.bot.Handle("/status", func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != s.cfg.ChatID {
				return nil
			}
			return c.Send(s.statusFn())
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.bot.Start()
		}()
		go func() {
			<-rctx.Done()
			s.bot.Stop()
		}()

		// The summary is one message a day and bypasses the alert limiter.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t := time.NewTicker(s.cfg.SummaryEvery)
			defer t.Stop()
			for {
				select {
				case <-rctx.Done():
					return
				case <-t.C:
					if err := s.send("📋 Daily summary\n" + s.statusFn()); err != nil {
						s.log.Error("summary send failed", logx.Err(err))
					}
				}
			}
		}()
	}
	s.log.Info("alert service started", logx.Int64("chat_id", s.cfg.ChatID))
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Service) handle(ev eventbus.Event) {
	text := formatEvent(ev)
	if text == "" {
		return
	}
	if !s.limiter.Allow() {
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.log.Warn("alert dropped (rate limited)", logx.String("type", ev.Type), logx.Uint64("dropped_total", n))
		return
	}
	if err := s.send(text); err != nil {
		s.log.Error("alert send failed", logx.String("type", ev.Type), logx.Err(err))
	}
}

// formatEvent maps bus events to operator messages. Routine events return ""
// and are ignored.
func formatEvent(ev eventbus.Event) string {
	data, _ := ev.Data.(map[string]any)
	switch ev.Type {
	case eventbus.TypeHealthChanged:
		verdict, _ := data["overall"].(string)
		prev, _ := data["previous"].(string)
		msg := fmt.Sprintf("⚕️ Health changed: %s → %s", prev, verdict)
		if recs, ok := data["recommendations"].([]string); ok && len(recs) > 0 {
			msg += "\n• " + strings.Join(recs, "\n• ")
		}
		return msg
	case eventbus.TypeCycleStuck:
		return "⚠️ Reconciliation cycle appears stuck; future cycles are blocked until it finishes."
	case eventbus.TypeCycleFailed:
		reason, _ := data["error"].(string)
		return "❌ Cycle failed: " + reason
	default:
		return ""
	}
}
