// Package notify delivers best-effort messages to a tenant's home chat.
//
// Notifications originate from timer callbacks (e.g. a schedule torn down
// after losing channel permissions), so they are decoupled in time from any
// user action: an async queue + worker with rate limiting and bounded retry,
// never blocking the caller.
package notify

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

type Notification struct {
	Target kit.ChatTarget
	Text   string
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	cfg     Config
	limiter *rate.Limiter

	queue     chan Notification
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply updates rate limiting at runtime. Worker count is start-time only.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	queue := s.queue
	runCtx := s.runCtx
	workers := s.cfg.Workers
	s.mu.Unlock()

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, queue)
		}()
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	queue := s.queue
	cancel := s.runCancel
	s.queue = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if queue == nil {
		return
	}
	close(queue)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return
	}
	if cancel != nil {
		cancel()
	}
}

// Notify enqueues n. It never blocks: a full queue drops the notification
// with an error, since these messages are best-effort by contract.
func (s *Service) Notify(n Notification) (err error) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return ErrStopped
	}

	// The queue may close concurrently with Stop; report that as a drop
	// rather than a success.
	defer func() {
		if r := recover(); r != nil {
			err = ErrStopped
		}
	}()
	select {
	case queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan Notification) {
	for n := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sendWithRetry(ctx, n)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if n.Text == "" || s.adapter == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(cctx, n.Target, n.Text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			return
		}
		s.log.Debug("notify send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))

		if attempt == attempts || kit.IsPermanent(err) {
			s.log.Warn("notification dropped", logx.Int64("chat_id", n.Target.ChatID), logx.Err(err))
			return
		}

		// Exponential backoff with jitter 0.7..1.3.
		delay := cfg.RetryBase << (attempt - 1)
		delay = time.Duration(float64(delay) * (0.7 + rand.Float64()*0.6))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
