// Package broadcast sends one ad-hoc message to every channel a tenant has
// registered. It is deliberately a thin client-side loop over the transport:
// sequential sends, a fixed inter-message pause, no retry. Scheduling
// invariants live in internal/schedule, not here.
package broadcast

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Config struct {
	RatePerSec int
	// Pause is the fixed wait between consecutive sends, on top of the
	// limiter. Telegram throttles channel posts aggressively.
	Pause time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Pause <= 0 {
		c.Pause = 500 * time.Millisecond
	}
	return c
}

// Report summarizes one broadcast run.
type Report struct {
	RunID   string
	Total   int
	Sent    int
	Failed  int
	Reasons map[string]string // channel id -> failure reason
}

type Service struct {
	cfg     Config
	store   storage.Store
	adapter kit.Adapter
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// SendToAll posts text to every channel in the tenant's document, in stable
// (channel id) order. Failures are recorded per channel and do not stop the
// loop; nothing here touches schedules or timers.
func (s *Service) SendToAll(ctx context.Context, tenantID int64, text string) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Reasons: map[string]string{}}

	st, ok, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return rep, err
	}
	if !ok || len(st.Channels) == 0 {
		return rep, nil
	}

	ids := make([]string, 0, len(st.Channels))
	for id := range st.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rep.Total = len(ids)

	for i, channelID := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return rep, err
		}
		if i > 0 {
			t := time.NewTimer(s.cfg.Pause)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return rep, ctx.Err()
			}
		}

		_, err := s.adapter.SendText(ctx, targetFor(channelID), text, nil)
		if err != nil {
			rep.Failed++
			rep.Reasons[channelID] = kit.FailureReason(err)
			s.log.Warn("broadcast send failed",
				logx.String("run_id", rep.RunID),
				logx.String("channel", channelID),
				logx.Err(err))
			continue
		}
		rep.Sent++
	}

	s.log.Info("broadcast finished",
		logx.String("run_id", rep.RunID),
		logx.Int64("tenant_id", tenantID),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed))
	return rep, nil
}

func targetFor(channelID string) kit.ChatTarget {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return kit.ChatTarget{ChatID: id}
	}
	return kit.ChatTarget{Channel: channelID}
}
