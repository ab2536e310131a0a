package schedule

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"postbot/internal/content"
	"postbot/internal/eventbus"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// fire runs one post cycle for key. It is only ever invoked by the timer
// registry; external callers go through Upsert/Remove. The registry's claim
// step guarantees at most one cycle per key at a time.
func (s *Service) fire(key string) {
	s.mu.Lock()
	ctx := s.runCtx
	st := s.jobs[key]
	if ctx == nil || st == nil {
		s.mu.Unlock()
		return
	}
	st.firing = true
	st.dirty = false
	st.removed = false
	rec := st.rec
	s.fireWG.Add(1)
	s.mu.Unlock()

	defer s.fireWG.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in fire cycle",
				logx.String("key", key),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			s.settle(key, rec)
		}
	}()

	text, degraded := s.generateText(ctx, rec.Topic)

	_, err := s.adapter.SendText(ctx, channelTarget(rec.ChannelID), text, nil)
	if err != nil && kit.IsPermanent(err) {
		s.tearDown(ctx, key, rec, kit.FailureReason(err))
		return
	}
	if err != nil {
		// Transient: the attempt is over, the cadence survives.
		degraded = true
		s.log.Warn("post delivery failed (transient)", logx.String("key", key), logx.Err(err))
	} else {
		s.log.Info("posted to channel",
			logx.String("key", key),
			logx.String("topic", rec.Topic),
			logx.Bool("degraded", degraded))
	}

	delay := s.settle(key, rec)
	if delay > 0 && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventPosted, Data: PostedEvent{
			TenantID:  rec.TenantID,
			ChannelID: rec.ChannelID,
			Topic:     rec.Topic,
			Degraded:  degraded,
			NextDelay: delay,
		}})
	}
}

// generateText asks the generator for post content. Generation failure is
// never a scheduler-visible failure: the cycle posts apologetic fallback
// text instead and reports degraded=true.
func (s *Service) generateText(ctx context.Context, topic string) (string, bool) {
	text, err := s.gen.Generate(ctx, topic)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			s.log.Warn("content generation failed; using fallback", logx.String("topic", topic), logx.Err(err))
		}
		return content.Fallback(topic), true
	}
	return text, false
}

// settle completes a FIRING cycle and decides the next arm. Returns the
// delay the job was re-armed with, or 0 if it transitioned to UNARMED.
func (s *Service) settle(key string, rec storage.ChannelSchedule) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.jobs[key]
	if st == nil {
		return 0
	}
	st.firing = false

	// Engine stopped mid-cycle: leave everything for the next recovery.
	if s.runCtx == nil {
		return 0
	}

	if st.removed {
		delete(s.jobs, key)
		s.reg.Cancel(key)
		return 0
	}
	if st.dirty {
		// Edited mid-cycle: the queued record takes over with a fresh warm-up.
		st.dirty = false
		s.reg.Arm(key, s.cfg.WarmUp, func() { s.fire(key) })
		return s.cfg.WarmUp
	}

	base := time.Duration(rec.BaseIntervalSeconds) * time.Second
	jitter := time.Duration(rec.JitterSeconds) * time.Second
	delay := nextDelay(base, jitter, s.cfg.MinDelay, s.rng)
	s.reg.Arm(key, delay, func() { s.fire(key) })
	s.log.Debug("rescheduled", logx.String("key", key), logx.Duration("delay", delay))
	return delay
}

// tearDown handles a permanent delivery failure: the record is deleted, the
// timer stays unarmed, and a tear-down event is published for the tenant's
// home chat. Queued edits lose against tear-down; the channel is unusable.
func (s *Service) tearDown(ctx context.Context, key string, rec storage.ChannelSchedule, reason string) {
	s.mu.Lock()
	delete(s.jobs, key)
	s.reg.Cancel(key)
	s.mu.Unlock()

	if err := s.deleteRecord(ctx, rec.TenantID, rec.ChannelID); err != nil {
		s.log.Error("failed to delete record after permanent failure",
			logx.String("key", key), logx.Err(err))
	}

	s.log.Warn("schedule torn down",
		logx.String("key", key),
		logx.String("reason", reason))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventTornDown, Data: TornDownEvent{
			TenantID:  rec.TenantID,
			ChannelID: rec.ChannelID,
			Topic:     rec.Topic,
			Reason:    reason,
		}})
	}
}

func (s *Service) deleteRecord(ctx context.Context, tenantID int64, channelID string) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	cur, ok, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, has := cur.Channels[channelID]; !has {
		return nil
	}
	delete(cur.Channels, channelID)
	if cur.Empty() {
		return s.store.DeleteTenant(ctx, tenantID)
	}
	return s.store.PutTenant(ctx, tenantID, cur)
}

// channelTarget maps a stored channel id onto a transport target. Numeric
// ids address chats directly; anything else is treated as an "@username".
func channelTarget(channelID string) kit.ChatTarget {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return kit.ChatTarget{ChatID: id}
	}
	return kit.ChatTarget{Channel: channelID}
}
