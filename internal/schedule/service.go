package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

// Start makes the engine live and re-arms every schedule found in the store.
// Recovered jobs go through the exact arm path a fresh Upsert uses, so there
// are no special restart semantics. Safe to call twice; the second call is a
// no-op while running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	n, err := s.recover(ctx)
	if err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}
	s.log.Info("engine started", logx.Int("recovered", n), logx.Duration("warm_up", s.cfg.WarmUp))
	return nil
}

// Stop cancels every pending timer and waits (until ctx deadline) for
// in-flight fire cycles to finish. Durable records are untouched; the next
// Start recovers them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.reg.CancelAll()
	s.jobs = map[string]*jobState{}
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("engine stop timed out; fire cycles finishing in background")
	}
}

// Upsert validates, persists, and (re-)arms the schedule for one channel.
// A pre-existing schedule under the same key is replaced: the durable record
// is overwritten and the timer re-armed with the warm-up delay. On store
// failure nothing changes, neither in the store nor in the timer table.
func (s *Service) Upsert(ctx context.Context, tenantID int64, channelID, topic string, base, jitter time.Duration) (string, error) {
	if err := ValidateCadence(base, jitter); err != nil {
		return "", err
	}

	key := Key(tenantID, channelID)
	now := time.Now().UTC()
	rec := storage.ChannelSchedule{
		TenantID:            tenantID,
		ChannelID:           channelID,
		Topic:               topic,
		BaseIntervalSeconds: int64(base / time.Second),
		JitterSeconds:       int64(jitter / time.Second),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	s.docMu.Lock()
	cur, _, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		s.docMu.Unlock()
		return "", fmt.Errorf("store read: %w", err)
	}
	if cur.Channels == nil {
		cur.Channels = map[string]storage.ChannelSchedule{}
	}
	if old, ok := cur.Channels[channelID]; ok && !old.CreatedAt.IsZero() {
		rec.CreatedAt = old.CreatedAt
	}
	cur.Channels[channelID] = rec
	if err := s.store.PutTenant(ctx, tenantID, cur); err != nil {
		s.docMu.Unlock()
		return "", fmt.Errorf("store write: %w", err)
	}
	s.docMu.Unlock()

	s.armRecord(rec)
	s.log.Info("schedule upserted",
		logx.String("key", key),
		logx.String("topic", topic),
		logx.Duration("base", base),
		logx.Duration("jitter", jitter))
	return key, nil
}

// armRecord installs rec under its key. If the job is mid-FIRING the record
// is queued instead and the settle path re-arms with the warm-up delay.
// Shared by Upsert and recovery.
func (s *Service) armRecord(rec storage.ChannelSchedule) {
	key := Key(rec.TenantID, rec.ChannelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.jobs[key]; st != nil && st.firing {
		st.rec = rec
		st.dirty = true
		st.removed = false
		return
	}
	s.jobs[key] = &jobState{rec: rec}
	s.reg.Arm(key, s.cfg.WarmUp, func() { s.fire(key) })
}

// Remove deletes the channel's record and cancels its timer. It reports
// whether a record existed and is idempotent to call twice. Against a job
// mid-FIRING it is a deferred no-op: the in-flight send completes, and the
// post-cycle re-arm is suppressed.
func (s *Service) Remove(ctx context.Context, tenantID int64, channelID string) (bool, error) {
	key := Key(tenantID, channelID)

	s.docMu.Lock()
	cur, ok, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		s.docMu.Unlock()
		return false, fmt.Errorf("store read: %w", err)
	}
	existed := false
	if ok {
		if _, has := cur.Channels[channelID]; has {
			existed = true
			delete(cur.Channels, channelID)
			if cur.Empty() {
				err = s.store.DeleteTenant(ctx, tenantID)
			} else {
				err = s.store.PutTenant(ctx, tenantID, cur)
			}
			if err != nil {
				s.docMu.Unlock()
				return false, fmt.Errorf("store write: %w", err)
			}
		}
	}
	s.docMu.Unlock()

	s.mu.Lock()
	if st := s.jobs[key]; st != nil {
		if st.firing {
			st.removed = true
			st.dirty = false
		} else {
			s.reg.Cancel(key)
			delete(s.jobs, key)
		}
	}
	s.mu.Unlock()

	if existed {
		s.log.Info("schedule removed", logx.String("key", key))
	}
	return existed, nil
}

// List returns the tenant's schedules in creation order. Read-only
// projection straight from the store; ordering is for display stability only.
func (s *Service) List(ctx context.Context, tenantID int64) ([]storage.ChannelSchedule, error) {
	st, ok, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store read: %w", err)
	}
	if !ok || len(st.Channels) == 0 {
		return nil, nil
	}
	out := make([]storage.ChannelSchedule, 0, len(st.Channels))
	for _, rec := range st.Channels {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out, nil
}

// recover walks every tenant document and re-arms each schedule. Re-running
// while jobs are already armed cancels-and-rearms instead of double-arming;
// that is the registry's cancel-before-arm contract.
func (s *Service) recover(ctx context.Context) (int, error) {
	count := 0
	err := s.store.ForEachTenant(ctx, func(tenantID int64, st storage.TenantState) error {
		for channelID, rec := range st.Channels {
			// The document location is authoritative for identity.
			rec.TenantID = tenantID
			rec.ChannelID = channelID

			base := time.Duration(rec.BaseIntervalSeconds) * time.Second
			jitter := time.Duration(rec.JitterSeconds) * time.Second
			if err := ValidateCadence(base, jitter); err != nil {
				s.log.Warn("skipping invalid stored schedule",
					logx.String("key", Key(tenantID, channelID)), logx.Err(err))
				continue
			}
			s.armRecord(rec)
			count++
		}
		return nil
	})
	return count, err
}
