package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type recordingAdapter struct {
	mu      sync.Mutex
	targets []kit.ChatTarget
	fail    map[string]error // channel username -> error
}

func (a *recordingAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *recordingAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *recordingAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.targets = append(a.targets, to)
	a.mu.Unlock()
	if err := a.fail[to.Channel]; err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{MessageID: 1}, nil
}

func seedTenant(t *testing.T, store storage.Store, tenantID int64, channels ...string) {
	t.Helper()
	st := storage.TenantState{Channels: map[string]storage.ChannelSchedule{}}
	for _, id := range channels {
		st.Channels[id] = storage.ChannelSchedule{TenantID: tenantID, ChannelID: id, Topic: "t", BaseIntervalSeconds: 3600}
	}
	require.NoError(t, store.PutTenant(context.Background(), tenantID, st))
}

func TestSendToAllStableOrder(t *testing.T) {
	store := storage.NewMemory()
	seedTenant(t, store, 7, "@zulu", "@alpha", "-100500")
	adapter := &recordingAdapter{}
	svc := New(Config{RatePerSec: 1000, Pause: time.Millisecond}, store, adapter, logx.Nop())

	rep, err := svc.SendToAll(context.Background(), 7, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, rep.RunID)
	require.Equal(t, 3, rep.Total)
	require.Equal(t, 3, rep.Sent)
	require.Equal(t, 0, rep.Failed)

	// Numeric ids go out as chat ids, usernames as channels, in sorted order.
	require.Equal(t, []kit.ChatTarget{
		{ChatID: -100500},
		{Channel: "@alpha"},
		{Channel: "@zulu"},
	}, adapter.targets)
}

func TestSendToAllRecordsFailuresAndContinues(t *testing.T) {
	store := storage.NewMemory()
	seedTenant(t, store, 7, "@alpha", "@beta")
	adapter := &recordingAdapter{fail: map[string]error{
		"@alpha": &kit.DeliveryError{Kind: kit.FailurePermanent, Reason: "bot was kicked"},
	}}
	svc := New(Config{RatePerSec: 1000, Pause: time.Millisecond}, store, adapter, logx.Nop())

	rep, err := svc.SendToAll(context.Background(), 7, "hello")
	require.NoError(t, err)
	require.Equal(t, 2, rep.Total)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, "bot was kicked", rep.Reasons["@alpha"])
	require.Len(t, adapter.targets, 2, "a failed send must not stop the loop")
}

func TestSendToAllUnknownTenant(t *testing.T) {
	svc := New(Config{}, storage.NewMemory(), &recordingAdapter{}, logx.Nop())
	rep, err := svc.SendToAll(context.Background(), 404, "hello")
	require.NoError(t, err)
	require.Zero(t, rep.Total)
}
