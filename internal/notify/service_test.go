package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// stubAdapter records sends; an optional hold channel parks them so the
// queue can be filled deterministically.
type stubAdapter struct {
	mu    sync.Mutex
	calls int
	sends chan string
	hold  chan struct{}
}

func newStubAdapter(hold chan struct{}) *stubAdapter {
	return &stubAdapter{sends: make(chan string, 16), hold: hold}
}

func (a *stubAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *stubAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *stubAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	// Never block the worker on a full recorder buffer.
	select {
	case a.sends <- text:
	default:
	}
	if a.hold != nil {
		select {
		case <-a.hold:
		case <-ctx.Done():
		}
	}
	return kit.MessageRef{MessageID: 1}, nil
}

func TestNotifyDelivers(t *testing.T) {
	adapter := newStubAdapter(nil)
	svc := New(Config{RatePerSec: 1000}, adapter, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Notify(Notification{Target: kit.ChatTarget{ChatID: 7}, Text: "hello"}))

	select {
	case text := <-adapter.sends:
		require.Equal(t, "hello", text)
	case <-time.After(3 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestNotifyQueueFull(t *testing.T) {
	hold := make(chan struct{})
	adapter := newStubAdapter(hold)
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1000}, adapter, logx.Nop())
	svc.Start(context.Background())
	defer func() {
		close(hold)
		svc.Stop(context.Background())
	}()

	n := Notification{Target: kit.ChatTarget{ChatID: 7}, Text: "x"}

	// First notification is picked up by the worker and parks in the
	// adapter; wait for it so the queue slot is genuinely free again.
	require.NoError(t, svc.Notify(n))
	select {
	case <-adapter.sends:
	case <-time.After(3 * time.Second):
		t.Fatal("worker never picked up the first notification")
	}

	require.NoError(t, svc.Notify(n))           // fills the single slot
	require.ErrorIs(t, svc.Notify(n), ErrQueueFull)
}

func TestNotifyAfterStopReportsDrop(t *testing.T) {
	adapter := newStubAdapter(nil)
	svc := New(Config{}, adapter, logx.Nop())

	n := Notification{Target: kit.ChatTarget{ChatID: 7}, Text: "x"}
	require.ErrorIs(t, svc.Notify(n), ErrStopped, "never started")

	svc.Start(context.Background())
	svc.Stop(context.Background())
	require.ErrorIs(t, svc.Notify(n), ErrStopped, "stopped")
}

func TestNotifyConcurrentWithStop(t *testing.T) {
	adapter := newStubAdapter(nil)
	svc := New(Config{RatePerSec: 1000}, adapter, logx.Nop())
	svc.Start(context.Background())

	n := Notification{Target: kit.ChatTarget{ChatID: 7}, Text: "x"}

	// Hammer Notify across the queue close. Every call must return one of
	// the contract errors (or nil for a genuinely pre-close enqueue); a
	// panic or an unknown error fails the run.
	stopped := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopped:
					return
				default:
				}
				switch err := svc.Notify(n); err {
				case nil, ErrQueueFull, ErrStopped:
				default:
					t.Errorf("unexpected notify error: %v", err)
					return
				}
			}
		}()
	}

	svc.Stop(context.Background())
	close(stopped)
	wg.Wait()

	// Strictly after Stop, an enqueue is always reported as dropped.
	require.ErrorIs(t, svc.Notify(n), ErrStopped)
}
