// Package telegram adapts telebot.v4 to the transport.Adapter surface and
// classifies Telegram API failures into permanent vs transient delivery errors.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- kit.Update)

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged on Stop() to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		up := kit.Update{
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		}
		a.deliver(up)
		return nil
	})
}

func (a *Adapter) deliver(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Stop telebot when the adapter context is cancelled.
	go func() {
		<-runCtx.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	}()

	go func() {
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}
	if cancel != nil {
		cancel()
	}

	// telebot Stop is expected to be fast; run it async just in case and keep
	// shutdown snappy even if getUpdates long-poll is still waiting.
	done := make(chan struct{})
	go func() {
		if a.bot != nil {
			a.bot.Stop()
		}
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

const telegramTextLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	rcpt := recipientFor(to)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.MessageID != 0 {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}

		msg, err := a.bot.Send(rcpt, chunk, sendOpt)
		if err != nil {
			derr := classify(err)
			if first.MessageID != 0 {
				return first, derr
			}
			return kit.MessageRef{}, derr
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
		}
	}

	return first, nil
}

// channelRecipient lets telebot address "@username" channels directly.
type channelRecipient string

func (r channelRecipient) Recipient() string { return string(r) }

func recipientFor(to kit.ChatTarget) tele.Recipient {
	if to.Channel != "" {
		return channelRecipient(to.Channel)
	}
	return tele.ChatID(to.ChatID)
}

// classify maps a telebot error to a transport.DeliveryError.
//
// Permanent means the channel itself rejected us (kicked, blocked, deleted,
// no posting rights); everything else, including flood waits and plain network
// errors, is transient and the job keeps its cadence.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if fe, ok := asFlood(err); ok {
		return &kit.DeliveryError{
			Kind:   kit.FailureTransient,
			Reason: "rate limited, retry after " + (time.Duration(fe.RetryAfter) * time.Second).String(),
			Err:    err,
		}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		if permanentAPIError(te) {
			return &kit.DeliveryError{Kind: kit.FailurePermanent, Reason: te.Description, Err: err}
		}
		return &kit.DeliveryError{Kind: kit.FailureTransient, Reason: te.Description, Err: err}
	}

	return &kit.DeliveryError{Kind: kit.FailureTransient, Reason: err.Error(), Err: err}
}

func asFlood(err error) (tele.FloodError, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return fe, true
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return *fep, true
	}
	return tele.FloodError{}, false
}

func permanentAPIError(te *tele.Error) bool {
	// 401/403: bot kicked, blocked, or stripped of posting rights.
	if te.Code == 401 || te.Code == 403 {
		return true
	}
	if te.Code != 400 {
		return false
	}
	desc := strings.ToLower(te.Description)
	switch {
	case strings.Contains(desc, "chat not found"):
		return true
	case strings.Contains(desc, "not enough rights"):
		return true
	case strings.Contains(desc, "chat_write_forbidden"):
		return true
	case strings.Contains(desc, "channel is deactivated"):
		return true
	}
	return false
}

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
