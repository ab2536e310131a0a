// Package bot is the conversational setup surface: it collects a channel,
// a topic, and a cadence over a few messages, then hands the validated
// result to the scheduling engine. It also forwards the engine's tear-down
// events back to the owning chat.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"postbot/internal/broadcast"
	"postbot/internal/eventbus"
	"postbot/internal/notify"
	"postbot/internal/schedule"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	store   storage.Store
	sched   *schedule.Service
	bcast   *broadcast.Service
	notif   *notify.Service
	bus     eventbus.Bus

	wg sync.WaitGroup
}

func NewRouter(adapter kit.Adapter, store storage.Store, sched *schedule.Service, bcast *broadcast.Service, notif *notify.Service, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		store:   store,
		sched:   sched,
		bcast:   bcast,
		notif:   notif,
		bus:     bus,
	}
}

// Run consumes updates until ctx is done. Updates are handled sequentially,
// one dialog step at a time, like the original conversation flow.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.watchEvents(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case up, ok := <-updates:
			if !ok {
				r.wg.Wait()
				return
			}
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, up.Message)
		}
	}
}

// watchEvents turns schedule tear-downs into a best-effort message to the
// tenant's home chat.
func (r *Router) watchEvents(ctx context.Context) {
	if r.bus == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			td, isTearDown := ev.Data.(schedule.TornDownEvent)
			if ev.Type != schedule.EventTornDown || !isTearDown {
				continue
			}
			text := fmt.Sprintf(
				"I had to stop posting to %s: %s.\nThe schedule was removed; use /setchannel to set it up again once the bot has access.",
				td.ChannelID, td.Reason)
			if err := r.notif.Notify(notify.Notification{
				Target: kit.ChatTarget{ChatID: td.TenantID},
				Text:   text,
			}); err != nil {
				r.log.Warn("tear-down notification not queued",
					logx.Int64("tenant_id", td.TenantID), logx.Err(err))
			}
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		cmd, arg := splitCommand(text)
		r.handleCommand(ctx, m, cmd, arg)
		return
	}
	r.handleReply(ctx, m, text)
}

func splitCommand(text string) (cmd, arg string) {
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(strings.TrimSpace(parts[0]))
	// strip "@botname" suffix used in groups
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

func (r *Router) handleCommand(ctx context.Context, m *kit.Message, cmd, arg string) {
	switch cmd {
	case "/start":
		r.reply(ctx, m, startText)
	case "/setchannel":
		if arg != "" {
			r.receiveChannel(ctx, m, arg)
			return
		}
		r.await(ctx, m, "channel", "Please provide your channel's username (e.g. @mychannel) or chat id.")
	case "/settopic":
		if arg != "" {
			r.receiveTopic(ctx, m, arg)
			return
		}
		r.await(ctx, m, "topic", "What topic should I post about?")
	case "/setschedule":
		if arg != "" {
			r.receiveSchedule(ctx, m, arg)
			return
		}
		r.await(ctx, m, "interval", "How often should I post (in hours)? For example '24' for daily, or '24 2' to add ±2h of jitter.")
	case "/stop":
		r.stop(ctx, m, arg)
	case "/list":
		r.list(ctx, m)
	case "/broadcast":
		r.broadcast(ctx, m, arg)
	case "/cancel":
		r.cancel(ctx, m)
	default:
		r.reply(ctx, m, "Unknown command. Try /start for an overview.")
	}
}

const startText = "Welcome! I'm your channel assistant.\n\n" +
	"Here's how to get started:\n" +
	"1. Add me to your channel as an administrator.\n" +
	"2. Use /setchannel to link me to your channel.\n" +
	"3. Use /settopic to give me a topic to post about.\n" +
	"4. Use /setschedule to choose how often I should post.\n\n" +
	"Other commands: /list shows your schedules, /stop halts one, " +
	"/broadcast sends a message to all your channels, /cancel aborts a dialog step."

// await stores which field the next plain-text reply fills.
func (r *Router) await(ctx context.Context, m *kit.Message, field, prompt string) {
	s, err := r.loadSession(ctx, m.ChatID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	s.Await = field
	if err := r.saveSession(ctx, m.ChatID, s); err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	r.reply(ctx, m, prompt)
}

// handleReply routes a plain-text message into whichever field the dialog
// is waiting on. Messages outside a dialog are ignored.
func (r *Router) handleReply(ctx context.Context, m *kit.Message, text string) {
	s, err := r.loadSession(ctx, m.ChatID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	switch s.Await {
	case "channel":
		r.receiveChannel(ctx, m, text)
	case "topic":
		r.receiveTopic(ctx, m, text)
	case "interval":
		r.receiveSchedule(ctx, m, text)
	}
}

func (r *Router) receiveChannel(ctx context.Context, m *kit.Message, text string) {
	id, err := parseChannelID(text)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	r.updateSession(ctx, m, func(s *setupSession) {
		s.ChannelID = id
		s.Await = ""
	}, fmt.Sprintf("Great! I will now post to %s.", id))
}

func (r *Router) receiveTopic(ctx context.Context, m *kit.Message, text string) {
	topic := strings.TrimSpace(text)
	if topic == "" {
		r.reply(ctx, m, "The topic can't be empty. What should I post about?")
		return
	}
	r.updateSession(ctx, m, func(s *setupSession) {
		s.Topic = topic
		s.Await = ""
	}, fmt.Sprintf("Topic set to: %q.", topic))
}

func (r *Router) receiveSchedule(ctx context.Context, m *kit.Message, text string) {
	interval, jitter, err := parseScheduleInput(text)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	confirm := fmt.Sprintf("I will post every %g hours.", interval)
	if jitter > 0 {
		confirm = fmt.Sprintf("I will post every %g hours, give or take up to %g.", interval, jitter)
	}
	r.updateSession(ctx, m, func(s *setupSession) {
		s.IntervalHours = interval
		s.JitterHours = jitter
		s.Await = ""
	}, confirm)
}

// updateSession applies mutate, persists the session, confirms to the user,
// and starts the schedule once all three fields have been collected.
func (r *Router) updateSession(ctx context.Context, m *kit.Message, mutate func(*setupSession), confirm string) {
	s, err := r.loadSession(ctx, m.ChatID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	mutate(&s)
	if err := r.saveSession(ctx, m.ChatID, s); err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	r.reply(ctx, m, confirm)

	if !s.complete() {
		// Silently wait for the remaining setup steps.
		return
	}
	base, jitter := s.cadence()
	if _, err := r.sched.Upsert(ctx, m.ChatID, s.ChannelID, s.Topic, base, jitter); err != nil {
		r.log.Warn("upsert from setup dialog failed", logx.Int64("tenant_id", m.ChatID), logx.Err(err))
		r.reply(ctx, m, "Something went wrong saving the schedule. Please try again.")
		return
	}
	r.reply(ctx, m, "I have everything I need! The posting schedule has now started.")
}

func (r *Router) stop(ctx context.Context, m *kit.Message, arg string) {
	channelID := arg
	if channelID == "" {
		recs, err := r.sched.List(ctx, m.ChatID)
		if err != nil {
			r.replyStoreError(ctx, m, err)
			return
		}
		switch len(recs) {
		case 0:
			r.reply(ctx, m, "There was no active schedule to stop.")
			return
		case 1:
			channelID = recs[0].ChannelID
		default:
			r.reply(ctx, m, "You have several schedules; tell me which one, e.g. /stop @mychannel. Use /list to see them.")
			return
		}
	}

	existed, err := r.sched.Remove(ctx, m.ChatID, channelID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	if !existed {
		r.reply(ctx, m, fmt.Sprintf("There was no active schedule for %s.", channelID))
		return
	}
	r.reply(ctx, m, fmt.Sprintf("I have stopped the posting schedule for %s.", channelID))
}

func (r *Router) list(ctx context.Context, m *kit.Message) {
	recs, err := r.sched.List(ctx, m.ChatID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	if len(recs) == 0 {
		r.reply(ctx, m, "No schedules yet. Use /setchannel to create one.")
		return
	}
	var b strings.Builder
	b.WriteString("Your schedules:\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "• %s: %q, %s\n", rec.ChannelID, rec.Topic,
			formatCadence(rec.BaseIntervalSeconds, rec.JitterSeconds))
	}
	r.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) broadcast(ctx context.Context, m *kit.Message, arg string) {
	if arg == "" {
		r.reply(ctx, m, "Usage: /broadcast <message>")
		return
	}
	rep, err := r.bcast.SendToAll(ctx, m.ChatID, arg)
	if err != nil {
		r.reply(ctx, m, "Broadcast failed: "+err.Error())
		return
	}
	if rep.Total == 0 {
		r.reply(ctx, m, "You have no channels to broadcast to.")
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Broadcast done: %d sent, %d failed.", rep.Sent, rep.Failed))
}

func (r *Router) cancel(ctx context.Context, m *kit.Message) {
	s, err := r.loadSession(ctx, m.ChatID)
	if err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	s.Await = ""
	if err := r.saveSession(ctx, m.ChatID, s); err != nil {
		r.replyStoreError(ctx, m, err)
		return
	}
	r.reply(ctx, m, "Operation cancelled.")
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string) {
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil)
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (r *Router) replyStoreError(ctx context.Context, m *kit.Message, err error) {
	r.log.Error("store operation failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	r.reply(ctx, m, "Something went wrong on my side. Please try again in a moment.")
}
