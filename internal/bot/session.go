package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// setupSession is the multi-step dialog state for one chat, persisted as a
// UI-session blob inside the tenant's store document so half-finished
// dialogs survive a restart.
type setupSession struct {
	// Await names the field the next plain-text message fills:
	// "", "channel", "topic" or "interval".
	Await string `json:"await,omitempty"`

	ChannelID     string  `json:"channel_id,omitempty"`
	Topic         string  `json:"topic,omitempty"`
	IntervalHours float64 `json:"interval_hours,omitempty"`
	JitterHours   float64 `json:"jitter_hours,omitempty"`
}

const sessionKey = "setup"

func (s setupSession) complete() bool {
	return s.ChannelID != "" && s.Topic != "" && s.IntervalHours > 0
}

func (s setupSession) cadence() (base, jitter time.Duration) {
	base = time.Duration(s.IntervalHours * float64(time.Hour))
	jitter = time.Duration(s.JitterHours * float64(time.Hour))
	return base, jitter
}

// loadSession reads the chat's dialog state from the tenant document.
func (r *Router) loadSession(ctx context.Context, tenantID int64) (setupSession, error) {
	st, ok, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return setupSession{}, err
	}
	if !ok {
		return setupSession{}, nil
	}
	raw, ok := st.Sessions[sessionKey]
	if !ok {
		return setupSession{}, nil
	}
	var s setupSession
	if err := json.Unmarshal(raw, &s); err != nil {
		// Corrupt blob: start the dialog over rather than wedging the chat.
		return setupSession{}, nil
	}
	return s, nil
}

// saveSession writes the dialog state back without touching the channels map.
func (r *Router) saveSession(ctx context.Context, tenantID int64, s setupSession) error {
	st, _, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if st.Sessions == nil {
		st.Sessions = map[string]json.RawMessage{}
	}
	st.Sessions[sessionKey] = raw
	return r.store.PutTenant(ctx, tenantID, st)
}

var channelIDPattern = regexp.MustCompile(`^(@[A-Za-z0-9_]{4,}|-?\d+)$`)

// parseChannelID accepts "@username" channels or numeric chat ids.
func parseChannelID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !channelIDPattern.MatchString(s) {
		return "", errors.New("that doesn't look like a channel; send @username or a numeric chat id")
	}
	return s, nil
}

// parseScheduleInput parses the cadence reply. Accepted forms:
//
//	"24"      every 24 hours
//	"24 2"    every 24 hours, plus or minus up to 2 hours of jitter
//	"0.5 0.1" fractional hours work too
func parseScheduleInput(s string) (intervalHours, jitterHours float64, err error) {
	fields := strings.Fields(strings.ReplaceAll(strings.TrimSpace(s), "±", " "))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, errors.New("send a number of hours, optionally followed by a jitter in hours")
	}
	intervalHours, err = strconv.ParseFloat(fields[0], 64)
	if err != nil || intervalHours <= 0 {
		return 0, 0, errors.New("please enter a positive number of hours")
	}
	if len(fields) == 2 {
		jitterHours, err = strconv.ParseFloat(fields[1], 64)
		if err != nil || jitterHours < 0 {
			return 0, 0, errors.New("jitter must be zero or a positive number of hours")
		}
	}
	return intervalHours, jitterHours, nil
}

func formatCadence(baseSeconds, jitterSeconds int64) string {
	base := time.Duration(baseSeconds) * time.Second
	if jitterSeconds <= 0 {
		return fmt.Sprintf("every %s", base)
	}
	return fmt.Sprintf("every %s ±%s", base, time.Duration(jitterSeconds)*time.Second)
}
