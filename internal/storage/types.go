package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite database file
//   - "file":   snapshot + journal file backend
//   - "memory": in-process, non-durable
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ChannelSchedule is the durable unit of configuration for one
// (tenant, channel) pair. Keep it compact and schema-stable.
type ChannelSchedule struct {
	TenantID            int64     `json:"tenant_id"`
	ChannelID           string    `json:"channel_id"`
	Topic               string    `json:"topic"`
	BaseIntervalSeconds int64     `json:"base_interval_seconds"`
	JitterSeconds       int64     `json:"jitter_seconds"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// TenantState is the full document stored under one tenant id.
//
// The scheduler only ever touches Channels; Sessions belongs to the
// conversational setup flow. Neither side may assume exclusive ownership
// of the whole document.
type TenantState struct {
	Channels map[string]ChannelSchedule `json:"channels,omitempty"`
	Sessions map[string]json.RawMessage `json:"sessions,omitempty"`
}

func (s TenantState) Empty() bool {
	return len(s.Channels) == 0 && len(s.Sessions) == 0
}

// Clone returns a deep copy so read-modify-write callers can't alias the
// store's in-memory state (relevant for the memory and file drivers).
func (s TenantState) Clone() TenantState {
	out := TenantState{}
	if s.Channels != nil {
		out.Channels = make(map[string]ChannelSchedule, len(s.Channels))
		for k, v := range s.Channels {
			out.Channels[k] = v
		}
	}
	if s.Sessions != nil {
		out.Sessions = make(map[string]json.RawMessage, len(s.Sessions))
		for k, v := range s.Sessions {
			out.Sessions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}
