// Package transport defines the platform-neutral messaging surface the rest of
// the bot is written against. Concrete adapters (Telegram) live in subpackages.
package transport

import (
	"context"
	"errors"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses an outgoing message. Exactly one of ChatID or Channel
// is set: ChatID for direct/group chats, Channel for "@username" channels.
type ChatTarget struct {
	ChatID  int64
	Channel string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// FailureKind classifies a delivery failure. The scheduler tears a job down on
// permanent failures and keeps its cadence on transient ones.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
)

func (k FailureKind) String() string {
	if k == FailurePermanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError is returned by adapters when a send is rejected by the
// platform. Kind is the adapter's classification; Reason is a short
// platform-provided description safe to log and show to the tenant.
type DeliveryError struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Reason != "" {
		return "delivery failed (" + e.Kind.String() + "): " + e.Reason
	}
	return "delivery failed (" + e.Kind.String() + ")"
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent delivery classification.
// Anything else (including plain network errors) counts as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == FailurePermanent
}

// FailureReason extracts the platform description from a delivery error, or
// falls back to err.Error().
func FailureReason(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
