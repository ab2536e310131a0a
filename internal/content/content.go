// Package content produces the post text for a topic.
//
// Providers are deliberately dumb from the scheduler's point of view: a
// generator either returns text or an error, and the scheduler treats any
// error as "post the fallback text", never as a delivery failure.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "postbot/pkg/logx"
)

// Generator produces post text for a topic. Implementations may be slow;
// they must honor ctx.
type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

type Config struct {
	// Provider selects the backend: "openai" or "static".
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the configured generator.
func New(cfg Config, log logx.Logger) (Generator, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return newOpenAI(cfg, log)
	case "static":
		return Static{}, nil
	default:
		return nil, errors.New("unknown content provider: " + cfg.Provider)
	}
}

// Fallback is the apologetic text posted when generation fails. Posting it
// still counts as a completed cycle.
func Fallback(topic string) string {
	if strings.TrimSpace(topic) == "" {
		return "Sorry, I couldn't come up with a post right now. Please try again later."
	}
	return fmt.Sprintf("Sorry, I couldn't generate a post about %q right now. Please try again later.", topic)
}

// Static is an offline generator used in tests and as a no-key fallback
// provider. Output depends only on the topic.
type Static struct{}

func (Static) Generate(ctx context.Context, topic string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("empty topic")
	}
	return fmt.Sprintf("📣 Today's post: %s\n\nStay tuned for more updates on %s!", topic, topic), nil
}
