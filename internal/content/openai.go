package content

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "postbot/pkg/logx"
)

const defaultModel = "gpt-4o-mini"

type openAIGenerator struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
	log     logx.Logger
}

func newOpenAI(cfg Config, log logx.Logger) (Generator, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("content: openai api key is empty")
	}
	cc := openai.DefaultConfig(key)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAIGenerator{
		cli:     openai.NewClientWithConfig(cc),
		model:   model,
		timeout: timeout,
		log:     log,
	}, nil
}

func (g *openAIGenerator) Generate(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("empty topic")
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.cli.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt(topic),
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.log.Debug("content generated",
		logx.String("topic", topic),
		logx.Int("chars", len(text)),
		logx.Duration("took", time.Since(start)))
	return text, nil
}

func prompt(topic string) string {
	return "Create a short, engaging, and informative Telegram post about '" + topic + "'. " +
		"The post should be easy to read, well-formatted, and interesting for a general audience. " +
		"Include relevant emojis to make it visually appealing. Do not include any hashtags."
}
