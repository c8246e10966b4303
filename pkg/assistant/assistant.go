// Package assistant produces chat replies for the /api/chat endpoint.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modoterra/nexus/pkg/manifest"
)

const (
	ProviderSimulated = "simulated"
	ProviderAnthropic = "anthropic"

	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1024

	// SimulatedReply is returned when no model backend is configured.
	SimulatedReply = "Esta é uma resposta simulada do assistente. Em breve será integrada com a API real."
	SimulatedDelay = time.Second
)

// Assistant answers a single chat message.
type Assistant interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Simulated replies with fixed text after a delay.
type Simulated struct {
	Delay time.Duration
	Text  string
}

// Reply waits for Delay and returns Text.
func (s Simulated) Reply(ctx context.Context, _ string) (string, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Text == "" {
		return SimulatedReply, nil
	}
	return s.Text, nil
}

// Anthropic forwards messages to the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
}

// NewAnthropic creates an Anthropic-backed assistant.
func NewAnthropic(apiKey, model string, maxTokens int, system string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		system:    system,
	}
}

// Reply sends message as a single user turn and returns the text of the response.
func (a *Anthropic) Reply(ctx context.Context, message string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty response (stop reason %s)", resp.StopReason)
	}
	return sb.String(), nil
}

// FromConfig builds the assistant selected by the manifest chat section.
// An anthropic provider without a key in its environment variable falls
// back to the simulated assistant.
func FromConfig(cfg manifest.ChatConfig, logger *slog.Logger) Assistant {
	switch cfg.Provider {
	case ProviderAnthropic:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			logger.Warn("chat api key not set, using simulated assistant", "env", cfg.APIKeyEnv)
			return Simulated{Delay: SimulatedDelay}
		}
		logger.Info("chat assistant configured", "provider", cfg.Provider, "model", cfg.Model)
		return NewAnthropic(key, cfg.Model, cfg.MaxTokens, cfg.System)
	default:
		return Simulated{Delay: SimulatedDelay}
	}
}
