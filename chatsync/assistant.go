package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

// AssistantConfig configures the streaming completion client.
type AssistantConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// ChunkTimeout bounds the gap between stream chunks; TotalTimeout
	// bounds the whole response. A stream that stalls past either is cut
	// off and the partial text kept, flagged as interrupted.
	ChunkTimeout time.Duration
	TotalTimeout time.Duration
}

// Assistant produces streamed model replies. It implements Responder.
type Assistant struct {
	client       *openai.Client
	defaultModel string
	chunkTimeout time.Duration
	totalTimeout time.Duration
	logger       *slog.Logger
}

// NewAssistant creates a streaming completion client.
func NewAssistant(cfg AssistantConfig, logger *slog.Logger) *Assistant {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Assistant{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		chunkTimeout: cfg.ChunkTimeout,
		totalTimeout: cfg.TotalTimeout,
		logger:       logger,
	}
}

// Stream requests a completion for the given history and streams deltas
// through onDelta. Returns the full accumulated text. When the stream is
// cut off mid-response (timeout or cancellation) the partial text is
// returned alongside an error wrapping ErrInterrupted, so the caller can
// keep and flag it rather than discard it.
func (a *Assistant) Stream(ctx context.Context, history []Message, persona *Persona, ragContext string, onDelta func(string)) (string, error) {
	model := a.defaultModel
	if n := len(history); n > 0 && history[n-1].Model != "" {
		model = history[n-1].Model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildPrompt(history, persona, ragContext),
		Stream:   true,
	}

	ctx, cancel := context.WithTimeout(ctx, a.totalTimeout)
	defer cancel()

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("opening completion stream: %v: %w", err, chaterrors.ErrTransient)
	}
	defer stream.Close()

	// The watchdog cancels the stream if no chunk arrives within
	// chunkTimeout. Reset on every delta.
	watchdog := time.AfterFunc(a.chunkTimeout, cancel)
	defer watchdog.Stop()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Warn("completion stream cut off",
					slog.String("model", model),
					slog.Int("partial_len", sb.Len()),
				)
				return sb.String(), fmt.Errorf("completion stream: %w", chaterrors.ErrInterrupted)
			}
			return sb.String(), fmt.Errorf("reading completion stream: %v: %w", err, chaterrors.ErrTransient)
		}

		watchdog.Reset(a.chunkTimeout)

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
}

// buildPrompt converts local history into the completion request shape:
// persona system prompt first, retrieved context second, then the
// conversation in chronological order.
func buildPrompt(history []Message, persona *Persona, ragContext string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)

	if persona != nil && persona.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: persona.SystemPrompt,
		})
	}
	if ragContext != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Relevant context from the user's documents:\n\n" + ragContext,
		})
	}

	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	return msgs
}
