package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

// SendMessage runs the full send pipeline: store the user message
// optimistically, fetch grounding context, stream the assistant reply
// into a placeholder message, then push the final reply remotely. The
// user message is durable before the assistant call starts. A failed or
// interrupted generation never loses it.
func (e *Engine) SendMessage(ctx context.Context, chatID, content string) (Message, error) {
	userMsg := Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Type:      TypeText,
	}

	userMsg, ok := e.AppendMessage(ctx, chatID, userMsg)
	if !ok {
		return Message{}, fmt.Errorf("sending to chat %s: %w", chatID, chaterrors.ErrValidation)
	}

	if e.assistant == nil {
		return userMsg, nil
	}

	chat, _ := e.Chat(chatID)

	var ragContext string
	if e.rag != nil && chat.UseSearch {
		ragContext = e.rag.Context(ctx, content, chatID)
	}

	var persona *Persona
	if chat.PersonaID != "" {
		for _, p := range e.Personas() {
			if p.ID == chat.PersonaID {
				persona = &p
				break
			}
		}
	}

	// Placeholder for the streamed reply. Marked unsynced up front: if the
	// process dies mid-stream, reconciliation still pushes the partial.
	reply := Message{
		ID:        NewID(),
		ChatID:    chatID,
		Role:      RoleAssistant,
		Timestamp: time.Now().UnixMilli(),
		Type:      TypeText,
		Model:     chat.ModelID,
		RAGUsed:   ragContext != "",
	}
	e.tracker.Mark(chatID, reply.ID)
	e.insertLocal(chatID, reply)

	// The snapshot above was taken after AppendMessage, so the user
	// message is already the last history entry.
	history := chat.Messages

	var acc strings.Builder
	text, streamErr := e.assistant.Stream(ctx, history, persona, ragContext, func(delta string) {
		acc.WriteString(delta)
		e.setMessageContent(chatID, reply.ID, acc.String())
	})

	reply.Content = text
	reply.Interrupted = errors.Is(streamErr, chaterrors.ErrInterrupted)

	if streamErr != nil && !reply.Interrupted {
		// The stream never produced a usable reply; drop the placeholder.
		e.mu.Lock()
		if c, exists := e.chats[chatID]; exists {
			c.Messages = removeMessage(c.Messages, reply.ID)
		}
		e.mu.Unlock()
		e.tracker.Clear(chatID, reply.ID)
		e.scheduleSave()
		return userMsg, streamErr
	}

	e.insertLocal(chatID, reply)

	go func() {
		err := e.sched.Do(ctx, "upsert message", func(ctx context.Context) error {
			return e.remote.UpsertMessage(ctx, chatID, reply)
		})
		if err != nil {
			e.logger.Warn("reply push stalled, kept unsynced",
				slog.String("chat_id", chatID),
				slog.String("message_id", reply.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chatID, reply.ID)
		e.recomputeFlag(chatID)
		e.scheduleSave()
	}()

	if reply.Interrupted {
		return reply, streamErr
	}

	return reply, nil
}

// setMessageContent replaces one message's content in place, used to
// render the reply as it streams.
func (e *Engine) setMessageContent(chatID, messageID, content string) {
	e.mu.Lock()
	if chat, ok := e.chats[chatID]; ok {
		for i := range chat.Messages {
			if chat.Messages[i].ID == messageID {
				chat.Messages[i].Content = content
				break
			}
		}
	}
	e.mu.Unlock()
}

// insertLocal upserts a message into the in-memory model without touching
// the tracker. SendMessage manages the reply's tracker state itself.
func (e *Engine) insertLocal(chatID string, m Message) {
	e.mu.Lock()
	if chat, ok := e.chats[chatID]; ok {
		chat.Messages = upsertMessage(chat.Messages, m)
		chat.LastUpdated = maxInt64(chat.LastUpdated, m.Timestamp)
		chat.HasUnsyncedChanges = true
	}
	e.mu.Unlock()

	e.scheduleSave()
}
