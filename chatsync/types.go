package chatsync

import (
	"sort"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeAudio = "audio"
)

// FileMetadata describes an attachment referenced by a message. Parsing
// of attachment content happens elsewhere; the sync engine only carries
// the descriptor.
type FileMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single chat message. IDs are client-generated so a message
// exists locally the instant the user acts, before any network round trip.
// ChatID is a reference, not ownership: deleting a message never touches
// its chat.
type Message struct {
	ID            string        `json:"id"`
	ChatID        string        `json:"chat_id"`
	Role          string        `json:"role"`
	Content       string        `json:"content"`
	Timestamp     int64         `json:"timestamp"`
	Type          string        `json:"type"`
	GroundingURLs []string      `json:"grounding_urls,omitempty"`
	Model         string        `json:"model,omitempty"`
	FileMetadata  *FileMetadata `json:"file_metadata,omitempty"`
	RAGUsed       bool          `json:"rag_used,omitempty"`
	Interrupted   bool          `json:"interrupted,omitempty"`
}

// ChatSession is one conversation. Scalar metadata (title, folder, pin,
// persona, model, search flag) is authoritative on the remote store;
// Messages may be local-only until pushed. Messages is always kept sorted
// ascending by timestamp and holds no duplicate ids.
type ChatSession struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	FolderID    string `json:"folder_id,omitempty"`
	IsPinned    bool   `json:"is_pinned"`
	PersonaID   string `json:"persona_id,omitempty"`
	ModelID     string `json:"model_id,omitempty"`
	UseSearch   bool   `json:"use_search"`
	LastUpdated int64  `json:"last_updated"`

	Messages []Message `json:"messages,omitempty"`

	// MessagesLoaded records whether full history has been fetched for
	// this chat. A non-empty Messages slice implies a prior load.
	MessagesLoaded bool `json:"messages_loaded"`

	// HasUnsyncedChanges is derived from the unsynced-change tracker plus
	// the merge conditions; it is never set directly by callers.
	HasUnsyncedChanges bool `json:"has_unsynced_changes"`
}

// Folder groups chats in the sidebar.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Persona is a reusable system-prompt identity attached to chats.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// NewID returns a fresh client-generated identifier. Chats and messages
// are created with ids minted locally so the row is visible before any
// network confirmation.
func NewID() string {
	return uuid.NewString()
}

// sortMessages orders messages ascending by timestamp. Ties break on id
// so repeated sorts are deterministic regardless of arrival order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// upsertMessage replaces the message with a matching id or appends, then
// re-sorts. Duplicates by id are resolved by replacing, never appending.
func upsertMessage(msgs []Message, m Message) []Message {
	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = m
			sortMessages(msgs)
			return msgs
		}
	}

	msgs = append(msgs, m)
	sortMessages(msgs)

	return msgs
}

// removeMessage deletes the message with the given id, if present.
func removeMessage(msgs []Message, id string) []Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return append(msgs[:i], msgs[i+1:]...)
		}
	}

	return msgs
}

// messageIDSet returns the set of message ids in msgs.
func messageIDSet(msgs []Message) map[string]struct{} {
	set := make(map[string]struct{}, len(msgs))
	for i := range msgs {
		set[msgs[i].ID] = struct{}{}
	}

	return set
}

// chatScalarFields projects a chat's scalar metadata into the partial
// update shape the backend accepts. Messages are carried separately.
func chatScalarFields(c ChatSession) map[string]any {
	return map[string]any{
		"title":        c.Title,
		"folder_id":    c.FolderID,
		"is_pinned":    c.IsPinned,
		"persona_id":   c.PersonaID,
		"model_id":     c.ModelID,
		"use_search":   c.UseSearch,
		"last_updated": c.LastUpdated,
	}
}

// newestTimestamp returns the largest message timestamp, or 0 when empty.
func newestTimestamp(msgs []Message) int64 {
	var newest int64
	for i := range msgs {
		if msgs[i].Timestamp > newest {
			newest = msgs[i].Timestamp
		}
	}

	return newest
}
