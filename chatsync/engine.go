package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/marksewell/chat-sync/internal/cache"
	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

// saveDebounce batches rapid state changes into a single cache write.
const saveDebounce = 250 * time.Millisecond

// RemoteStore is the subset of the backend the engine depends on.
// Satisfied by *Client; mocked in tests.
type RemoteStore interface {
	ListChats(ctx context.Context) ([]ChatSession, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	ListFolders(ctx context.Context) ([]Folder, error)
	CreateChat(ctx context.Context, chat ChatSession) error
	UpdateChat(ctx context.Context, id string, fields map[string]any) error
	DeleteChat(ctx context.Context, id string) error
	CreateFolder(ctx context.Context, folder Folder) error
	UpsertMessage(ctx context.Context, chatID string, m Message) error
	UpdateMessageContent(ctx context.Context, id, content string, extras MessageExtras) error
	DeleteMessage(ctx context.Context, id string) error
}

// Responder streams an assistant reply for a message history.
type Responder interface {
	Stream(ctx context.Context, history []Message, persona *Persona, ragContext string, onDelta func(string)) (string, error)
}

// ContextProvider retrieves grounding context for a query. Must be
// timeout-wrapped internally; an empty string is a valid non-fatal result.
type ContextProvider interface {
	Context(ctx context.Context, query, conversationID string) string
}

// EngineConfig holds the engine's collaborators. Assistant and RAG are
// optional; without them SendMessage stores the user message only.
type EngineConfig struct {
	Remote    RemoteStore
	Cache     *cache.Store
	Tracker   *Tracker
	Scheduler *Scheduler
	Assistant Responder
	RAG       ContextProvider
}

// Engine owns the authoritative in-memory chat list. Reconciliation,
// realtime deltas, lazy loads, and local user actions all mutate state
// under one mutex, never through a separate unsynchronized copy. Async
// callbacks read current state at execution time via engine methods, so
// a delta scheduled long after the user switched chats still routes
// against the current selection.
type Engine struct {
	remote    RemoteStore
	cache     *cache.Store
	tracker   *Tracker
	sched     *Scheduler
	assistant Responder
	rag       ContextProvider
	logger    *slog.Logger

	mu           sync.Mutex
	chats        map[string]*ChatSession
	folders      []Folder
	personas     []Persona
	activeChatID string

	// remoteIDs holds chat ids confirmed to exist remotely, from the last
	// reconciliation plus confirmed creates and realtime inserts.
	remoteIDs map[string]struct{}

	// loading single-flights the full reload; loadingChats single-flights
	// per-chat lazy loads.
	loading      bool
	loadingChats map[string]struct{}

	// draining single-flights the unsynced walk. A trigger arriving while
	// a walk is in progress sets drainQueued so the walk runs once more
	// instead of the trigger being lost; a reconnect is the recovery path
	// for stalled pushes and must never be dropped.
	draining    bool
	drainQueued bool

	// pendingEvents queues realtime message events for chats whose lazy
	// load has not completed, replayed once it does. Dropping them would
	// lose cross-device updates until the user manually reopened the chat.
	pendingEvents map[string][]Event

	saveMu    sync.Mutex
	saveTimer *time.Timer
}

// NewEngine creates the synchronization engine.
func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	return &Engine{
		remote:        cfg.Remote,
		cache:         cfg.Cache,
		tracker:       cfg.Tracker,
		sched:         cfg.Scheduler,
		assistant:     cfg.Assistant,
		rag:           cfg.RAG,
		logger:        logger,
		chats:         make(map[string]*ChatSession),
		remoteIDs:     make(map[string]struct{}),
		loadingChats:  make(map[string]struct{}),
		pendingEvents: make(map[string][]Event),
	}
}

// Boot paints state from the local cache for instant display. All reads
// fail soft: a missing or corrupt blob leaves the corresponding state
// empty and the next reconciliation repairs it.
func (e *Engine) Boot() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if blob := e.cache.ChatList(); blob != nil {
		var chats []ChatSession
		if err := json.Unmarshal(blob, &chats); err != nil {
			e.logger.Warn("corrupt chat-list cache, starting empty", slog.String("error", err.Error()))
		} else {
			for i := range chats {
				chat := chats[i]
				sortMessages(chat.Messages)
				chat.HasUnsyncedChanges = e.tracker.Has(chat.ID)
				e.chats[chat.ID] = &chat
			}
		}
	}

	if blob := e.cache.FolderList(); blob != nil {
		var folders []Folder
		if err := json.Unmarshal(blob, &folders); err != nil {
			e.logger.Warn("corrupt folder-list cache, starting empty", slog.String("error", err.Error()))
		} else {
			e.folders = folders
		}
	}

	if blob := e.cache.PersonaList(); blob != nil {
		var personas []Persona
		if err := json.Unmarshal(blob, &personas); err != nil {
			e.logger.Warn("corrupt persona cache, starting empty", slog.String("error", err.Error()))
		} else {
			e.personas = personas
		}
	}

	e.activeChatID = e.cache.ActiveChat()

	e.logger.Info("painted from cache",
		slog.Int("chats", len(e.chats)),
		slog.Int("folders", len(e.folders)),
	)
}

// LoadUserData runs the full reconciliation pass: fetch the authoritative
// chat list, merge against in-memory state, write back, then drain
// unsynced writes in the background. Single-flight: a call while one is
// in flight is a no-op.
func (e *Engine) LoadUserData(ctx context.Context) error {
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		e.logger.Debug("reload already in flight, skipping")
		return nil
	}
	e.loading = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	}()

	remoteChats, err := e.remote.ListChats(ctx)
	if err != nil {
		// Keep painting from cache; the caller decides whether to retry.
		return err
	}

	// Snapshot, merge, and install under one lock. The fetch takes a
	// network round trip, and realtime events or optimistic local writes
	// can land on e.chats while it runs; merging against a snapshot taken
	// before the fetch would clobber them on install.
	e.mu.Lock()
	cached := e.snapshotLocked()
	merged := Reconcile(cached, remoteChats, e.tracker.Snapshot())

	e.chats = make(map[string]*ChatSession, len(merged))
	for i := range merged {
		chat := merged[i]
		e.chats[chat.ID] = &chat
	}
	e.remoteIDs = make(map[string]struct{}, len(remoteChats))
	for i := range remoteChats {
		e.remoteIDs[remoteChats[i].ID] = struct{}{}
	}
	e.mu.Unlock()

	if folders, ferr := e.remote.ListFolders(ctx); ferr != nil {
		e.logger.Warn("listing folders", slog.String("error", ferr.Error()))
	} else {
		e.mu.Lock()
		e.folders = folders
		e.mu.Unlock()
	}

	e.scheduleSave()

	e.logger.Info("reconciled",
		slog.Int("remote", len(remoteChats)),
		slog.Int("merged", len(merged)),
	)

	// The drain must not block the already-rendered merged state.
	go e.DrainUnsynced(ctx)

	return nil
}

// DrainUnsynced walks every chat with pending writes and pushes them:
// the chat row first when it has no remote counterpart, then every
// message the remote copy lacks. Each push goes through the retry
// scheduler; a failed push leaves its mark in place (visible as "not yet
// synced") rather than disappearing. Safe to call from a reconnect hook.
func (e *Engine) DrainUnsynced(ctx context.Context) {
	e.mu.Lock()
	if e.draining {
		// Remember the trigger; the in-flight walk reruns once it finishes.
		e.drainQueued = true
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		e.drainQueued = false
		var flagged []string
		for id, chat := range e.chats {
			if chat.HasUnsyncedChanges || e.tracker.Has(id) {
				flagged = append(flagged, id)
			}
		}
		sort.Strings(flagged)
		e.mu.Unlock()

		for _, chatID := range flagged {
			if ctx.Err() != nil {
				return
			}
			e.pushChat(ctx, chatID)
		}

		e.mu.Lock()
		rerun := e.drainQueued
		e.mu.Unlock()
		if !rerun {
			return
		}
	}
}

// pushChat reconcile-pushes a single chat: create the row remotely if
// missing, then upsert every message the remote copy lacks. One failed
// message leaves only that id marked; the rest of the batch continues.
func (e *Engine) pushChat(ctx context.Context, chatID string) {
	e.mu.Lock()
	chat, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		return
	}
	snapshot := *chat
	snapshot.Messages = copyMessages(chat.Messages)
	_, knownRemote := e.remoteIDs[chatID]
	e.mu.Unlock()

	if !knownRemote {
		e.tracker.Mark(chatID, ChatRowPending)
		err := e.sched.Do(ctx, "create chat", func(ctx context.Context) error {
			return e.remote.CreateChat(ctx, snapshot)
		})
		if err != nil {
			e.logger.Warn("chat row push stalled",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chatID, ChatRowPending)
		e.mu.Lock()
		e.remoteIDs[chatID] = struct{}{}
		e.mu.Unlock()
	} else if hasID(e.tracker.Pending(chatID), ChatRowPending) {
		// The row exists remotely but a metadata write never confirmed.
		err := e.sched.Do(ctx, "update chat", func(ctx context.Context) error {
			return e.remote.UpdateChat(ctx, chatID, chatScalarFields(snapshot))
		})
		if err != nil {
			e.logger.Warn("chat metadata push stalled",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		} else {
			e.tracker.Clear(chatID, ChatRowPending)
		}
	}

	if len(snapshot.Messages) > 0 {
		var remoteMsgs []Message
		err := e.sched.Do(ctx, "list messages", func(ctx context.Context) error {
			var lerr error
			remoteMsgs, lerr = e.remote.ListMessages(ctx, chatID)
			return lerr
		})
		if err != nil {
			e.logger.Warn("message diff fetch stalled",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}

		remoteSet := messageIDSet(remoteMsgs)
		for _, m := range snapshot.Messages {
			if _, exists := remoteSet[m.ID]; exists {
				e.tracker.Clear(chatID, m.ID)
				continue
			}

			msg := m
			e.tracker.Mark(chatID, msg.ID)
			err := e.sched.Do(ctx, "upsert message", func(ctx context.Context) error {
				return e.remote.UpsertMessage(ctx, chatID, msg)
			})
			if err != nil {
				// Partial failure: keep this id marked, push the rest.
				e.logger.Warn("message push stalled",
					slog.String("chat_id", chatID),
					slog.String("message_id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.tracker.Clear(chatID, msg.ID)
		}
	}

	e.recomputeFlag(chatID)
	e.scheduleSave()
}

// OpenChat makes a chat the active selection and lazily loads its
// history on first open. A per-chat in-flight set prevents rapid
// chat-switching from issuing duplicate fetches.
func (e *Engine) OpenChat(ctx context.Context, chatID string) {
	e.mu.Lock()
	e.activeChatID = chatID
	chat, ok := e.chats[chatID]
	needsLoad := ok && !chat.MessagesLoaded && len(chat.Messages) == 0
	if needsLoad {
		if _, inFlight := e.loadingChats[chatID]; inFlight {
			needsLoad = false
		} else {
			e.loadingChats[chatID] = struct{}{}
		}
	}
	e.mu.Unlock()

	if err := e.cache.SetActiveChat(chatID); err != nil {
		e.logger.Warn("failed to persist active chat", slog.String("error", err.Error()))
	}

	if !needsLoad {
		return
	}

	go e.loadMessages(ctx, chatID)
}

// loadMessages fetches one chat's history, installs it, and replays any
// realtime events queued while the load was pending.
func (e *Engine) loadMessages(ctx context.Context, chatID string) {
	defer func() {
		e.mu.Lock()
		delete(e.loadingChats, chatID)
		e.mu.Unlock()
	}()

	msgs, err := e.remote.ListMessages(ctx, chatID)
	if err != nil {
		// The next open retries; queued events stay queued.
		e.logger.Warn("lazy load failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.mu.Lock()
	chat, ok := e.chats[chatID]
	if !ok {
		// Deleted while the fetch was in flight.
		delete(e.pendingEvents, chatID)
		e.mu.Unlock()
		return
	}

	sortMessages(msgs)
	chat.Messages = msgs
	chat.MessagesLoaded = true

	queued := e.pendingEvents[chatID]
	delete(e.pendingEvents, chatID)
	for _, ev := range queued {
		e.applyMessageEventLocked(ev)
	}
	e.mu.Unlock()

	e.recomputeFlag(chatID)
	e.scheduleSave()

	e.logger.Info("messages loaded",
		slog.String("chat_id", chatID),
		slog.Int("count", len(msgs)),
		slog.Int("replayed", len(queued)),
	)
}

// --- local mutations (optimistic, mark-before-attempt) ---

// NewChat creates a chat locally with a client-generated id, visible
// immediately, and pushes the row remotely in the background.
func (e *Engine) NewChat(ctx context.Context, title, personaID, modelID string) ChatSession {
	chat := ChatSession{
		ID:                 NewID(),
		Title:              title,
		PersonaID:          personaID,
		ModelID:            modelID,
		LastUpdated:        time.Now().UnixMilli(),
		MessagesLoaded:     true, // nothing to load for a brand-new chat
		HasUnsyncedChanges: true,
	}

	e.tracker.Mark(chat.ID, ChatRowPending)

	e.mu.Lock()
	stored := chat
	e.chats[chat.ID] = &stored
	e.mu.Unlock()

	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "create chat", func(ctx context.Context) error {
			return e.remote.CreateChat(ctx, chat)
		})
		if err != nil {
			e.logger.Warn("chat create stalled, kept unsynced",
				slog.String("chat_id", chat.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chat.ID, ChatRowPending)
		e.mu.Lock()
		e.remoteIDs[chat.ID] = struct{}{}
		e.mu.Unlock()
		e.recomputeFlag(chat.ID)
		e.scheduleSave()
	}()

	return chat
}

// AppendMessage applies a message optimistically and pushes it remotely.
func (e *Engine) AppendMessage(ctx context.Context, chatID string, m Message) (Message, bool) {
	if m.ID == "" {
		m.ID = NewID()
	}
	m.ChatID = chatID
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	if m.Type == "" {
		m.Type = TypeText
	}

	e.tracker.Mark(chatID, m.ID)

	e.mu.Lock()
	chat, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		e.tracker.Clear(chatID, m.ID)
		return Message{}, false
	}
	chat.Messages = upsertMessage(chat.Messages, m)
	chat.MessagesLoaded = true
	chat.LastUpdated = maxInt64(chat.LastUpdated, m.Timestamp)
	chat.HasUnsyncedChanges = true
	e.mu.Unlock()

	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "upsert message", func(ctx context.Context) error {
			return e.remote.UpsertMessage(ctx, chatID, m)
		})
		if err != nil {
			e.logger.Warn("message push stalled, kept unsynced",
				slog.String("chat_id", chatID),
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chatID, m.ID)
		e.recomputeFlag(chatID)
		e.scheduleSave()
	}()

	return m, true
}

// UpdateMessageContent patches a message's content locally and remotely.
func (e *Engine) UpdateMessageContent(ctx context.Context, chatID, messageID, content string, extras MessageExtras) bool {
	e.tracker.Mark(chatID, messageID)

	e.mu.Lock()
	chat, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		e.tracker.Clear(chatID, messageID)
		return false
	}
	var found bool
	for i := range chat.Messages {
		if chat.Messages[i].ID == messageID {
			chat.Messages[i].Content = content
			chat.Messages[i].GroundingURLs = extras.GroundingURLs
			if extras.Model != "" {
				chat.Messages[i].Model = extras.Model
			}
			chat.Messages[i].Interrupted = extras.Interrupted
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		e.tracker.Clear(chatID, messageID)
		return false
	}
	chat.HasUnsyncedChanges = true
	e.mu.Unlock()

	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "update message", func(ctx context.Context) error {
			return e.remote.UpdateMessageContent(ctx, messageID, content, extras)
		})
		if err != nil {
			e.logger.Warn("message update stalled, kept unsynced",
				slog.String("message_id", messageID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chatID, messageID)
		e.recomputeFlag(chatID)
		e.scheduleSave()
	}()

	return true
}

// RenameChat sets a chat's title.
func (e *Engine) RenameChat(ctx context.Context, chatID, title string) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"title": title}, func(c *ChatSession) {
		c.Title = title
	})
}

// SetPinned pins or unpins a chat.
func (e *Engine) SetPinned(ctx context.Context, chatID string, pinned bool) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"is_pinned": pinned}, func(c *ChatSession) {
		c.IsPinned = pinned
	})
}

// MoveChatToFolder assigns a chat to a folder; empty clears it.
func (e *Engine) MoveChatToFolder(ctx context.Context, chatID, folderID string) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"folder_id": folderID}, func(c *ChatSession) {
		c.FolderID = folderID
	})
}

// SetPersona assigns a persona to a chat.
func (e *Engine) SetPersona(ctx context.Context, chatID, personaID string) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"persona_id": personaID}, func(c *ChatSession) {
		c.PersonaID = personaID
	})
}

// SetModel sets a chat's model override.
func (e *Engine) SetModel(ctx context.Context, chatID, modelID string) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"model_id": modelID}, func(c *ChatSession) {
		c.ModelID = modelID
	})
}

// SetUseSearch toggles search grounding for a chat.
func (e *Engine) SetUseSearch(ctx context.Context, chatID string, useSearch bool) bool {
	return e.updateChatScalars(ctx, chatID, map[string]any{"use_search": useSearch}, func(c *ChatSession) {
		c.UseSearch = useSearch
	})
}

// updateChatScalars is the shared optimistic write path for chat
// metadata: apply locally, mark the chat row, push the partial patch,
// clear only on confirmed success.
func (e *Engine) updateChatScalars(ctx context.Context, chatID string, fields map[string]any, apply func(*ChatSession)) bool {
	e.tracker.Mark(chatID, ChatRowPending)

	now := time.Now().UnixMilli()
	fields["last_updated"] = now

	e.mu.Lock()
	chat, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		e.tracker.Clear(chatID, ChatRowPending)
		return false
	}
	apply(chat)
	chat.LastUpdated = now
	chat.HasUnsyncedChanges = true
	e.mu.Unlock()

	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "update chat", func(ctx context.Context) error {
			return e.remote.UpdateChat(ctx, chatID, fields)
		})
		if err != nil {
			e.logger.Warn("chat update stalled, kept unsynced",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}

		e.tracker.Clear(chatID, ChatRowPending)
		e.recomputeFlag(chatID)
		e.scheduleSave()
	}()

	return true
}

// DeleteChat removes a chat locally and remotely. Explicit delete, not
// soft-delete: pending writes for the chat are moot once it is gone.
func (e *Engine) DeleteChat(ctx context.Context, chatID string) {
	e.mu.Lock()
	delete(e.chats, chatID)
	delete(e.pendingEvents, chatID)
	delete(e.remoteIDs, chatID)
	if e.activeChatID == chatID {
		e.activeChatID = ""
	}
	e.mu.Unlock()

	e.tracker.ClearAll(chatID)
	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "delete chat", func(ctx context.Context) error {
			return e.remote.DeleteChat(ctx, chatID)
		})
		if err != nil {
			e.logger.Warn("remote delete stalled",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// DeleteMessage removes a message locally and remotely.
func (e *Engine) DeleteMessage(ctx context.Context, chatID, messageID string) {
	e.mu.Lock()
	if chat, ok := e.chats[chatID]; ok {
		chat.Messages = removeMessage(chat.Messages, messageID)
	}
	e.mu.Unlock()

	e.tracker.Clear(chatID, messageID)
	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "delete message", func(ctx context.Context) error {
			return e.remote.DeleteMessage(ctx, messageID)
		})
		if err != nil {
			e.logger.Warn("remote message delete stalled",
				slog.String("message_id", messageID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// --- realtime delta routing (EventSink) ---

// ApplyChatEvent routes a chat-row delta into the engine.
func (e *Engine) ApplyChatEvent(ev Event) {
	switch ev.Type {
	case EventInsert:
		var chat ChatSession
		if err := json.Unmarshal(ev.New, &chat); err != nil || chat.ID == "" {
			e.logger.Warn("bad chat insert payload")
			return
		}

		e.mu.Lock()
		if _, exists := e.chats[chat.ID]; exists {
			// Our own optimistic create echoing back.
			e.remoteIDs[chat.ID] = struct{}{}
			e.mu.Unlock()
			return
		}
		chat.Messages = nil
		chat.MessagesLoaded = false
		e.chats[chat.ID] = &chat
		e.remoteIDs[chat.ID] = struct{}{}
		e.mu.Unlock()

		e.scheduleSave()

	case EventUpdate:
		id := gjson.GetBytes(ev.New, "id").Str
		if id == "" {
			e.logger.Warn("chat update without id")
			return
		}

		e.mu.Lock()
		chat, ok := e.chats[id]
		if !ok {
			// Unknown chat: the next full reconciliation picks it up.
			e.mu.Unlock()
			return
		}
		mergeChatFields(chat, ev.New)
		e.mu.Unlock()

		e.scheduleSave()

	case EventDelete:
		id := gjson.GetBytes(ev.Old, "id").Str
		if id == "" {
			return
		}

		e.mu.Lock()
		delete(e.chats, id)
		delete(e.pendingEvents, id)
		delete(e.remoteIDs, id)
		if e.activeChatID == id {
			e.activeChatID = ""
		}
		e.mu.Unlock()

		e.tracker.ClearAll(id)
		e.scheduleSave()
	}
}

// mergeChatFields merges only the fields present in the event payload
// into the existing record. Messages are never touched by chat events.
func mergeChatFields(chat *ChatSession, payload []byte) {
	if f := gjson.GetBytes(payload, "title"); f.Exists() {
		chat.Title = f.Str
	}
	if f := gjson.GetBytes(payload, "folder_id"); f.Exists() {
		chat.FolderID = f.Str
	}
	if f := gjson.GetBytes(payload, "is_pinned"); f.Exists() {
		chat.IsPinned = f.Bool()
	}
	if f := gjson.GetBytes(payload, "persona_id"); f.Exists() {
		chat.PersonaID = f.Str
	}
	if f := gjson.GetBytes(payload, "model_id"); f.Exists() {
		chat.ModelID = f.Str
	}
	if f := gjson.GetBytes(payload, "use_search"); f.Exists() {
		chat.UseSearch = f.Bool()
	}
	if f := gjson.GetBytes(payload, "last_updated"); f.Exists() {
		chat.LastUpdated = maxInt64(chat.LastUpdated, f.Int())
	}
}

// ApplyMessageEvent routes a message delta into the engine.
func (e *Engine) ApplyMessageEvent(ev Event) {
	e.mu.Lock()
	e.applyMessageEventLocked(ev)
	e.mu.Unlock()

	e.scheduleSave()
}

// applyMessageEventLocked applies one message event under e.mu. Also used
// to replay queued events after a lazy load.
func (e *Engine) applyMessageEventLocked(ev Event) {
	if ev.Type == EventDelete {
		chatID := gjson.GetBytes(ev.Old, "chat_id").Str
		msgID := gjson.GetBytes(ev.Old, "id").Str
		chat, ok := e.chats[chatID]
		if !ok || !chat.MessagesLoaded {
			// A not-yet-loaded chat fetches current truth on load, which
			// already excludes the deleted row.
			return
		}
		chat.Messages = removeMessage(chat.Messages, msgID)
		return
	}

	var m Message
	if err := json.Unmarshal(ev.New, &m); err != nil || m.ID == "" || m.ChatID == "" {
		e.logger.Warn("bad message event payload")
		return
	}

	chat, ok := e.chats[m.ChatID]
	if !ok {
		// Unknown chat: the next full reconciliation delivers it.
		return
	}

	if !chat.MessagesLoaded {
		// Queue rather than discard, so an in-flight event is not lost
		// purely due to load timing. Replayed when the lazy load lands.
		e.pendingEvents[m.ChatID] = append(e.pendingEvents[m.ChatID], ev)
		return
	}

	chat.Messages = upsertMessage(chat.Messages, m)
	chat.LastUpdated = maxInt64(chat.LastUpdated, m.Timestamp)
}

// --- accessors ---

// Chats returns the chat list sorted by last activity, newest first.
func (e *Engine) Chats() []ChatSession {
	e.mu.Lock()
	out := e.snapshotLocked()
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdated != out[j].LastUpdated {
			return out[i].LastUpdated > out[j].LastUpdated
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// Chat returns a copy of one chat.
func (e *Engine) Chat(chatID string) (ChatSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chat, ok := e.chats[chatID]
	if !ok {
		return ChatSession{}, false
	}

	out := *chat
	out.Messages = copyMessages(chat.Messages)

	return out, true
}

// ActiveChatID returns the current selection. Realtime callbacks read
// this at execution time rather than capturing it.
func (e *Engine) ActiveChatID() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.activeChatID
}

// Folders returns the folder list.
func (e *Engine) Folders() []Folder {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Folder, len(e.folders))
	copy(out, e.folders)

	return out
}

// Personas returns the cached persona list.
func (e *Engine) Personas() []Persona {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Persona, len(e.personas))
	copy(out, e.personas)

	return out
}

// CreateFolder creates a folder locally and remotely.
func (e *Engine) CreateFolder(ctx context.Context, name string) Folder {
	folder := Folder{ID: NewID(), Name: name}

	e.mu.Lock()
	e.folders = append(e.folders, folder)
	e.mu.Unlock()

	e.scheduleSave()

	go func() {
		err := e.sched.Do(ctx, "create folder", func(ctx context.Context) error {
			return e.remote.CreateFolder(ctx, folder)
		})
		if err != nil {
			e.logger.Warn("folder create stalled",
				slog.String("folder_id", folder.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return folder
}

// Settings returns the cached user-settings blob; nil when absent.
func (e *Engine) Settings() []byte {
	return e.cache.Settings()
}

// SetSettings persists the opaque user-settings blob.
func (e *Engine) SetSettings(blob []byte) {
	if err := e.cache.SetSettings(blob); err != nil {
		e.logger.Warn("failed to persist settings", slog.String("error", err.Error()))
	}
}

// --- persistence ---

// snapshotLocked copies the chat list. Caller holds e.mu.
func (e *Engine) snapshotLocked() []ChatSession {
	out := make([]ChatSession, 0, len(e.chats))
	for _, chat := range e.chats {
		c := *chat
		c.Messages = copyMessages(chat.Messages)
		out = append(out, c)
	}

	return out
}

// recomputeFlag re-derives hasUnsyncedChanges for one chat from the
// tracker and remote-existence state.
func (e *Engine) recomputeFlag(chatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chat, ok := e.chats[chatID]
	if !ok {
		return
	}
	_, knownRemote := e.remoteIDs[chatID]
	chat.HasUnsyncedChanges = e.tracker.Has(chatID) || !knownRemote
}

// scheduleSave debounces cache write-back: every state change schedules a
// save, rapid changes collapse into one write.
func (e *Engine) scheduleSave() {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if e.saveTimer != nil {
		e.saveTimer.Stop()
	}
	e.saveTimer = time.AfterFunc(saveDebounce, e.saveNow)
}

// saveNow writes the full state back to the local cache. Persistence
// failures (quota, corruption) are logged and skipped: the cache is a
// paint optimization, never the authority.
func (e *Engine) saveNow() {
	chats := e.Chats()

	blob, err := json.Marshal(chats)
	if err != nil {
		e.logger.Warn("failed to encode chat list", slog.String("error", err.Error()))
		return
	}
	if err := e.cache.SetChatList(blob); err != nil {
		if errors.Is(err, chaterrors.ErrStorageQuota) {
			e.logger.Warn("local cache full, skipping chat-list write-back", slog.String("error", err.Error()))
		} else {
			e.logger.Warn("failed to persist chat list", slog.String("error", err.Error()))
		}
	}

	e.mu.Lock()
	folders := make([]Folder, len(e.folders))
	copy(folders, e.folders)
	personas := make([]Persona, len(e.personas))
	copy(personas, e.personas)
	e.mu.Unlock()

	if blob, err := json.Marshal(folders); err == nil {
		if err := e.cache.SetFolderList(blob); err != nil {
			e.logger.Warn("failed to persist folder list", slog.String("error", err.Error()))
		}
	}
	if blob, err := json.Marshal(personas); err == nil {
		if err := e.cache.SetPersonaList(blob); err != nil {
			e.logger.Warn("failed to persist persona list", slog.String("error", err.Error()))
		}
	}
}

// Flush forces any pending debounced save to disk now. Called on shutdown.
func (e *Engine) Flush() {
	e.saveMu.Lock()
	if e.saveTimer != nil {
		e.saveTimer.Stop()
		e.saveTimer = nil
	}
	e.saveMu.Unlock()

	e.saveNow()
}

func hasID(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}

	return false
}
