package chatsync

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/marksewell/chat-sync/internal/cache"
)

// ChatRowPending is the reserved write identifier meaning "the chat row
// itself is unsynced", distinct from any message id. Marked when a chat
// is created locally and cleared once the remote create succeeds.
const ChatRowPending = "__chat_row__"

// Tracker is the unsynced-change index: per chat, the set of pending
// write ids not yet confirmed by the remote store. It is the sole source
// of truth for the hasUnsyncedChanges flag. Every local write marks
// before attempting and clears only on confirmed success; a failed write
// leaves the mark in place until a later retry or reconciliation clears it.
type Tracker struct {
	mu     sync.Mutex
	index  map[string]map[string]struct{}
	store  *cache.Store
	logger *slog.Logger
}

// NewTracker creates a tracker seeded from the persisted index.
func NewTracker(store *cache.Store, logger *slog.Logger) *Tracker {
	index := make(map[string]map[string]struct{})
	for chatID, ids := range store.AllUnsynced() {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		if len(set) > 0 {
			index[chatID] = set
		}
	}

	return &Tracker{
		index:  index,
		store:  store,
		logger: logger,
	}
}

// Mark adds pending write ids to a chat's entry and persists the index.
func (t *Tracker) Mark(chatID string, ids ...string) {
	if len(ids) == 0 {
		return
	}

	t.mu.Lock()
	set, ok := t.index[chatID]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		t.index[chatID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	snapshot := setToSlice(set)
	t.mu.Unlock()

	t.persist(chatID, snapshot)
}

// Clear removes write ids from a chat's entry, deleting the entry
// entirely once empty, and persists the index.
func (t *Tracker) Clear(chatID string, ids ...string) {
	t.mu.Lock()
	set, ok := t.index[chatID]
	if !ok {
		t.mu.Unlock()
		return
	}
	for _, id := range ids {
		delete(set, id)
	}

	var snapshot []string
	if len(set) == 0 {
		delete(t.index, chatID)
	} else {
		snapshot = setToSlice(set)
	}
	t.mu.Unlock()

	t.persist(chatID, snapshot)
}

// ClearAll drops every pending id for a chat, used when the chat itself
// is deleted.
func (t *Tracker) ClearAll(chatID string) {
	t.mu.Lock()
	delete(t.index, chatID)
	t.mu.Unlock()

	t.persist(chatID, nil)
}

// Has reports whether a chat has any pending writes.
func (t *Tracker) Has(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.index[chatID]) > 0
}

// Pending returns the pending write ids for a chat, sorted for
// deterministic iteration.
func (t *Tracker) Pending(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return setToSlice(t.index[chatID])
}

// Snapshot returns a copy of the whole index, in the shape Reconcile
// consumes.
func (t *Tracker) Snapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string][]string, len(t.index))
	for chatID, set := range t.index {
		snap[chatID] = setToSlice(set)
	}

	return snap
}

// ChatIDs returns the ids of all chats with pending writes.
func (t *Tracker) ChatIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.index))
	for chatID := range t.index {
		ids = append(ids, chatID)
	}
	sort.Strings(ids)

	return ids
}

// persist writes one chat's entry through to the cache store. Persistence
// failures are logged and skipped: the in-memory index stays correct for
// this session and the next reconciliation re-derives what it can.
func (t *Tracker) persist(chatID string, ids []string) {
	if err := t.store.SetUnsynced(chatID, ids); err != nil {
		t.logger.Warn("failed to persist unsynced index",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
