package chatsync

import (
	"testing"

	"go.uber.org/mock/gomock"
)

func newTestEngine(t *testing.T) (*Engine, *MockRemoteStore) {
	t.Helper()

	ctrl := gomock.NewController(t)
	remote := NewMockRemoteStore(ctrl)

	store := testStore(t)
	sched := fastScheduler()
	t.Cleanup(sched.Stop)

	engine := NewEngine(EngineConfig{
		Remote:    remote,
		Cache:     store,
		Tracker:   NewTracker(store, testLogger()),
		Scheduler: sched,
	}, testLogger())

	return engine, remote
}

// seedChat installs a chat directly into engine state, as if a prior
// reconciliation produced it.
func seedChat(e *Engine, chat ChatSession, knownRemote bool) {
	e.mu.Lock()
	c := chat
	e.chats[chat.ID] = &c
	if knownRemote {
		e.remoteIDs[chat.ID] = struct{}{}
	}
	e.mu.Unlock()
}
