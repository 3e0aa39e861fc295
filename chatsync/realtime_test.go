package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- decodeEvent ---

func TestDecodeEvent_ValidFrames(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		channel string
		evType  string
	}{
		{"chat insert", `{"op":"event","channel":"chats","type":"insert","new":{"id":"c1"}}`, ChannelChats, EventInsert},
		{"message update", `{"op":"event","channel":"messages","type":"update","new":{"id":"m1","chat_id":"c1"}}`, ChannelMessages, EventUpdate},
		{"chat delete", `{"op":"event","channel":"chats","type":"delete","old":{"id":"c1"}}`, ChannelChats, EventDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.channel, ev.Channel)
			assert.Equal(t, tt.evType, ev.Type)
		})
	}
}

func TestDecodeEvent_InvalidFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{{`},
		{"unknown channel", `{"channel":"folders","type":"insert","new":{}}`},
		{"unknown type", `{"channel":"chats","type":"upsert","new":{}}`},
		{"insert without new", `{"channel":"chats","type":"insert"}`},
		{"delete without old", `{"channel":"messages","type":"delete"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEvent([]byte(tt.frame))
			assert.Error(t, err)
		})
	}
}

// --- isPermanentError ---

func TestIsPermanentError(t *testing.T) {
	assert.False(t, isPermanentError(nil))
	assert.False(t, isPermanentError(assert.AnError))
	assert.True(t, isPermanentError(fmt.Errorf("subscribe failed: invalid token")))
}

// --- Connect / event delivery ---

// recordingSink collects dispatched events for assertions.
type recordingSink struct {
	mu       sync.Mutex
	chats    []Event
	messages []Event
}

func (s *recordingSink) ApplyChatEvent(ev Event) {
	s.mu.Lock()
	s.chats = append(s.chats, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ApplyMessageEvent(ev Event) {
	s.mu.Lock()
	s.messages = append(s.messages, ev)
	s.mu.Unlock()
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.chats), len(s.messages)
}

// realtimeServer is a minimal in-process realtime endpoint: accepts one
// subscription, then plays the given frames.
func realtimeServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub subscribeMessage
		require.NoError(t, json.Unmarshal(data, &sub))
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, "acct-1", sub.AccountID)
		assert.ElementsMatch(t, []string{ChannelChats, ChannelMessages}, sub.Channels)

		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"res":"ok"}`)))

		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}

		// Answer pings until the client goes away.
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]string
			if json.Unmarshal(data, &m) == nil && m["op"] == "ping" {
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"op":"pong"}`))
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestConsumer_SubscribesAndDispatchesEvents(t *testing.T) {
	sink := &recordingSink{}

	srv := realtimeServer(t, []string{
		`{"op":"event","channel":"chats","type":"insert","new":{"id":"c1","title":"t"}}`,
		`{"op":"event","channel":"messages","type":"insert","new":{"id":"m1","chat_id":"c1"}}`,
		`{"op":"event","channel":"messages","type":"delete","old":{"id":"m1","chat_id":"c1"}}`,
		`{"op":"pong"}`, // must be swallowed, not dispatched
	})

	connected := make(chan struct{}, 1)
	consumer := NewConsumer(ConsumerConfig{
		Host:      "ws" + srv.URL[len("http"):],
		AccountID: "acct-1",
		Device:    "test-device",
		Sink:      sink,
		Token:     func() string { return "tok" },
		OnConnect: func() { connected <- struct{}{} },
	}, testLogger())
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Connect(ctx))

	listenDone := make(chan error, 1)
	go func() { listenDone <- consumer.Listen(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect never fired")
	}
	assert.True(t, consumer.Connected())

	require.Eventually(t, func() bool {
		chats, msgs := sink.counts()
		return chats == 1 && msgs == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-listenDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not stop on cancel")
	}
}

func TestConsumer_RejectedSubscribeIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"res":"invalid token"}`))
	}))
	defer srv.Close()

	consumer := NewConsumer(ConsumerConfig{
		Host:      "ws" + srv.URL[len("http"):],
		AccountID: "acct-1",
		Sink:      &recordingSink{},
		Token:     func() string { return "stale" },
	}, testLogger())

	err := consumer.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, isPermanentError(err))
}
