package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		AccountID:   "acct-1",
		Token:       "tok-1",
		Credentials: Credentials{Email: "u@example.com", Password: "pw"},
		HTTPClient:  srv.Client(),
	}, testLogger())
}

// --- do ---

func TestClient_SendsScopingHeaders(t *testing.T) {
	var gotAccount, gotAuth string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = r.Header.Get("X-Account-ID")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "[]")
	}))

	_, err := client.ListChats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "acct-1", gotAccount)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestClient_ClassifiesServerErrorsTransient(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.ListChats(context.Background())
	require.Error(t, err)
	assert.True(t, chaterrors.IsTransient(err))
}

func TestClient_ClassifiesRateLimitTransient(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ListChats(context.Background())
	require.Error(t, err)
	assert.True(t, chaterrors.IsTransient(err))
}

func TestClient_ClassifiesBadRequestValidation(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"title too long"}`)
	}))

	err := client.UpdateChat(context.Background(), "c1", map[string]any{"title": "x"})
	require.Error(t, err)

	assert.ErrorIs(t, err, chaterrors.ErrValidation)
	assert.False(t, chaterrors.IsTransient(err))
	assert.Contains(t, err.Error(), "title too long")
}

// --- call (session recovery) ---

func TestClient_RecoversExpiredSessionOnce(t *testing.T) {
	var signins, listCalls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/signin":
			signins++
			fmt.Fprint(w, `{"token":"tok-fresh"}`)
		case "/chats":
			listCalls++
			if r.Header.Get("Authorization") != "Bearer tok-fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `[{"id":"c1","title":"t"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	chats, err := client.ListChats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, signins)
	assert.Equal(t, 2, listCalls) // rejected, recovered, retried once
	assert.Len(t, chats, 1)
	assert.Equal(t, "tok-fresh", client.Token())
}

func TestClient_NoRecoveryLoopWhenCredentialsRejected(t *testing.T) {
	var signins int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/signin" {
			signins++
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.ListChats(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, signins)
}

func TestClient_OnTokenFiresAfterRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/signin" {
			fmt.Fprint(w, `{"token":"tok-new"}`)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	var persisted string
	client := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		AccountID:   "acct-1",
		Credentials: Credentials{Email: "u@example.com", Password: "pw"},
		OnToken:     func(tok string) { persisted = tok },
		HTTPClient:  srv.Client(),
	}, testLogger())

	require.NoError(t, client.EnsureSession(context.Background()))
	assert.Equal(t, "tok-new", persisted)
}

// --- ListMessages ---

func TestClient_ListMessagesPagesLongHistory(t *testing.T) {
	// 15000 messages: one full range, one partial. A single request would
	// truncate at the backend's row ceiling.
	const total = 15000

	var requests []int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		requests = append(requests, offset)

		end := offset + limit
		if end > total {
			end = total
		}
		page := make([]Message, 0, end-offset)
		for i := offset; i < end; i++ {
			page = append(page, Message{
				ID:        fmt.Sprintf("m%05d", i),
				ChatID:    "c1",
				Timestamp: int64(i),
			})
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))

	msgs, err := client.ListMessages(context.Background(), "c1")
	require.NoError(t, err)

	assert.Len(t, msgs, total)
	assert.Equal(t, []int{0, 10000}, requests)
	assert.Equal(t, "m00000", msgs[0].ID)
	assert.Equal(t, "m14999", msgs[total-1].ID)
}

func TestClient_ListMessagesEmptyChat(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))

	msgs, err := client.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// --- CreateChat ---

func TestClient_CreateChatStripsMessages(t *testing.T) {
	var body map[string]any
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))

	chat := ChatSession{
		ID:       "c1",
		Title:    "t",
		Messages: []Message{{ID: "m1", ChatID: "c1"}},
	}
	require.NoError(t, client.CreateChat(context.Background(), chat))

	assert.Equal(t, "c1", body["id"])
	assert.NotContains(t, body, "messages")
}
