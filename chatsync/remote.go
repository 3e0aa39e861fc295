package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

// messagePageSize is the bounded-range size for bulk message fetches. The
// backend enforces a maximum-rows-per-request ceiling; a single
// large-limit request silently truncates to the oldest rows, so history
// is fetched as successive ranges concatenated client-side.
const messagePageSize = 10000

// Credentials re-authenticates a session after the remote store rejects
// the current token.
type Credentials struct {
	Email    string
	Password string
}

// ClientConfig holds the parameters for a remote store client.
type ClientConfig struct {
	BaseURL     string
	AccountID   string
	Token       string
	Credentials Credentials

	// OnToken is called with the fresh token after a successful session
	// recovery so the caller can persist it. Optional.
	OnToken func(token string)

	// HTTPClient defaults to http.DefaultClient when nil.
	HTTPClient *http.Client
}

// Client talks to the authoritative chat backend. All queries are scoped
// to the configured account. A rejected token triggers one session
// recovery followed by one retry of the original operation.
type Client struct {
	httpClient *http.Client
	baseURL    string
	accountID  string
	creds      Credentials
	onToken    func(string)
	logger     *slog.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewClient creates a remote store client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		accountID:  cfg.AccountID,
		creds:      cfg.Credentials,
		onToken:    cfg.OnToken,
		logger:     logger,
		token:      cfg.Token,
	}
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()

	return c.token
}

func (c *Client) setToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// apiError is the backend's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do sends one JSON request and decodes into result. Failures are
// classified: transport errors and 5xx wrap ErrTransient, 401/403 wrap
// ErrAuthExpired, other 4xx wrap ErrValidation.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", c.accountID)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %v: %w", endpoint, err, chaterrors.ErrTransient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %v: %w", endpoint, err, chaterrors.ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("API %s (%d): %w", endpoint, resp.StatusCode, chaterrors.ErrAuthExpired)

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("API %s (%d): %w", endpoint, resp.StatusCode, chaterrors.ErrTransient)

	case resp.StatusCode >= 400:
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API %s (%d) %s: %w", endpoint, resp.StatusCode, apiErr.Error, chaterrors.ErrValidation)
		}
		return fmt.Errorf("API %s (%d): %w", endpoint, resp.StatusCode, chaterrors.ErrValidation)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// call wraps do with the auth-expired recovery policy: attempt session
// recovery once, then retry the exact same operation once.
func (c *Client) call(ctx context.Context, method, endpoint string, body, result interface{}) error {
	err := c.do(ctx, method, endpoint, body, result)
	if !chaterrors.IsAuthExpired(err) {
		return err
	}

	c.logger.Info("session expired, recovering", slog.String("endpoint", endpoint))

	if rerr := c.recoverSession(ctx); rerr != nil {
		return fmt.Errorf("recovering session: %w", rerr)
	}

	return c.do(ctx, method, endpoint, body, result)
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinResponse struct {
	Token string `json:"token"`
}

// recoverSession signs in fresh and installs the new token.
func (c *Client) recoverSession(ctx context.Context) error {
	req := signinRequest{Email: c.creds.Email, Password: c.creds.Password}

	var resp signinResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signin", req, &resp); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("signing in: empty token in response")
	}

	c.setToken(resp.Token)
	if c.onToken != nil {
		c.onToken(resp.Token)
	}

	c.logger.Info("session recovered")

	return nil
}

// EnsureSession signs in eagerly when no token is cached yet, so callers
// that need a token up front (the realtime subscribe) have one before the
// first REST call triggers lazy recovery.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.Token() != "" {
		return nil
	}

	return c.recoverSession(ctx)
}

// ListChats returns all chats for the account, metadata only. Message
// arrays arrive empty; history is lazy-loaded per chat.
func (c *Client) ListChats(ctx context.Context) ([]ChatSession, error) {
	var chats []ChatSession
	if err := c.call(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	return chats, nil
}

// ListMessages returns the full message history for one chat, fetched as
// repeated bounded ranges until a short page signals the end. Pages
// arrive ascending by timestamp, so concatenation in request order is
// already time-ordered.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var all []Message

	for offset := 0; ; offset += messagePageSize {
		endpoint := fmt.Sprintf("/chats/%s/messages?offset=%d&limit=%d",
			url.PathEscape(chatID), offset, messagePageSize)

		var page []Message
		if err := c.call(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("listing messages for %s: %w", chatID, err)
		}

		all = append(all, page...)

		if len(page) < messagePageSize {
			break
		}
	}

	return all, nil
}

// ListFolders returns all folders for the account.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := c.call(ctx, http.MethodGet, "/folders", nil, &folders); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	return folders, nil
}

// CreateFolder creates a folder remotely.
func (c *Client) CreateFolder(ctx context.Context, folder Folder) error {
	if err := c.call(ctx, http.MethodPost, "/folders", folder, nil); err != nil {
		return fmt.Errorf("creating folder %s: %w", folder.ID, err)
	}

	return nil
}

// CreateChat creates a chat row remotely. Messages are pushed separately
// via UpsertMessage.
func (c *Client) CreateChat(ctx context.Context, chat ChatSession) error {
	// Never send the message array with the row; the backend stores
	// messages in their own table.
	chat.Messages = nil

	if err := c.call(ctx, http.MethodPost, "/chats", chat, nil); err != nil {
		return fmt.Errorf("creating chat %s: %w", chat.ID, err)
	}

	return nil
}

// UpdateChat patches the given scalar fields on a chat row.
func (c *Client) UpdateChat(ctx context.Context, id string, fields map[string]any) error {
	endpoint := "/chats/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodPatch, endpoint, fields, nil); err != nil {
		return fmt.Errorf("updating chat %s: %w", id, err)
	}

	return nil
}

// DeleteChat removes a chat row and its messages remotely.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	endpoint := "/chats/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}

	return nil
}

// UpsertMessage writes a message by id. Idempotent: a second call with
// the same id is a no-op on the backend.
func (c *Client) UpsertMessage(ctx context.Context, chatID string, m Message) error {
	endpoint := fmt.Sprintf("/chats/%s/messages/%s", url.PathEscape(chatID), url.PathEscape(m.ID))
	if err := c.call(ctx, http.MethodPut, endpoint, m, nil); err != nil {
		return fmt.Errorf("upserting message %s: %w", m.ID, err)
	}

	return nil
}

// MessageExtras carries the optional fields updated alongside content.
type MessageExtras struct {
	GroundingURLs []string `json:"grounding_urls,omitempty"`
	Model         string   `json:"model,omitempty"`
	Interrupted   bool     `json:"interrupted,omitempty"`
}

type updateContentRequest struct {
	Content string `json:"content"`
	MessageExtras
}

// UpdateMessageContent patches a message's content and extras.
func (c *Client) UpdateMessageContent(ctx context.Context, id, content string, extras MessageExtras) error {
	endpoint := "/messages/" + url.PathEscape(id)
	req := updateContentRequest{Content: content, MessageExtras: extras}
	if err := c.call(ctx, http.MethodPatch, endpoint, req, nil); err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	return nil
}

// DeleteMessage removes a message remotely.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	endpoint := "/messages/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}

	return nil
}
