package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RAGClient fetches grounding context from the retrieval service. The
// lookup is best-effort: any failure or timeout yields an empty context
// and the message proceeds ungrounded. It implements ContextProvider.
type RAGClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRAGClient creates a retrieval client. timeout bounds each lookup so
// a slow retrieval service never delays sending the user's message.
func NewRAGClient(baseURL string, timeout time.Duration, logger *slog.Logger) *RAGClient {
	return &RAGClient{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Context retrieves document context for a query. Empty string on any
// failure; failures are logged at debug level, never surfaced.
func (r *RAGClient) Context(ctx context.Context, query, conversationID string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"query":           query,
		"conversation_id": conversationID,
	})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/context", bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Debug("context lookup failed", slog.String("error", err.Error()))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("context lookup rejected", slog.Int("status", resp.StatusCode))
		return ""
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Debug("context read failed", slog.String("error", err.Error()))
		return ""
	}

	var out struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		r.logger.Debug("context decode failed", slog.String("error", err.Error()))
		return ""
	}

	return out.Context
}
