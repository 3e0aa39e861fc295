package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	pingAfter        = 10 * time.Second
	disconnectAfter  = 120 * time.Second
	heartbeatCheckAt = 20 * time.Second

	reconnectMin = 1 * time.Second
	reconnectMax = 60 * time.Second

	// readLimit bounds a single realtime frame. Events carry one row
	// each; 4MB leaves generous headroom for large message bodies.
	readLimit = 4 * 1024 * 1024
)

// Event channels.
const (
	ChannelChats    = "chats"
	ChannelMessages = "messages"
)

// Event types.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Event is a normalized realtime delta: one insert/update/delete for a
// chat or message row, scoped server-side to the current account. New
// and Old are kept raw so consumers can distinguish absent fields from
// zero values when applying partial updates.
type Event struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	New     json.RawMessage `json:"new,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
}

// EventSink receives normalized deltas from the consumer. Implementations
// must read current state at execution time, never via references captured
// at registration time: events may be delivered long after registration.
type EventSink interface {
	ApplyChatEvent(ev Event)
	ApplyMessageEvent(ev Event)
}

// inboundMsg wraps a frame read from the WebSocket by the reader goroutine.
type inboundMsg struct {
	data []byte
	err  error
}

// subscribeMessage is the first frame after connect.
type subscribeMessage struct {
	Op        string   `json:"op"`
	Token     string   `json:"token"`
	AccountID string   `json:"account_id"`
	Channels  []string `json:"channels"`
	Device    string   `json:"device"`
}

type subscribeResponse struct {
	Res string `json:"res"`
}

// ConsumerConfig holds the parameters for a realtime subscription.
type ConsumerConfig struct {
	Host      string
	AccountID string
	Device    string
	Sink      EventSink

	// Token is read on every subscribe so reconnects pick up a session
	// refreshed by the REST client rather than replaying a stale one.
	Token func() string

	// OnConnect fires after every successful (re)connect, once the server
	// signals ready. The engine uses the offline-to-online transition to
	// re-drain chats still flagged unsynced.
	OnConnect func()
}

// Consumer maintains a persistent WebSocket subscription delivering
// insert/update/delete events for chats and messages.
//
// Architecture: a reader goroutine feeds inboundCh with raw frames. A
// single event loop goroutine (Listen) processes inbound messages and
// heartbeat ticks; all writes to the connection happen from the event
// loop, so no write mutex is needed.
type Consumer struct {
	conn   *websocket.Conn
	logger *slog.Logger

	host      string
	token     func() string
	accountID string
	device    string
	sink      EventSink
	onConnect func()

	inboundCh chan inboundMsg

	// connCancel cancels the per-connection context, stopping the reader
	// goroutine when the connection drops before reconnecting.
	connCancel context.CancelFunc

	lastMessage time.Time
	lastMsgMu   sync.Mutex

	connected   bool
	connectedMu sync.RWMutex
}

// NewConsumer creates a realtime delta consumer.
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		logger:    logger,
		host:      cfg.Host,
		token:     cfg.Token,
		accountID: cfg.AccountID,
		device:    cfg.Device,
		sink:      cfg.Sink,
		onConnect: cfg.OnConnect,
	}
}

// Connect dials the WebSocket, subscribes, and waits for the server to
// confirm the subscription and signal ready.
func (c *Consumer) Connect(ctx context.Context) error {
	if c.connCancel != nil {
		c.connCancel()
	}

	// Bare hosts get the production scheme; an explicit scheme (ws:// in
	// tests) is used verbatim.
	url := "wss://" + c.host + "/realtime"
	if strings.Contains(c.host, "://") {
		url = c.host + "/realtime"
	}
	c.logger.Debug("connecting", slog.String("url", url))

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(readLimit)
	c.touchLastMessage()

	sub := subscribeMessage{
		Op:        "subscribe",
		Token:     c.token(),
		AccountID: c.accountID,
		Channels:  []string{ChannelChats, ChannelMessages},
		Device:    c.device,
	}

	if err := c.writeJSON(ctx, sub); err != nil {
		c.conn.Close(websocket.StatusInternalError, "subscribe failed")
		return fmt.Errorf("sending subscribe: %w", err)
	}

	var resp subscribeResponse
	if err := c.readJSON(ctx, &resp); err != nil {
		c.conn.Close(websocket.StatusInternalError, "subscribe read failed")
		return fmt.Errorf("reading subscribe response: %w", err)
	}

	if resp.Res != "ok" {
		c.conn.Close(websocket.StatusNormalClosure, "subscribe rejected")
		return fmt.Errorf("subscribe failed: %s", resp.Res)
	}

	c.logger.Info("realtime subscribed",
		slog.String("account_id", c.accountID),
	)

	return nil
}

// startReader launches a goroutine that reads from the WebSocket and
// feeds inboundCh. The goroutine captures ch by value so a stale reader
// from a previous connection cannot send into the new channel.
func (c *Consumer) startReader(connCtx context.Context) {
	ch := make(chan inboundMsg, 64)
	c.inboundCh = ch
	go func() {
		for {
			_, data, err := c.conn.Read(connCtx)
			select {
			case ch <- inboundMsg{data: data, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// Listen is the event loop with automatic reconnection. Dials first when
// Connect has not run yet, so a client started offline keeps retrying
// instead of failing. Returns only on permanent errors or context
// cancellation.
func (c *Consumer) Listen(ctx context.Context) error {
	backoff := reconnectMin

	for c.conn == nil {
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPermanentError(err) {
				return fmt.Errorf("permanent error: %w", err)
			}

			c.logger.Warn("realtime connect failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)

			timer := time.NewTimer(backoff + time.Duration(rand.Int63n(int64(backoff)/2)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff = min(backoff*2, reconnectMax)
		}
	}
	backoff = reconnectMin

	connCtx, connCancel := context.WithCancel(ctx)
	c.connCancel = connCancel
	c.startReader(connCtx)
	c.markConnected()

	for {
		err := c.eventLoop(ctx, connCtx)
		if err == nil {
			return nil
		}

		c.setConnected(false)
		connCancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPermanentError(err) {
			return fmt.Errorf("permanent error: %w", err)
		}

		c.logger.Warn("realtime connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPermanentError(err) {
				return fmt.Errorf("permanent reconnect error: %w", err)
			}
			c.logger.Warn("reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		connCtx, connCancel = context.WithCancel(ctx)
		c.connCancel = connCancel
		c.startReader(connCtx)
		c.markConnected()

		backoff = reconnectMin
		c.logger.Info("realtime reconnected")
	}
}

// eventLoop processes one connection: inbound frames and heartbeat ticks.
func (c *Consumer) eventLoop(ctx context.Context, connCtx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.inboundCh:
			if msg.err != nil {
				return fmt.Errorf("reading message: %w", msg.err)
			}
			c.touchLastMessage()
			c.handleInbound(msg.data)

		case <-ticker.C:
			c.lastMsgMu.Lock()
			elapsed := time.Since(c.lastMessage)
			c.lastMsgMu.Unlock()

			if elapsed > disconnectAfter {
				c.logger.Warn("realtime connection timed out, closing")
				c.conn.Close(websocket.StatusGoingAway, "timeout")
				return fmt.Errorf("heartbeat timeout")
			}

			if elapsed > pingAfter {
				if err := c.writeJSON(ctx, map[string]string{"op": "ping"}); err != nil {
					return fmt.Errorf("sending ping: %w", err)
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-connCtx.Done():
			return connCtx.Err()
		}
	}
}

// handleInbound routes a single inbound frame. Unparseable or unknown
// frames are logged and dropped; the stream itself stays healthy.
func (c *Consumer) handleInbound(data []byte) {
	op := gjson.GetBytes(data, "op").Str

	switch op {
	case "pong":
		return

	case "event":
		ev, err := decodeEvent(data)
		if err != nil {
			c.logger.Warn("failed to decode event", slog.String("error", err.Error()))
			return
		}
		c.dispatch(ev)

	default:
		c.logger.Debug("unexpected realtime message", slog.String("op", op))
	}
}

// decodeEvent normalizes a wire frame into an Event.
func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}

	switch ev.Channel {
	case ChannelChats, ChannelMessages:
	default:
		return Event{}, fmt.Errorf("unknown channel %q", ev.Channel)
	}

	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if ev.Type == EventDelete {
		if len(ev.Old) == 0 {
			return Event{}, fmt.Errorf("delete event without old row")
		}
	} else if len(ev.New) == 0 {
		return Event{}, fmt.Errorf("%s event without new row", ev.Type)
	}

	return ev, nil
}

func (c *Consumer) dispatch(ev Event) {
	switch ev.Channel {
	case ChannelChats:
		c.sink.ApplyChatEvent(ev)
	case ChannelMessages:
		c.sink.ApplyMessageEvent(ev)
	}
}

// markConnected flips the connected flag and fires the OnConnect hook.
// Fired per (re)connect: the engine treats the offline-to-online
// transition as a signal to re-push everything still flagged unsynced.
func (c *Consumer) markConnected() {
	c.setConnected(true)
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Consumer) setConnected(v bool) {
	c.connectedMu.Lock()
	c.connected = v
	c.connectedMu.Unlock()
}

// Connected reports whether the subscription is live.
func (c *Consumer) Connected() bool {
	c.connectedMu.RLock()
	v := c.connected
	c.connectedMu.RUnlock()

	return v
}

// Close cleanly shuts down the WebSocket connection.
func (c *Consumer) Close() error {
	if c.connCancel != nil {
		c.connCancel()
	}
	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "bye")
	}

	return nil
}

// isPermanentError returns true for errors that won't resolve on retry.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	return strings.Contains(msg, "subscribe failed") ||
		strings.Contains(msg, "subscribe rejected")
}

func (c *Consumer) touchLastMessage() {
	c.lastMsgMu.Lock()
	c.lastMessage = time.Now()
	c.lastMsgMu.Unlock()
}

// writeJSON marshals v and writes it as a text frame. Only called from
// the event loop or during Connect (before Listen starts).
func (c *Consumer) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readJSON reads a text frame and unmarshals it into v. Only called
// during Connect (before the reader goroutine starts).
func (c *Consumer) readJSON(ctx context.Context, v interface{}) error {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}
	c.touchLastMessage()

	return json.Unmarshal(data, v)
}
