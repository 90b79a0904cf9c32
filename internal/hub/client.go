package hub

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle stage of a Client. States only move forward.
type ConnState int32

const (
	StateNew ConnState = iota
	StateRegistered
	StateActive
	StateDraining
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one connection session. It owns the socket, a bounded outbound
// queue and the two pumps moving data between them and the Hub.
type Client struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	OrgID     uuid.UUID
	CreatedAt time.Time

	hub     *Hub
	conn    *websocket.Conn
	addr    string
	logger  *zap.Logger
	limiter *rate.Limiter

	send       chan []byte
	sendMu     sync.RWMutex
	sendClosed bool

	state     atomic.Int32
	pending   atomic.Int32 // unregister + running pumps left before StateClosed
	closeOnce sync.Once

	// Owned by the hub loop.
	channels map[uuid.UUID]struct{}
	dropped  int
}

// NewClient creates a session for an authenticated connection. conn may be
// nil, in which case the hub registers the client without starting pumps.
func NewClient(h *Hub, conn *websocket.Conn, userID, orgID uuid.UUID) *Client {
	c := &Client{
		ID:        uuid.New(),
		UserID:    userID,
		OrgID:     orgID,
		CreatedAt: h.now(),
		hub:       h,
		conn:      conn,
		limiter:   rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst),
		send:      make(chan []byte, h.opts.SendBufferSize),
		channels:  make(map[uuid.UUID]struct{}),
	}
	if conn != nil {
		c.addr = conn.RemoteAddr().String()
		conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	c.pending.Store(1)
	c.logger = h.logger.With(
		zap.String("conn_id", c.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("org_id", orgID.String()),
		zap.String("remote_addr", c.addr),
	)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) advance(to ConnState) {
	for {
		cur := c.state.Load()
		if cur >= int32(to) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// release marks one of unregister or a pump as finished.
func (c *Client) release() {
	if c.pending.Add(-1) == 0 {
		c.advance(StateClosed)
	}
}

// SendEvent encodes ev and attempts a non-blocking enqueue. It returns
// ErrClientBufferFull when the queue has no room; callers must not retry
// synchronously.
func (c *Client) SendEvent(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendClosed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientBufferFull
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// close is the single-fire cleanup run by whichever pump fails first.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.advance(StateDraining)
		if err := c.hub.Unregister(c); err != nil {
			c.logger.Debug("unregister after hub shutdown", zap.Error(err))
		}
		c.closeConnection()
	})
}

func (c *Client) forceClose() {
	c.closeConnection()
}

func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection", zap.Error(err))
	}
}

// setupReadConnection configures the read deadline and the pong handler that
// refreshes it.
func (c *Client) setupReadConnection() {
	pongWait := c.hub.opts.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the error that ended the read loop at a level that
// matches how expected it was.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("inbound frame exceeded maximum size", zap.Int64("max_bytes", c.hub.opts.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	case isTimeout(err):
		c.logger.Info("pong wait expired; dropping connection")
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
// Subscription changes are never limited, so only typing, ping and frames
// that will be rejected spend tokens.
func (c *Client) checkRateLimit() bool {
	if c.limiter.Allow() {
		return true
	}
	c.logger.Debug("inbound rate limit exceeded; discarding frame")
	c.reject(ErrCodeRateLimited, "too many frames")
	return false
}

// processMessage decodes one inbound frame and acts on it. Malformed frames
// are answered with an error event and otherwise ignored.
func (c *Client) processMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		if !c.checkRateLimit() {
			return
		}
		c.logger.Warn("invalid inbound frame", zap.Error(err))
		c.reject(ErrCodeInvalidFrame, "frame is not a valid JSON object")
		return
	}
	exempt := msg.Type.subscription() && msg.ChannelID != nil
	if !exempt && !c.checkRateLimit() {
		return
	}
	c.handleMessage(&msg)
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case EventSubscribe:
		if !c.requireChannel(msg) {
			return
		}
		c.countFrame(msg.Type)
		if err := c.hub.JoinChannel(c, *msg.ChannelID); err != nil {
			c.logger.Debug("subscribe not applied", zap.Error(err))
			return
		}
		c.logger.Debug("client subscribed to channel", zap.Stringer("channel_id", *msg.ChannelID))

	case EventUnsubscribe:
		if !c.requireChannel(msg) {
			return
		}
		c.countFrame(msg.Type)
		if err := c.hub.LeaveChannel(c, *msg.ChannelID); err != nil {
			c.logger.Debug("unsubscribe not applied", zap.Error(err))
			return
		}
		c.logger.Debug("client unsubscribed from channel", zap.Stringer("channel_id", *msg.ChannelID))

	case EventTyping:
		if !c.requireChannel(msg) {
			return
		}
		var payload struct {
			IsTyping *bool `json:"is_typing"`
		}
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &payload) != nil || payload.IsTyping == nil {
			c.reject(ErrCodeInvalidPayload, "typing requires payload.is_typing")
			return
		}
		c.countFrame(msg.Type)
		if err := c.hub.typingFrom(c, *msg.ChannelID, *payload.IsTyping); err != nil {
			c.logger.Debug("typing not relayed", zap.Error(err))
		}

	case EventPing:
		c.countFrame(msg.Type)
		if err := c.SendEvent(NewEvent(EventPong, nil, nil, c.hub.now())); err != nil {
			c.logger.Debug("pong not queued", zap.Error(err))
		}

	default:
		c.logger.Debug("unknown inbound frame type", zap.String("type", string(msg.Type)))
		c.reject(ErrCodeUnknownType, "unknown frame type")
	}
}

func (c *Client) requireChannel(msg *ClientMessage) bool {
	if msg.ChannelID == nil || *msg.ChannelID == uuid.Nil {
		c.reject(ErrCodeMissingChannelID, string(msg.Type)+" requires channel_id")
		return false
	}
	return true
}

func (c *Client) countFrame(t EventType) {
	c.hub.metrics.InboundFrames.WithLabelValues(string(t)).Inc()
}

// reject answers a discarded frame with an error event.
func (c *Client) reject(code, message string) {
	c.hub.metrics.RejectedFrames.WithLabelValues(code).Inc()
	ev := NewEvent(EventError, nil, ErrorPayload{Code: code, Message: message}, c.hub.now())
	if err := c.SendEvent(ev); err != nil {
		c.logger.Debug("error event not queued", zap.String("code", code), zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.release()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		c.close()
		c.release()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleOutbound(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleOutbound writes one queued event, or a close frame once the hub has
// closed the queue.
func (c *Client) handleOutbound(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		c.logger.Debug("error setting write deadline", zap.Error(err))
		return false
	}
	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing event", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a keepalive ping.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		c.logger.Debug("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing ping", zap.Error(err))
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
