package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/models"
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opLeave
	opBroadcast
	opEvict
	opQuery
)

func (k opKind) String() string {
	switch k {
	case opRegister:
		return "register"
	case opUnregister:
		return "unregister"
	case opJoin:
		return "join"
	case opLeave:
		return "leave"
	case opBroadcast:
		return "broadcast"
	case opEvict:
		return "evict"
	case opQuery:
		return "query"
	}
	return "unknown"
}

type target int

const (
	targetChannel target = iota
	targetUser
	targetOrg
)

func (t target) String() string {
	switch t {
	case targetChannel:
		return "channel"
	case targetUser:
		return "user"
	case targetOrg:
		return "org"
	}
	return "unknown"
}

// op is one command for the hub loop.
type op struct {
	kind   opKind
	client *Client
	key    uuid.UUID // channel, user or org id depending on kind/target
	user   uuid.UUID
	target target
	// data is the encoded event, marshalled by the submitter so the loop never
	// reads caller-owned payloads.
	data      []byte
	eventType EventType
	exclude   *Client
	query     func()
	reply     chan struct{}
}

// Hub is the single authority for the connection registry, presence and
// channel routing. All of its state is owned by the goroutine running Run;
// every exported method submits a command to that goroutine.
type Hub struct {
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	ops      chan op
	ctx      context.Context
	cancel   context.CancelFunc
	submitMu sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	// Owned by Run.
	clients    clientSet
	channels   index[uuid.UUID]
	orgs       index[uuid.UUID]
	presence   *presenceTracker
	lagging    clientSet
	stragglers []*Client
}

// NewHub creates a Hub. Run must be started before the hub is used.
// A nil logger discards logs; nil metrics are created unregistered.
func NewHub(opts Options, logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	opts = opts.sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		ops:      make(chan op, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		clients:  make(clientSet),
		channels: make(index[uuid.UUID]),
		orgs:     make(index[uuid.UUID]),
		presence: newPresenceTracker(),
		lagging:  make(clientSet),
	}
}

// Options returns the sanitized options the hub was built with.
func (h *Hub) Options() Options {
	return h.opts
}

// Closing reports whether Shutdown has begun. Commands submitted from then on
// fail with ErrHubClosed.
func (h *Hub) Closing() bool {
	return h.ctx.Err() != nil
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// submit hands o to the loop. It blocks while the command queue is full and
// fails with ErrHubClosed once shutdown has begun.
func (h *Hub) submit(o op) error {
	h.submitMu.RLock()
	defer h.submitMu.RUnlock()

	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	select {
	case h.ops <- o:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Run is the hub's processing loop. It applies commands in receipt order until
// Shutdown is called, then applies whatever was already accepted, closes every
// client's outbound queue and returns. Run it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.opts.ResyncInterval)
	defer ticker.Stop()

	h.logger.Info("hub started", zap.Int("queue_size", h.opts.QueueSize))

	for {
		select {
		case o := <-h.ops:
			h.apply(o)

		case <-ticker.C:
			h.flushLagging()

		case <-h.stop:
			h.drain()
			h.shutdownClients()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case o := <-h.ops:
			h.apply(o)
		default:
			return
		}
	}
}

func (h *Hub) apply(o op) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in hub loop",
				zap.Stringer("op", o.kind),
				zap.Any("panic", r),
			)
		}
		if o.reply != nil {
			close(o.reply)
		}
	}()

	switch o.kind {
	case opRegister:
		h.registerClient(o.client)
	case opUnregister:
		h.unregisterClient(o.client)
	case opJoin:
		h.joinChannel(o.client, o.key)
	case opLeave:
		h.leaveChannel(o.client, o.key)
	case opBroadcast:
		h.broadcast(o)
	case opEvict:
		h.evictUser(o.key, o.user)
	case opQuery:
		if o.query != nil {
			o.query()
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	if c == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}
	if _, ok := h.clients[c]; ok {
		return
	}
	if c.State() >= StateDraining {
		c.logger.Warn("refusing to register a closed client")
		c.forceClose()
		return
	}

	now := h.now()
	h.clients[c] = struct{}{}
	h.orgs.add(c.OrgID, c)
	c.advance(StateRegistered)

	if h.presence.add(c, now) {
		h.broadcastPresence(c.UserID, c.OrgID, models.StatusOnline, "", now)
	}
	h.updateGauges()
	c.logger.Debug("client registered", zap.Int("total_clients", len(h.clients)))

	h.startPumps(c)
}

func (h *Hub) startPumps(c *Client) {
	if c.conn == nil {
		return
	}
	c.pending.Add(2)
	c.advance(StateActive)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Hub) unregisterClient(c *Client) {
	if c == nil {
		return
	}
	if _, ok := h.clients[c]; !ok {
		return
	}

	now := h.now()
	h.detach(c)
	if h.presence.remove(c) {
		h.broadcastPresence(c.UserID, c.OrgID, models.StatusOffline, "", now)
	}
	h.updateGauges()
	c.logger.Debug("client unregistered", zap.Int("total_clients", len(h.clients)))
}

// detach removes c from every index and closes its outbound queue. Presence
// is left to the caller.
func (h *Hub) detach(c *Client) {
	delete(h.clients, c)
	h.orgs.remove(c.OrgID, c)
	for channelID := range c.channels {
		h.channels.remove(channelID, c)
	}
	clear(c.channels)
	delete(h.lagging, c)

	c.advance(StateDraining)
	c.closeSend()
	c.release()
}

func (h *Hub) joinChannel(c *Client, channelID uuid.UUID) {
	if c == nil || channelID == uuid.Nil {
		return
	}
	if _, ok := h.clients[c]; !ok {
		c.logger.Debug("ignoring subscribe from unregistered client", zap.Stringer("channel_id", channelID))
		return
	}
	c.channels[channelID] = struct{}{}
	h.channels.add(channelID, c)
}

func (h *Hub) leaveChannel(c *Client, channelID uuid.UUID) {
	if c == nil {
		return
	}
	delete(c.channels, channelID)
	h.channels.remove(channelID, c)
}

// evictUser drops every connection of userID from channelID's subscribers.
func (h *Hub) evictUser(channelID, userID uuid.UUID) {
	for c := range h.presence.conns(userID) {
		h.leaveChannel(c, channelID)
	}
}

// encode builds a broadcast command carrying ev already marshalled.
func encode(t target, key uuid.UUID, ev *Event, exclude *Client) (op, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return op{}, fmt.Errorf("hub: encode %s event: %w", ev.Type, err)
	}
	return op{
		kind:      opBroadcast,
		target:    t,
		key:       key,
		data:      data,
		eventType: ev.Type,
		exclude:   exclude,
	}, nil
}

func (h *Hub) broadcast(o op) {
	if o.data == nil {
		return
	}

	var targets clientSet
	switch o.target {
	case targetChannel:
		targets = h.channels.get(o.key)
	case targetUser:
		targets = h.presence.conns(o.key)
	case targetOrg:
		targets = h.orgs.get(o.key)
	}
	h.metrics.Broadcasts.WithLabelValues(o.target.String()).Inc()

	for c := range targets {
		if c == o.exclude {
			continue
		}
		h.deliver(c, o.data, o.eventType)
	}
}

func (h *Hub) broadcastPresence(userID, orgID uuid.UUID, status models.PresenceStatus, text string, now time.Time) {
	o, err := encode(targetOrg, orgID, presenceEvent(userID, status, text, now), nil)
	if err != nil {
		h.logger.Error("failed to encode presence event", zap.Error(err))
		return
	}
	h.broadcast(o)
}

func presenceEvent(userID uuid.UUID, status models.PresenceStatus, text string, now time.Time) *Event {
	return NewEvent(EventPresence, nil, models.Presence{
		UserID:     userID,
		Status:     status,
		StatusText: text,
		LastSeenAt: now.UTC(),
	}, now)
}

// deliver attempts a non-blocking enqueue of data onto c. A lagging client
// must first accept its resync notice before anything newer is queued.
func (h *Hub) deliver(c *Client, data []byte, t EventType) {
	if c.dropped > 0 && !h.sendResync(c) {
		h.drop(c, t)
		return
	}

	err := c.enqueue(data)
	switch {
	case err == nil:
		h.metrics.EventsDelivered.WithLabelValues(string(t)).Inc()
	case errors.Is(err, ErrClientBufferFull):
		h.drop(c, t)
	default:
		c.logger.Debug("event not delivered", zap.String("type", string(t)), zap.Error(err))
	}
}

func (h *Hub) drop(c *Client, t EventType) {
	h.metrics.EventsDropped.WithLabelValues(string(t)).Inc()
	c.logger.Debug("outbound queue full; event dropped", zap.String("type", string(t)))
	if t.ephemeral() {
		return
	}
	c.dropped++
	h.lagging[c] = struct{}{}
}

func (h *Hub) sendResync(c *Client) bool {
	ev := NewEvent(EventResyncRequired, nil, ResyncPayload{Dropped: c.dropped, Reason: "buffer_full"}, h.now())
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if err := c.enqueue(data); err != nil {
		return false
	}
	c.logger.Info("resync notice queued", zap.Int("dropped", c.dropped))
	c.dropped = 0
	delete(h.lagging, c)
	h.metrics.ResyncsSent.Inc()
	return true
}

func (h *Hub) flushLagging() {
	for c := range h.lagging {
		h.sendResync(c)
	}
}

func (h *Hub) updateGauges() {
	h.metrics.Connections.Set(float64(len(h.clients)))
	h.metrics.OnlineUsers.Set(float64(h.presence.onlineCount()))
}

// shutdownClients detaches every client. Their write pumps see the closed
// queue, send a close frame and exit.
func (h *Hub) shutdownClients() {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	for _, c := range clients {
		h.detach(c)
	}
	h.presence.reset()
	h.updateGauges()
	h.stragglers = clients

	h.logger.Info("closed client outbound queues", zap.Int("clients", len(clients)))
}

// Shutdown stops accepting commands, lets the loop apply what it already
// accepted, closes every outbound queue and waits up to timeout for all pumps
// to exit. Connections still open at the deadline are force-closed and
// context.DeadlineExceeded is returned.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	h.cancel()
	// Wait for in-flight submits so nothing lands in the queue after the
	// final drain.
	h.submitMu.Lock()
	h.stopOnce.Do(func() { close(h.stop) })
	h.submitMu.Unlock()

	select {
	case <-h.done:
	case <-deadline.C:
		h.logger.Warn("hub loop did not stop before the shutdown timeout")
		return context.DeadlineExceeded
	}

	pumps := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(pumps)
	}()

	select {
	case <-pumps:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-deadline.C:
		for _, c := range h.stragglers {
			c.forceClose()
		}
		h.logger.Warn("hub shutdown timeout reached; force-closed remaining connections",
			zap.Int("clients", len(h.stragglers)),
		)
		return context.DeadlineExceeded
	}
}

// Register adds c to the registry and starts its pumps if it has a
// connection. A user's first connection broadcasts presence online to the org.
func (h *Hub) Register(c *Client) error {
	return h.submit(op{kind: opRegister, client: c})
}

// Unregister removes c from the registry and every channel, closes its
// outbound queue and, on the user's last connection, broadcasts presence
// offline. Unregistering an unknown client is a no-op.
func (h *Hub) Unregister(c *Client) error {
	return h.submit(op{kind: opUnregister, client: c})
}

// JoinChannel subscribes c to live events of channelID.
func (h *Hub) JoinChannel(c *Client, channelID uuid.UUID) error {
	return h.submit(op{kind: opJoin, client: c, key: channelID})
}

// LeaveChannel unsubscribes c from channelID.
func (h *Hub) LeaveChannel(c *Client, channelID uuid.UUID) error {
	return h.submit(op{kind: opLeave, client: c, key: channelID})
}

func (h *Hub) toChannel(channelID uuid.UUID, t EventType, payload any, exclude *Client) error {
	id := channelID
	o, err := encode(targetChannel, channelID, NewEvent(t, &id, payload, h.now()), exclude)
	if err != nil {
		return err
	}
	return h.submit(o)
}

// BroadcastMessage fans a new message out to channelID's subscribers.
func (h *Hub) BroadcastMessage(channelID uuid.UUID, msg *models.Message) error {
	return h.toChannel(channelID, EventMessage, msg, nil)
}

// BroadcastMessageUpdate fans out an edited or pinned message.
func (h *Hub) BroadcastMessageUpdate(channelID uuid.UUID, msg *models.Message) error {
	return h.toChannel(channelID, EventMessageUpdate, msg, nil)
}

// BroadcastMessageDelete announces that messageID was removed.
func (h *Hub) BroadcastMessageDelete(channelID, messageID uuid.UUID) error {
	return h.toChannel(channelID, EventMessageDelete, models.MessageDeleted{
		ID:        messageID,
		ChannelID: channelID,
	}, nil)
}

// BroadcastTyping fans out a typing indicator for userID.
func (h *Hub) BroadcastTyping(channelID, userID uuid.UUID, isTyping bool) error {
	return h.toChannel(channelID, EventTyping, TypingPayload{UserID: userID, IsTyping: isTyping}, nil)
}

// typingFrom is BroadcastTyping without echoing back to the sending connection.
func (h *Hub) typingFrom(c *Client, channelID uuid.UUID, isTyping bool) error {
	return h.toChannel(channelID, EventTyping, TypingPayload{UserID: c.UserID, IsTyping: isTyping}, c)
}

// BroadcastChannelUpdate fans out new channel metadata.
func (h *Hub) BroadcastChannelUpdate(channelID uuid.UUID, ch *models.Channel) error {
	return h.toChannel(channelID, EventChannelUpdate, ch, nil)
}

// BroadcastChannelJoin announces that userID became a member of channelID.
func (h *Hub) BroadcastChannelJoin(channelID, userID uuid.UUID) error {
	return h.toChannel(channelID, EventChannelJoin, MembershipPayload{ChannelID: channelID, UserID: userID}, nil)
}

// BroadcastChannelLeave announces that userID left channelID, then drops that
// user's connections from the channel's subscribers.
func (h *Hub) BroadcastChannelLeave(channelID, userID uuid.UUID) error {
	err := h.toChannel(channelID, EventChannelLeave, MembershipPayload{ChannelID: channelID, UserID: userID}, nil)
	if err != nil {
		return err
	}
	return h.submit(op{kind: opEvict, key: channelID, user: userID})
}

// BroadcastReaction fans out an added or removed reaction.
func (h *Hub) BroadcastReaction(channelID uuid.UUID, r *models.Reaction, added bool) error {
	action := "added"
	if !added {
		action = "removed"
	}
	return h.toChannel(channelID, EventReaction, ReactionPayload{Action: action, Reaction: r}, nil)
}

// SendNotification delivers n to every connection of userID.
func (h *Hub) SendNotification(userID uuid.UUID, n *models.Notification) error {
	o, err := encode(targetUser, userID, NewEvent(EventNotification, nil, n, h.now()), nil)
	if err != nil {
		return err
	}
	return h.submit(o)
}

// UpdateStatus broadcasts a manually chosen presence status to the org.
func (h *Hub) UpdateStatus(userID, orgID uuid.UUID, status models.PresenceStatus, text string) error {
	if !status.Valid() {
		return fmt.Errorf("hub: unknown presence status %q", status)
	}
	o, err := encode(targetOrg, orgID, presenceEvent(userID, status, text, h.now()), nil)
	if err != nil {
		return err
	}
	return h.submit(o)
}

// query runs fn on the loop and waits for it. It reports false if the hub
// refused the command.
func (h *Hub) query(fn func()) bool {
	reply := make(chan struct{})
	if err := h.submit(op{kind: opQuery, query: fn, reply: reply}); err != nil {
		return false
	}
	select {
	case <-reply:
		return true
	case <-h.done:
		return false
	}
}

// GetOnlineUsers returns the users of orgID with at least one connection.
func (h *Hub) GetOnlineUsers(orgID uuid.UUID) []uuid.UUID {
	users := make([]uuid.UUID, 0)
	h.query(func() {
		users = h.presence.online(orgID)
	})
	return users
}

// IsUserOnline reports whether userID has at least one registered connection.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	return h.ConnectionCount(userID) > 0
}

// ConnectionCount returns the number of registered connections of userID.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	var n int
	h.query(func() {
		n = h.presence.count(userID)
	})
	return n
}

// Presence returns the presence state of userID; ok is false while offline.
func (h *Hub) Presence(userID uuid.UUID) (state PresenceState, ok bool) {
	h.query(func() {
		state, ok = h.presence.state(userID)
	})
	return state, ok
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	var n int
	h.query(func() {
		n = len(h.clients)
	})
	return n
}

// SubscriberCount returns how many connections are subscribed to channelID.
func (h *Hub) SubscriberCount(channelID uuid.UUID) int {
	var n int
	h.query(func() {
		n = h.channels.count(channelID)
	})
	return n
}

// Subscriptions returns the channels c is subscribed to.
func (h *Hub) Subscriptions(c *Client) []uuid.UUID {
	ids := make([]uuid.UUID, 0)
	h.query(func() {
		for id := range c.channels {
			ids = append(ids, id)
		}
	})
	return ids
}
