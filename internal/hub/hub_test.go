package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/models"
)

// wireEvent mirrors Event with a raw payload for decoding in tests.
type wireEvent struct {
	Type      EventType       `json:"type"`
	ChannelID *uuid.UUID      `json:"channel_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func newTestHub(t *testing.T, tweak ...func(*Options)) *Hub {
	t.Helper()
	opts := DefaultOptions()
	for _, fn := range tweak {
		fn(&opts)
	}
	h := NewHub(opts, nil, nil)
	go h.Run()
	t.Cleanup(func() {
		_ = h.Shutdown(2 * time.Second)
	})
	return h
}

func newRegistered(t *testing.T, h *Hub, userID, orgID uuid.UUID) *Client {
	t.Helper()
	c := NewClient(h, nil, userID, orgID)
	require.NoError(t, h.Register(c))
	return c
}

// settle returns once every command submitted before it has been applied.
func settle(h *Hub) {
	h.ClientCount()
}

// drain empties c's outbound queue and returns what was in it.
func drain(t *testing.T, c *Client) []wireEvent {
	t.Helper()
	var out []wireEvent
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, decode(t, data))
		default:
			return out
		}
	}
}

func decode(t *testing.T, data []byte) wireEvent {
	t.Helper()
	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func recvEvent(t *testing.T, c *Client) wireEvent {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "outbound queue closed")
		return decode(t, data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return wireEvent{}
}

func ofType(events []wireEvent, typ EventType) []wireEvent {
	var out []wireEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestHub_RegisterJoinBroadcast_DeliversExactlyOneMessage(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))

	msg := &models.Message{ID: uuid.New(), ChannelID: channelID, Content: "hello"}
	require.NoError(t, h.BroadcastMessage(channelID, msg))
	settle(h)

	messages := ofType(drain(t, c), EventMessage)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].ChannelID)
	assert.Equal(t, channelID, *messages[0].ChannelID)

	var got models.Message
	require.NoError(t, json.Unmarshal(messages[0].Payload, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.False(t, messages[0].Timestamp.IsZero())
}

func TestHub_BroadcastReachesOnlySubscribers(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	orgID := uuid.New()
	in := newRegistered(t, h, uuid.New(), orgID)
	out := newRegistered(t, h, uuid.New(), orgID)
	require.NoError(t, h.JoinChannel(in, channelID))
	require.NoError(t, h.JoinChannel(out, uuid.New()))

	require.NoError(t, h.BroadcastMessageDelete(channelID, uuid.New()))
	settle(h)

	assert.Len(t, ofType(drain(t, in), EventMessageDelete), 1)
	assert.Empty(t, ofType(drain(t, out), EventMessageDelete))
}

func TestHub_UnregisterRemovesFromEveryChannel(t *testing.T) {
	h := newTestHub(t)
	first, second := uuid.New(), uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, first))
	require.NoError(t, h.JoinChannel(c, second))
	assert.ElementsMatch(t, []uuid.UUID{first, second}, h.Subscriptions(c))

	require.NoError(t, h.Unregister(c))
	require.NoError(t, h.BroadcastMessage(first, &models.Message{ID: uuid.New()}))
	require.NoError(t, h.BroadcastMessage(second, &models.Message{ID: uuid.New()}))
	settle(h)

	assert.Equal(t, 0, h.SubscriberCount(first))
	assert.Equal(t, 0, h.SubscriberCount(second))
	assert.Empty(t, h.Subscriptions(c))
	assert.Empty(t, ofType(drain(t, c), EventMessage))

	_, open := <-c.send
	assert.False(t, open, "outbound queue should be closed")
	assert.Equal(t, StateClosed, c.State())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()
	c := newRegistered(t, h, userID, uuid.New())

	require.NoError(t, h.Unregister(c))
	require.NoError(t, h.Unregister(c))
	require.NoError(t, h.Unregister(NewClient(h, nil, uuid.New(), uuid.New())))
	require.NoError(t, h.Unregister(nil))

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.ConnectionCount(userID))
	assert.False(t, h.IsUserOnline(userID))
}

func TestHub_JoinAfterUnregisterIsIgnored(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.Unregister(c))
	require.NoError(t, h.JoinChannel(c, channelID))

	assert.Equal(t, 0, h.SubscriberCount(channelID))
}

func TestHub_JoinAndLeaveAreIdempotent(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())

	require.NoError(t, h.JoinChannel(c, channelID))
	require.NoError(t, h.JoinChannel(c, channelID))
	assert.Equal(t, 1, h.SubscriberCount(channelID))

	require.NoError(t, h.LeaveChannel(c, channelID))
	require.NoError(t, h.LeaveChannel(c, channelID))
	assert.Equal(t, 0, h.SubscriberCount(channelID))
	assert.Empty(t, h.Subscriptions(c))
}

func TestHub_PresenceFiresOnlyOnEdges(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	observer := newRegistered(t, h, uuid.New(), orgID)
	settle(h)
	drain(t, observer)

	userID := uuid.New()
	laptop := newRegistered(t, h, userID, orgID)
	settle(h)
	online := ofType(drain(t, observer), EventPresence)
	require.Len(t, online, 1)
	var p models.Presence
	require.NoError(t, json.Unmarshal(online[0].Payload, &p))
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, models.StatusOnline, p.Status)
	assert.True(t, h.IsUserOnline(userID))

	phone := newRegistered(t, h, userID, orgID)
	settle(h)
	assert.Empty(t, ofType(drain(t, observer), EventPresence), "second connection must not re-announce")
	assert.Equal(t, 2, h.ConnectionCount(userID))

	require.NoError(t, h.Unregister(laptop))
	settle(h)
	assert.Empty(t, ofType(drain(t, observer), EventPresence))
	assert.True(t, h.IsUserOnline(userID))

	require.NoError(t, h.Unregister(phone))
	settle(h)
	offline := ofType(drain(t, observer), EventPresence)
	require.Len(t, offline, 1)
	require.NoError(t, json.Unmarshal(offline[0].Payload, &p))
	assert.Equal(t, models.StatusOffline, p.Status)
	assert.False(t, p.LastSeenAt.IsZero())
	assert.False(t, h.IsUserOnline(userID))
	assert.Equal(t, []uuid.UUID{observer.UserID}, h.GetOnlineUsers(orgID))
}

func TestHub_PresenceFollowsUserAcrossOrgs(t *testing.T) {
	h := newTestHub(t)
	orgA, orgB := uuid.New(), uuid.New()
	watchA := newRegistered(t, h, uuid.New(), orgA)
	watchB := newRegistered(t, h, uuid.New(), orgB)

	userID := uuid.New()
	inA := newRegistered(t, h, userID, orgA)
	newRegistered(t, h, userID, orgB)
	settle(h)
	drain(t, watchA)
	drain(t, watchB)

	require.NoError(t, h.Unregister(inA))
	settle(h)

	offline := ofType(drain(t, watchA), EventPresence)
	require.Len(t, offline, 1)
	var p models.Presence
	require.NoError(t, json.Unmarshal(offline[0].Payload, &p))
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, models.StatusOffline, p.Status)
	assert.Empty(t, ofType(drain(t, watchB), EventPresence))

	assert.Equal(t, []uuid.UUID{watchA.UserID}, h.GetOnlineUsers(orgA))
	assert.ElementsMatch(t, []uuid.UUID{watchB.UserID, userID}, h.GetOnlineUsers(orgB))
	assert.True(t, h.IsUserOnline(userID))
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	users := make([]uuid.UUID, 10)
	for i := range users {
		users[i] = uuid.New()
	}

	const n = 100
	kept := make([]*Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(h, nil, users[i%len(users)], orgID)
			assert.NoError(t, h.Register(c))
			if i%2 == 0 {
				assert.NoError(t, h.Unregister(c))
				return
			}
			kept[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n/2, h.ClientCount())
	total := 0
	for _, userID := range users {
		total += h.ConnectionCount(userID)
	}
	assert.Equal(t, n/2, total)
	// Odd i always maps to an odd user index.
	assert.Len(t, h.GetOnlineUsers(orgID), len(users)/2)

	for _, c := range kept {
		if c != nil {
			require.NoError(t, h.Unregister(c))
		}
	}
	assert.Equal(t, 0, h.ClientCount())
	assert.Empty(t, h.GetOnlineUsers(orgID))
	for _, userID := range users {
		assert.Equal(t, 0, h.ConnectionCount(userID))
	}
}

func TestHub_SameChannelEventsKeepSubmissionOrder(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))

	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: ids[i]}))
	}
	settle(h)

	messages := ofType(drain(t, c), EventMessage)
	require.Len(t, messages, len(ids))
	for i, ev := range messages {
		var m models.Message
		require.NoError(t, json.Unmarshal(ev.Payload, &m))
		assert.Equal(t, ids[i], m.ID, "message %d out of order", i)
	}
}

func TestHub_FullQueueDropsAndResyncs(t *testing.T) {
	h := newTestHub(t, func(o *Options) {
		o.SendBufferSize = 4
		o.ResyncInterval = time.Hour
	})
	channelID := uuid.New()
	slow := newRegistered(t, h, uuid.New(), uuid.New())
	fast := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(slow, channelID))
	require.NoError(t, h.JoinChannel(fast, channelID))
	settle(h)
	drain(t, slow)
	drain(t, fast)

	received := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: uuid.New()}))
		settle(h)
		received += len(ofType(drain(t, fast), EventMessage))
	}

	assert.Equal(t, 10, received, "a full queue must not affect other subscribers")
	assert.Len(t, slow.send, 4)
	assert.Equal(t, 6.0, testutil.ToFloat64(h.metrics.EventsDropped.WithLabelValues(string(EventMessage))))

	assert.Len(t, ofType(drain(t, slow), EventMessage), 4)
	require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: uuid.New()}))
	settle(h)

	events := drain(t, slow)
	require.Len(t, events, 2)
	assert.Equal(t, EventResyncRequired, events[0].Type)
	var rp ResyncPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &rp))
	assert.Equal(t, ResyncPayload{Dropped: 6, Reason: "buffer_full"}, rp)
	assert.Equal(t, EventMessage, events[1].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ResyncsSent))
}

func TestHub_ResyncFlushedOnTick(t *testing.T) {
	h := newTestHub(t, func(o *Options) {
		o.SendBufferSize = 1
		o.ResyncInterval = 20 * time.Millisecond
	})
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))
	settle(h)
	drain(t, c)

	require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: uuid.New()}))
	require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: uuid.New()}))
	settle(h)
	assert.Equal(t, EventMessage, recvEvent(t, c).Type)

	ev := recvEvent(t, c)
	assert.Equal(t, EventResyncRequired, ev.Type)
	var rp ResyncPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &rp))
	assert.Equal(t, 1, rp.Dropped)
}

func TestHub_DroppedTypingDoesNotRequireResync(t *testing.T) {
	h := newTestHub(t, func(o *Options) {
		o.SendBufferSize = 1
		o.ResyncInterval = time.Hour
	})
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))
	settle(h)
	drain(t, c)

	require.NoError(t, h.BroadcastTyping(channelID, uuid.New(), true))
	require.NoError(t, h.BroadcastTyping(channelID, uuid.New(), true))
	settle(h)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsDropped.WithLabelValues(string(EventTyping))))
	drain(t, c)

	require.NoError(t, h.BroadcastMessage(channelID, &models.Message{ID: uuid.New()}))
	settle(h)
	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Type)
}

func TestHub_TypingFromConnectionSkipsSender(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	orgID := uuid.New()
	sender := newRegistered(t, h, uuid.New(), orgID)
	peer := newRegistered(t, h, uuid.New(), orgID)
	require.NoError(t, h.JoinChannel(sender, channelID))
	require.NoError(t, h.JoinChannel(peer, channelID))

	require.NoError(t, h.typingFrom(sender, channelID, true))
	settle(h)

	assert.Empty(t, ofType(drain(t, sender), EventTyping))
	typing := ofType(drain(t, peer), EventTyping)
	require.Len(t, typing, 1)
	var tp TypingPayload
	require.NoError(t, json.Unmarshal(typing[0].Payload, &tp))
	assert.Equal(t, TypingPayload{UserID: sender.UserID, IsTyping: true}, tp)
}

func TestHub_ChannelLeaveEvictsEveryConnectionOfUser(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	orgID := uuid.New()
	leaver := uuid.New()
	laptop := newRegistered(t, h, leaver, orgID)
	phone := newRegistered(t, h, leaver, orgID)
	other := newRegistered(t, h, uuid.New(), orgID)
	for _, c := range []*Client{laptop, phone, other} {
		require.NoError(t, h.JoinChannel(c, channelID))
	}

	require.NoError(t, h.BroadcastChannelLeave(channelID, leaver))
	settle(h)

	for _, c := range []*Client{laptop, phone, other} {
		leaves := ofType(drain(t, c), EventChannelLeave)
		require.Len(t, leaves, 1)
		var mp MembershipPayload
		require.NoError(t, json.Unmarshal(leaves[0].Payload, &mp))
		assert.Equal(t, MembershipPayload{ChannelID: channelID, UserID: leaver}, mp)
	}
	assert.Equal(t, 1, h.SubscriberCount(channelID))
	assert.Empty(t, h.Subscriptions(laptop))
	assert.Empty(t, h.Subscriptions(phone))
}

func TestHub_ChannelEventsCarryPayloads(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))
	settle(h)
	drain(t, c)

	reaction := &models.Reaction{MessageID: uuid.New(), UserID: uuid.New(), Emoji: "+1"}
	require.NoError(t, h.BroadcastReaction(channelID, reaction, false))
	require.NoError(t, h.BroadcastChannelUpdate(channelID, &models.Channel{ID: channelID, Name: "general"}))
	require.NoError(t, h.BroadcastChannelJoin(channelID, uuid.New()))
	require.NoError(t, h.BroadcastMessageUpdate(channelID, &models.Message{ID: uuid.New(), IsEdited: true}))
	settle(h)

	events := drain(t, c)
	require.Len(t, events, 4)
	assert.Equal(t, []EventType{EventReaction, EventChannelUpdate, EventChannelJoin, EventMessageUpdate},
		[]EventType{events[0].Type, events[1].Type, events[2].Type, events[3].Type})

	var rp struct {
		Action   string          `json:"action"`
		Reaction models.Reaction `json:"reaction"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &rp))
	assert.Equal(t, "removed", rp.Action)
	assert.Equal(t, "+1", rp.Reaction.Emoji)

	var ch models.Channel
	require.NoError(t, json.Unmarshal(events[1].Payload, &ch))
	assert.Equal(t, "general", ch.Name)
}

func TestHub_BroadcastEncodesBeforeReturning(t *testing.T) {
	h := newTestHub(t)
	channelID := uuid.New()
	c := newRegistered(t, h, uuid.New(), uuid.New())
	require.NoError(t, h.JoinChannel(c, channelID))
	settle(h)
	drain(t, c)

	msg := &models.Message{ID: uuid.New(), ChannelID: channelID, Content: "original"}
	require.NoError(t, h.BroadcastMessage(channelID, msg))
	msg.Content = "edited after the call"

	ev := recvEvent(t, c)
	var got models.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, "original", got.Content)
}

func TestHub_UnencodablePayloadIsReportedToCaller(t *testing.T) {
	h := newTestHub(t)
	err := h.toChannel(uuid.New(), EventMessage, make(chan int), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHubClosed)
}

func TestHub_BroadcastToEmptyChannelIsNoop(t *testing.T) {
	h := newTestHub(t)
	c := newRegistered(t, h, uuid.New(), uuid.New())
	settle(h)
	drain(t, c)

	require.NoError(t, h.BroadcastMessage(uuid.New(), &models.Message{ID: uuid.New()}))
	settle(h)
	assert.Empty(t, drain(t, c))
}

func TestHub_SendNotificationReachesEveryConnectionOfUser(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	userID := uuid.New()
	laptop := newRegistered(t, h, userID, orgID)
	phone := newRegistered(t, h, userID, orgID)
	other := newRegistered(t, h, uuid.New(), orgID)

	n := &models.Notification{ID: uuid.New(), UserID: userID, Type: "mention", Content: "hi"}
	require.NoError(t, h.SendNotification(userID, n))
	settle(h)

	for _, c := range []*Client{laptop, phone} {
		got := ofType(drain(t, c), EventNotification)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].ChannelID)
		var decoded models.Notification
		require.NoError(t, json.Unmarshal(got[0].Payload, &decoded))
		assert.Equal(t, n.ID, decoded.ID)
	}
	assert.Empty(t, ofType(drain(t, other), EventNotification))
}

func TestHub_UpdateStatus(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	observer := newRegistered(t, h, uuid.New(), orgID)
	settle(h)
	drain(t, observer)

	userID := uuid.New()
	err := h.UpdateStatus(userID, orgID, models.PresenceStatus("sleeping"), "")
	require.Error(t, err)

	require.NoError(t, h.UpdateStatus(userID, orgID, models.StatusAway, "lunch"))
	settle(h)
	got := ofType(drain(t, observer), EventPresence)
	require.Len(t, got, 1)
	var p models.Presence
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, models.StatusAway, p.Status)
	assert.Equal(t, "lunch", p.StatusText)
}

func TestHub_PresenceStateTracksTransitions(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()
	orgID := uuid.New()

	_, ok := h.Presence(userID)
	assert.False(t, ok)

	newRegistered(t, h, userID, orgID)
	newRegistered(t, h, userID, orgID)
	state, ok := h.Presence(userID)
	require.True(t, ok)
	assert.True(t, state.Online())
	assert.Equal(t, 2, state.Count)
	assert.Equal(t, orgID, state.OrgID)
	assert.False(t, state.LastTransition.IsZero())
}

func TestHub_RegisterRefusesDrainingClient(t *testing.T) {
	h := newTestHub(t)
	c := NewClient(h, nil, uuid.New(), uuid.New())
	c.advance(StateDraining)

	require.NoError(t, h.Register(c))
	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, h.IsUserOnline(c.UserID))
}

func TestHub_RegisterNilClientIsSkipped(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.Register(nil))
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_PanicInCommandDoesNotStopLoop(t *testing.T) {
	h := newTestHub(t)
	assert.True(t, h.query(func() { panic("boom") }))

	newRegistered(t, h, uuid.New(), uuid.New())
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_ShutdownClosesQueuesAndRefusesCommands(t *testing.T) {
	h := NewHub(DefaultOptions(), nil, nil)
	go h.Run()

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newRegistered(t, h, uuid.New(), uuid.New())
	}
	require.NoError(t, h.Shutdown(time.Second))

	select {
	case <-h.Done():
	default:
		t.Fatal("Run still running after Shutdown")
	}
	for _, c := range clients {
		drain(t, c)
		_, open := <-c.send
		assert.False(t, open)
		assert.Equal(t, StateClosed, c.State())
	}

	assert.ErrorIs(t, h.Register(NewClient(h, nil, uuid.New(), uuid.New())), ErrHubClosed)
	assert.ErrorIs(t, h.BroadcastMessage(uuid.New(), &models.Message{}), ErrHubClosed)
	assert.ErrorIs(t, h.SendNotification(uuid.New(), &models.Notification{}), ErrHubClosed)
	assert.Equal(t, 0, h.ClientCount())
	assert.NoError(t, h.Shutdown(time.Second), "second shutdown")
}

func TestHub_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := NewHub(DefaultOptions(), nil, m)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })

	userID := uuid.New()
	orgID := uuid.New()
	first := newRegistered(t, h, userID, orgID)
	newRegistered(t, h, userID, orgID)
	newRegistered(t, h, uuid.New(), orgID)
	settle(h)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OnlineUsers))

	require.NoError(t, h.Unregister(first))
	settle(h)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OnlineUsers))

	count, err := testutil.GatherAndCount(reg, "chat_hub_connections", "chat_hub_online_users")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConnState_String(t *testing.T) {
	for state, want := range map[ConnState]string{
		StateNew:        "new",
		StateRegistered: "registered",
		StateActive:     "active",
		StateDraining:   "draining",
		StateClosed:     "closed",
		ConnState(99):   "unknown",
	} {
		assert.Equal(t, want, state.String(), fmt.Sprintf("state %d", state))
	}
}
