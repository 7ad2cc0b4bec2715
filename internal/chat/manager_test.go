package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routetouni/chatd/internal/chat"
	"github.com/routetouni/chatd/internal/match"
	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/presence"
	"github.com/routetouni/chatd/internal/store"
)

// fakeConn records every event delivered to it.
type fakeConn struct {
	mu     sync.Mutex
	name   string
	events []any
}

func (c *fakeConn) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) received() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.events))
	copy(out, c.events)
	return out
}

// deliver performs the sends the transport layer would.
func deliver(fanouts []chat.Fanout) {
	for _, f := range fanouts {
		for _, conn := range f.Conns {
			_ = conn.Send(f.Event)
		}
	}
}

func newTestManager(t *testing.T, cfg chat.Config) (*chat.Manager, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return chat.New(mem, mem, presence.NewRegistry(), match.NewQueue(), cfg, zerolog.Nop()), mem
}

var (
	mentor = models.User{UID: "mentor-1", Name: "Morgan", MentorVerified: true}
	alice  = models.User{UID: "alice", Name: "Alice"}
	bob    = models.User{UID: "bob", Name: "Bob"}
	carol  = models.User{UID: "carol", Name: "Carol"}
)

func TestCreateRoomRequiresMentorVerification(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())

	_, err := m.CreateRoom(context.Background(), alice, []string{"bob"}, "study group")
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)
}

func TestCreateRoomKinds(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	direct, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.KindDirect, direct.Kind)

	group, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob"}, "study group")
	require.NoError(t, err)
	assert.Equal(t, models.KindGroup, group.Kind)
	assert.Equal(t, "study group", group.Name)

	_, err = m.CreateRoom(ctx, mentor, nil, "empty")
	assert.ErrorIs(t, err, store.ErrInvalidMembers)
}

func TestJoinedSubscribesAndAnnounces(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob"}, "study group")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	conv, fanouts, err := m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	require.Len(t, conv[models.KindGroup], 1)
	assert.Equal(t, room.ID, conv[models.KindGroup][0].Room.ID)
	// Members in join order, creator first.
	assert.Equal(t, []string{"mentor-1", "alice", "bob"}, conv[models.KindGroup][0].Members)
	// Nobody else is live yet, so there is nothing to announce.
	assert.Empty(t, fanouts)

	aliceConn := &fakeConn{name: "alice"}
	_, fanouts, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)
	deliver(fanouts)

	// The mentor's live connection hears alice arrive; alice does not hear
	// her own announcement.
	events := mentorConn.received()
	require.Len(t, events, 1)
	status, ok := events[0].(chat.StatusEvent)
	require.True(t, ok)
	assert.Equal(t, "Has Joined the Chat", status.Msg)
	assert.Equal(t, "success", status.Color)
	assert.Equal(t, "join", status.Type)
	assert.Equal(t, "alice", status.UID)
	assert.Empty(t, aliceConn.received())
}

func TestSendMessageFansOutToLiveMembers(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob"}, "study group")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	conns := map[string]*fakeConn{"mentor": mentorConn, "alice": aliceConn}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)
	// bob is a durable member but not connected.

	msg, err := m.SendMessage(ctx, alice, aliceConn, room.ID.String(), "hello everyone")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	// Echo is on, so both live members receive it, in the same form.
	for name, conn := range conns {
		events := conn.received()
		var got *chat.MessageEvent
		for _, ev := range events {
			if me, ok := ev.(chat.MessageEvent); ok {
				got = &me
				break
			}
		}
		require.NotNil(t, got, "no message event on %s", name)
		assert.Equal(t, "hello everyone", got.Msg)
		assert.Equal(t, "alice", got.UID)
		assert.Equal(t, "Alice", got.Name)
		assert.Equal(t, room.ID.String(), got.RoomID)
	}

	// Durable before broadcast: the message is in the log.
	stored, err := mem.GetRoomMessages(ctx, room.ID.String(), 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	// And the room's counters moved.
	got, err := mem.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MessageCount)
}

func TestSendMessageEchoDisabled(t *testing.T) {
	cfg := chat.DefaultConfig()
	cfg.EchoToSender = false
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, alice, aliceConn, room.ID.String(), "ping")
	require.NoError(t, err)

	// The sender's own connection hears nothing; the other member does.
	assert.Empty(t, aliceConn.received())
	events := mentorConn.received()
	require.Len(t, events, 1)
	got, ok := events[0].(chat.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "ping", got.Msg)
}

func TestSendMessageDeniedForNonMember(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	carolConn := &fakeConn{name: "carol"}
	_, _, err = m.Joined(ctx, carol, carolConn)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, carol, carolConn, room.ID.String(), "let me in")
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)

	// Nothing was persisted and nothing was broadcast.
	stored, err := mem.GetRoomMessages(ctx, room.ID.String(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSendMessageUnknownRoom(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	conn := &fakeConn{name: "alice"}
	_, _, err := m.Joined(ctx, alice, conn)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, alice, conn, "not-a-uuid", "hi")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)

	_, err = m.SendMessage(ctx, alice, conn, "0198b5c8-0000-7000-8000-000000000000", "hi")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

// failingLog accepts reads but refuses writes, simulating a message store
// outage.
type failingLog struct {
	*store.MemoryStore
}

func (f *failingLog) AddMessage(ctx context.Context, msg *models.Message) error {
	return errors.New("log unavailable")
}

func TestSendMessageStoreFailureBroadcastsNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	m := chat.New(mem, &failingLog{mem}, presence.NewRegistry(), match.NewQueue(), chat.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, alice, aliceConn, room.ID.String(), "doomed")
	require.Error(t, err)
	assert.NotErrorIs(t, err, chat.ErrNotAuthorized)
	assert.Empty(t, mentorConn.received())
}

func TestJoinRandomEnqueuesThenPairs(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	aliceConn := &fakeConn{name: "alice"}
	bobConn := &fakeConn{name: "bob"}
	_, _, err := m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, bob, bobConn)
	require.NoError(t, err)

	res, fanouts, err := m.JoinRandom(ctx, alice, aliceConn)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
	assert.Empty(t, fanouts)

	// A second request while waiting is rejected, and alice keeps her spot.
	_, _, err = m.JoinRandom(ctx, alice, aliceConn)
	assert.ErrorIs(t, err, match.ErrDuplicateTicket)
	assert.Equal(t, 1, m.QueueDepth())

	res, fanouts, err = m.JoinRandom(ctx, bob, bobConn)
	require.NoError(t, err)
	require.False(t, res.Enqueued)
	require.NotNil(t, res.Room)
	assert.Equal(t, models.KindRandom, res.Room.Kind)
	assert.Equal(t, "alice", res.Partner.UID)
	assert.Equal(t, 0, m.QueueDepth())
	deliver(fanouts)

	// Both sides are notified with the same room id.
	var aliceRoom, bobRoom string
	for _, ev := range aliceConn.received() {
		if pe, ok := ev.(chat.PairedEvent); ok {
			aliceRoom = pe.RoomID
			assert.Equal(t, "bob", pe.PartnerUID)
		}
	}
	for _, ev := range bobConn.received() {
		if pe, ok := ev.(chat.PairedEvent); ok {
			bobRoom = pe.RoomID
			assert.Equal(t, "alice", pe.PartnerUID)
		}
	}
	require.NotEmpty(t, aliceRoom)
	assert.Equal(t, aliceRoom, bobRoom)
	assert.Equal(t, res.Room.ID.String(), aliceRoom)

	// The room contains exactly the two of them, durably.
	members, err := mem.MembersOf(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	// Both sides can chat immediately.
	_, err = m.SendMessage(ctx, alice, aliceConn, aliceRoom, "hi stranger")
	require.NoError(t, err)
	var bobHeard bool
	for _, ev := range bobConn.received() {
		if me, ok := ev.(chat.MessageEvent); ok && me.Msg == "hi stranger" {
			bobHeard = true
		}
	}
	assert.True(t, bobHeard)
}

func TestExitRoomIsPermanent(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob"}, "study group")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	fanouts, err := m.ExitRoom(ctx, alice, room.ID.String())
	require.NoError(t, err)
	deliver(fanouts)

	// The remaining live member hears the departure.
	var sawExit bool
	for _, ev := range mentorConn.received() {
		if se, ok := ev.(chat.StatusEvent); ok && se.Type == "exit" {
			sawExit = true
			assert.Equal(t, "Has Left the Chat", se.Msg)
			assert.Equal(t, "danger", se.Color)
			assert.Equal(t, "alice", se.UID)
		}
	}
	assert.True(t, sawExit)

	// Durable membership is gone: alice can no longer send, and her history
	// hydration no longer includes the room.
	member, err := mem.IsMember(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.False(t, member)

	_, err = m.SendMessage(ctx, alice, aliceConn, room.ID.String(), "wait")
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)

	conv, err := m.ConversationFor(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, conv[models.KindGroup])

	// Exiting again, or exiting a room you never joined, is denied.
	_, err = m.ExitRoom(ctx, alice, room.ID.String())
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)
}

func TestExitRoomUnknownRoom(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())

	_, err := m.ExitRoom(context.Background(), alice, "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestLastExitArchivesRoom(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	_, err = m.ExitRoom(ctx, mentor, room.ID.String())
	require.NoError(t, err)
	_, err = m.ExitRoom(ctx, alice, room.ID.String())
	require.NoError(t, err)

	got, err := mem.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Archived)
}

func TestDisconnectPreservesMembership(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, mentor, mentorConn, room.ID.String(), "before the drop")
	require.NoError(t, err)

	fanouts := m.Disconnect(ctx, alice, aliceConn)
	deliver(fanouts)

	// The departure is announced, but membership survives.
	var sawExit bool
	for _, ev := range mentorConn.received() {
		if se, ok := ev.(chat.StatusEvent); ok && se.Type == "exit" {
			sawExit = true
		}
	}
	assert.True(t, sawExit)

	member, err := mem.IsMember(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.True(t, member)

	// No live subscription remains, so delivery skips the dead connection.
	before := len(aliceConn.received())
	_, err = m.SendMessage(ctx, mentor, mentorConn, room.ID.String(), "while away")
	require.NoError(t, err)
	assert.Len(t, aliceConn.received(), before)

	// Reconnecting restores the full context, including messages sent while
	// disconnected, oldest first.
	freshConn := &fakeConn{name: "alice-2"}
	conv, _, err := m.Joined(ctx, alice, freshConn)
	require.NoError(t, err)
	require.Len(t, conv[models.KindDirect], 1)
	msgs := conv[models.KindDirect][0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "before the drop", msgs[0].Body)
	assert.Equal(t, "while away", msgs[1].Body)
}

func TestDisconnectCancelsPendingTicket(t *testing.T) {
	m, _ := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	aliceConn := &fakeConn{name: "alice"}
	_, _, err := m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	res, _, err := m.JoinRandom(ctx, alice, aliceConn)
	require.NoError(t, err)
	require.True(t, res.Enqueued)

	m.Disconnect(ctx, alice, aliceConn)
	assert.Equal(t, 0, m.QueueDepth())

	// The next requester is not paired with a ghost.
	bobConn := &fakeConn{name: "bob"}
	_, _, err = m.Joined(ctx, bob, bobConn)
	require.NoError(t, err)
	res, _, err = m.JoinRandom(ctx, bob, bobConn)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestDisconnectAnnounceScope(t *testing.T) {
	run := func(scope chat.AnnounceScope) []chat.Fanout {
		cfg := chat.DefaultConfig()
		cfg.DisconnectAnnounce = scope
		m, _ := newTestManager(t, cfg)
		ctx := context.Background()

		aliceConn := &fakeConn{name: "alice"}
		_, _, err := m.Joined(ctx, alice, aliceConn)
		require.NoError(t, err)

		// The room is created after alice's connection hydrated, so her
		// connection holds no live subscription to it.
		room, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob"}, "late room")
		require.NoError(t, err)

		bobConn := &fakeConn{name: "bob"}
		_, _, err = m.Joined(ctx, bob, bobConn)
		require.NoError(t, err)
		_ = room

		return m.Disconnect(ctx, alice, aliceConn)
	}

	// Durable scope announces to every room alice belongs to, reaching
	// bob's live connection.
	assert.NotEmpty(t, run(chat.AnnounceDurable))

	// Live scope announces only where the connection was subscribed, which
	// is nowhere.
	assert.Empty(t, run(chat.AnnounceLive))
}

func TestConcurrentSendsAllPersist(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice"}, "")
	require.NoError(t, err)

	mentorConn := &fakeConn{name: "mentor"}
	aliceConn := &fakeConn{name: "alice"}
	_, _, err = m.Joined(ctx, mentor, mentorConn)
	require.NoError(t, err)
	_, _, err = m.Joined(ctx, alice, aliceConn)
	require.NoError(t, err)

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []struct {
		user models.User
		conn *fakeConn
	}{{mentor, mentorConn}, {alice, aliceConn}} {
		wg.Add(1)
		go func(user models.User, conn *fakeConn) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := m.SendMessage(ctx, user, conn, room.ID.String(), fmt.Sprintf("%s %d", user.UID, i))
				assert.NoError(t, err)
			}
		}(sender.user, sender.conn)
	}
	wg.Wait()

	stored, err := mem.GetRoomMessages(ctx, room.ID.String(), 100, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2*perSender)

	// Everyone observed every message (echo on).
	assert.Len(t, mentorConn.received(), 2*perSender)
	assert.Len(t, aliceConn.received(), 2*perSender)
}

func TestConcurrentSendsDeliverInStoreOrder(t *testing.T) {
	m, mem := newTestManager(t, chat.DefaultConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, mentor, []string{"alice", "bob", "carol"}, "busy room")
	require.NoError(t, err)

	senders := []struct {
		user models.User
		conn *fakeConn
	}{
		{mentor, &fakeConn{name: "mentor"}},
		{alice, &fakeConn{name: "alice"}},
		{carol, &fakeConn{name: "carol"}},
	}
	for _, s := range senders {
		_, _, err := m.Joined(ctx, s.user, s.conn)
		require.NoError(t, err)
	}

	// bob only listens.
	bobConn := &fakeConn{name: "bob"}
	_, _, err = m.Joined(ctx, bob, bobConn)
	require.NoError(t, err)

	const perSender = 25
	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(user models.User, conn *fakeConn) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := m.SendMessage(ctx, user, conn, room.ID.String(), fmt.Sprintf("%s %d", user.UID, i))
				assert.NoError(t, err)
			}
		}(s.user, s.conn)
	}
	wg.Wait()

	// Store-accept order, oldest first.
	stored, err := mem.GetRoomMessages(ctx, room.ID.String(), 100, 0)
	require.NoError(t, err)
	require.Len(t, stored, len(senders)*perSender)
	accepted := make([]string, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		accepted = append(accepted, stored[i].Body)
	}

	// bob's connection saw the exact same sequence: two senders racing must
	// never enqueue in inverted order.
	observed := make([]string, 0, len(accepted))
	for _, ev := range bobConn.received() {
		if me, ok := ev.(chat.MessageEvent); ok {
			observed = append(observed, me.Msg)
		}
	}
	assert.Equal(t, accepted, observed)
}
