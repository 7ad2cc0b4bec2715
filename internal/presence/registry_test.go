package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn is a no-op Conn for registry tests.
type stubConn struct{ id string }

func (c *stubConn) Send(event any) error { return nil }
func (c *stubConn) Close() error         { return nil }

func TestRegisterAndUID(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{id: "c1"}

	_, err := r.UID(conn)
	assert.ErrorIs(t, err, ErrConnectionUnregistered)

	r.Register(conn, "alice")
	uid, err := r.UID(conn)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestSubscribeUnregisteredConnection(t *testing.T) {
	r := NewRegistry()

	err := r.Subscribe(&stubConn{id: "ghost"}, "room-1")
	assert.ErrorIs(t, err, ErrConnectionUnregistered)
}

func TestSubscribeAndBroadcastSet(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1"}
	c2 := &stubConn{id: "c2"}
	r.Register(c1, "alice")
	r.Register(c2, "bob")

	require.NoError(t, r.Subscribe(c1, "room-1"))
	require.NoError(t, r.Subscribe(c2, "room-1"))
	require.NoError(t, r.Subscribe(c1, "room-2"))

	assert.ElementsMatch(t, []Conn{c1, c2}, r.ConnectionsForRoom("room-1"))
	assert.ElementsMatch(t, []Conn{c1}, r.ConnectionsForRoom("room-2"))
	assert.Empty(t, r.ConnectionsForRoom("room-3"))

	rooms, err := r.Rooms(c1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, rooms)
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1"}
	r.Register(c1, "alice")
	require.NoError(t, r.Subscribe(c1, "room-1"))

	require.NoError(t, r.Unsubscribe(c1, "room-1"))
	assert.Empty(t, r.ConnectionsForRoom("room-1"))

	// Unsubscribing a room the connection is not in is harmless.
	require.NoError(t, r.Unsubscribe(c1, "room-9"))
}

func TestRegisterRebindClearsSubscriptions(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1"}
	r.Register(c1, "alice")
	require.NoError(t, r.Subscribe(c1, "room-1"))

	r.Register(c1, "bob")

	uid, err := r.UID(c1)
	require.NoError(t, err)
	assert.Equal(t, "bob", uid)
	assert.Empty(t, r.ConnectionsForRoom("room-1"))
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestTeardown(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1"}
	c2 := &stubConn{id: "c2"}
	r.Register(c1, "alice")
	r.Register(c2, "bob")
	require.NoError(t, r.Subscribe(c1, "room-1"))
	require.NoError(t, r.Subscribe(c1, "room-2"))
	require.NoError(t, r.Subscribe(c2, "room-1"))

	rooms := r.Teardown(c1)
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, rooms)

	// The other member's subscription survives.
	assert.ElementsMatch(t, []Conn{c2}, r.ConnectionsForRoom("room-1"))
	assert.Empty(t, r.ConnectionsForRoom("room-2"))
	_, err := r.UID(c1)
	assert.ErrorIs(t, err, ErrConnectionUnregistered)

	// Teardown is idempotent.
	assert.Nil(t, r.Teardown(c1))
}

func TestConnsForUIDMultiDevice(t *testing.T) {
	r := NewRegistry()
	phone := &stubConn{id: "phone"}
	laptop := &stubConn{id: "laptop"}
	other := &stubConn{id: "other"}
	r.Register(phone, "alice")
	r.Register(laptop, "alice")
	r.Register(other, "bob")

	assert.ElementsMatch(t, []Conn{phone, laptop}, r.ConnsForUID("alice"))
	assert.ElementsMatch(t, []Conn{other}, r.ConnsForUID("bob"))
	assert.Empty(t, r.ConnsForUID("carol"))
}
