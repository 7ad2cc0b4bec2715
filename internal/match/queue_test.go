package match

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEnqueuesWhenEmpty(t *testing.T) {
	q := NewQueue()

	out, err := q.Request("alice", "Alice")
	require.NoError(t, err)
	assert.False(t, out.Paired)
	assert.True(t, q.Waiting("alice"))
	assert.Equal(t, 1, q.Depth())
}

func TestRequestPairsLongestWaiting(t *testing.T) {
	q := NewQueue()

	_, err := q.Request("alice", "Alice")
	require.NoError(t, err)
	_, err = q.Request("bob", "Bob")
	require.NoError(t, err)

	// alice enqueued before bob, so carol must get alice.
	out, err := q.Request("carol", "Carol")
	require.NoError(t, err)
	require.True(t, out.Paired)
	assert.Equal(t, "alice", out.Partner.UID)
	assert.Equal(t, "Alice", out.Partner.Name)

	assert.False(t, q.Waiting("alice"))
	assert.True(t, q.Waiting("bob"))
	assert.Equal(t, 1, q.Depth())
}

func TestRequestDuplicateTicket(t *testing.T) {
	q := NewQueue()

	_, err := q.Request("alice", "Alice")
	require.NoError(t, err)

	// A second request does not pair alice with her own ticket.
	_, err = q.Request("alice", "Alice")
	assert.ErrorIs(t, err, ErrDuplicateTicket)
	assert.True(t, q.Waiting("alice"))
	assert.Equal(t, 1, q.Depth())
}

func TestCancel(t *testing.T) {
	q := NewQueue()

	_, err := q.Request("alice", "Alice")
	require.NoError(t, err)

	q.Cancel("alice")
	assert.False(t, q.Waiting("alice"))
	assert.Equal(t, 0, q.Depth())

	// Cancelling an absent ticket is a no-op.
	q.Cancel("alice")
	assert.Equal(t, 0, q.Depth())
}

func TestRequeuePutsTicketAtHead(t *testing.T) {
	q := NewQueue()

	_, err := q.Request("bob", "Bob")
	require.NoError(t, err)

	out, err := q.Request("alice", "Alice")
	require.NoError(t, err)
	require.True(t, out.Paired)

	// Pairing failed downstream; bob gets his place back ahead of anyone
	// who enqueued meanwhile.
	_, err = q.Request("carol", "Carol")
	require.NoError(t, err)
	q.Requeue(out.Partner)

	next, err := q.Request("dave", "Dave")
	require.NoError(t, err)
	require.True(t, next.Paired)
	assert.Equal(t, "bob", next.Partner.UID)
}

func TestRequeueIgnoresDuplicates(t *testing.T) {
	q := NewQueue()

	_, err := q.Request("bob", "Bob")
	require.NoError(t, err)

	q.Requeue(Ticket{UID: "bob", Name: "Bob"})
	assert.Equal(t, 1, q.Depth())
}

func TestConcurrentRequestsPairEachTicketOnce(t *testing.T) {
	q := NewQueue()

	const n = 100
	partners := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("user-%d", i)
			out, err := q.Request(uid, uid)
			assert.NoError(t, err)
			if out.Paired {
				partners <- out.Partner.UID
			}
		}(i)
	}
	wg.Wait()
	close(partners)

	// Every claimed ticket is claimed exactly once, nobody pairs with
	// themselves, and everyone is either paired or still waiting.
	seen := make(map[string]bool)
	paired := 0
	for uid := range partners {
		assert.False(t, seen[uid], "ticket %s claimed twice", uid)
		seen[uid] = true
		paired++
	}
	assert.Equal(t, n, paired*2+q.Depth())
}
