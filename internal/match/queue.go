// Package match implements the waiting pool for random chat pairing.
// Pairing is strict FIFO: the longest-waiting ticket is claimed first.
package match

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateTicket is returned when a uid that already has a pending
// ticket requests another match.
var ErrDuplicateTicket = errors.New("matchmaking ticket already pending")

// Ticket is a pending request to be randomly paired.
type Ticket struct {
	UID        string
	Name       string
	EnqueuedAt time.Time
}

// Outcome is the result of a match request.
type Outcome struct {
	// Paired is true when a partner was claimed; Partner is then set.
	// Otherwise the requester was enqueued.
	Paired  bool
	Partner Ticket
}

// Queue is a FIFO waiting pool with at most one ticket per uid. A single
// mutex serializes all operations, so two concurrent requests can never
// claim the same ticket: one pairs, the other pairs with the next waiter or
// becomes the new waiting entry.
type Queue struct {
	mu      sync.Mutex
	waiting []Ticket
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Request pairs the caller with the longest-waiting ticket, or enqueues the
// caller when nobody suitable waits. A user is never paired with themselves:
// their own ticket is skipped, and if it is the only one they stay enqueued.
// Requesting while already enqueued fails with ErrDuplicateTicket.
func (q *Queue) Request(uid, name string) (Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.waiting {
		if t.UID == uid {
			return Outcome{}, ErrDuplicateTicket
		}
	}

	// Claim the longest-waiting ticket. The uid check above guarantees the
	// requester's own ticket is not in the pool, but guard anyway so the
	// never-self-pair invariant does not depend on it.
	for i, t := range q.waiting {
		if t.UID == uid {
			continue
		}
		q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		return Outcome{Paired: true, Partner: t}, nil
	}

	q.waiting = append(q.waiting, Ticket{UID: uid, Name: name, EnqueuedAt: time.Now()})
	return Outcome{}, nil
}

// Requeue puts a previously claimed ticket back at the head of the pool.
// Used when room creation fails after a pairing, so the partner does not
// lose their place.
func (q *Queue) Requeue(t Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.waiting {
		if w.UID == t.UID {
			return
		}
	}
	q.waiting = append([]Ticket{t}, q.waiting...)
}

// Cancel removes uid's pending ticket, if any. Cancelling an absent ticket
// is a no-op; disconnect cleanup calls this unconditionally.
func (q *Queue) Cancel(uid string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.waiting {
		if t.UID == uid {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// Waiting reports whether uid currently has a pending ticket.
func (q *Queue) Waiting(uid string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.waiting {
		if t.UID == uid {
			return true
		}
	}
	return false
}

// Depth returns the number of pending tickets, for metrics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
