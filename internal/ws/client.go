package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/routetouni/chatd/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 54 * time.Second
	// Maximum inbound frame size.
	maxFrameSize = 8 * 1024
	// Outbound queue per connection.
	sendBuffer = 64
)

// Client wraps one websocket connection. It implements presence.Conn: the
// manager hands it back inside fan-out instructions and the write pump
// performs the actual network sends.
type Client struct {
	conn      *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues an event for delivery. It never blocks: events for a slow or
// closed connection are dropped, and the client recovers missed messages
// from history on reconnect.
func (c *Client) Send(event any) error {
	select {
	case <-c.done:
		metrics.EventsDropped.WithLabelValues("closed").Inc()
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		metrics.EventsDropped.WithLabelValues("slow").Inc()
		return nil
	}
}

// Close tears the connection down. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

// writePump serializes all writes to the connection and keeps the
// ping/pong heartbeat alive. One goroutine per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
