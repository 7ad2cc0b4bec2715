package chatd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Event is one server event received over the live connection. Payload
// holds the full frame for callers that need more than the event name.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Live is a websocket session with the chat core.
type Live struct {
	conn *websocket.Conn
}

// Connect opens a live session. The caller should send Join first to
// subscribe to its rooms and receive history.
func (c *Client) Connect(ctx context.Context) (*Live, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), c.identityHeaders())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	return &Live{conn: conn}, nil
}

// send writes one outbound frame.
func (l *Live) send(event, roomID, msg string) error {
	return l.conn.WriteJSON(map[string]string{
		"event":   event,
		"room_id": roomID,
		"msg":     msg,
	})
}

// Join announces presence and subscribes to all of the caller's rooms. The
// server replies with a prev_msg event carrying conversation history.
func (l *Live) Join() error {
	return l.send("joined", "", "")
}

// SendText sends a message to a room.
func (l *Live) SendText(roomID, msg string) error {
	return l.send("text", roomID, msg)
}

// JoinRandom requests a random chat partner.
func (l *Live) JoinRandom() error {
	return l.send("join_random", "", "")
}

// ExitRoom leaves a room permanently.
func (l *Live) ExitRoom(roomID string) error {
	return l.send("exit_room", roomID, "")
}

// ReadEvent blocks until the next server event arrives.
func (l *Live) ReadEvent() (*Event, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	return &Event{Type: head.Event, Payload: json.RawMessage(data)}, nil
}

// Close closes the live session.
func (l *Live) Close() error {
	l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return l.conn.Close()
}
