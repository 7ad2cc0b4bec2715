package chat

import (
	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/presence"
)

// Outbound event names on the wire.
const (
	EventStatus       = "status"
	EventInternalMsg  = "internal_msg"
	EventRandomPaired = "random_paired"
	EventPrevMsg      = "prev_msg"
)

// StatusEvent announces a join or exit to a room's live members.
type StatusEvent struct {
	Event   string `json:"event"` // "status"
	Msg     string `json:"msg"`   // "Has Joined the Chat" / "Has Left the Chat"
	Name    string `json:"name"`
	UID     string `json:"uid,omitempty"`
	RoomID  string `json:"room_id"`
	Picture string `json:"picture,omitempty"`
	Color   string `json:"color"` // "success" on join, "danger" on exit
	Type    string `json:"type"`  // "join" or "exit"
}

// MessageEvent carries one chat message to a room's live members.
type MessageEvent struct {
	Event   string `json:"event"` // "internal_msg"
	Msg     string `json:"msg"`
	RoomID  string `json:"room_id"`
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// PairedEvent notifies both sides of a successful random match. Both sides
// receive the same room id.
type PairedEvent struct {
	Event       string `json:"event"` // "random_paired"
	RoomID      string `json:"room_id"`
	PartnerUID  string `json:"partner_uid"`
	PartnerName string `json:"partner_name"`
}

// ConversationEvent hydrates a freshly joined connection with the user's
// rooms and recent history, grouped by room kind.
type ConversationEvent struct {
	Event         string                                   `json:"event"` // "prev_msg"
	Conversations map[models.RoomKind][]models.RoomSummary `json:"conversations"`
}

// Fanout is one delivery instruction returned to the transport layer: send
// Event to every connection in Conns. Announcements and pairing events take
// this path; room messages are enqueued by the manager itself under the room
// lock so every member observes them in store-accept order.
type Fanout struct {
	Event any
	Conns []presence.Conn
}

// statusJoin builds the join announcement for a room.
func statusJoin(user models.User, roomID string) StatusEvent {
	return StatusEvent{
		Event:   EventStatus,
		Msg:     "Has Joined the Chat",
		Name:    user.Name,
		UID:     user.UID,
		RoomID:  roomID,
		Picture: user.Picture,
		Color:   "success",
		Type:    "join",
	}
}

// statusExit builds the leave announcement for a room.
func statusExit(user models.User, roomID string) StatusEvent {
	return StatusEvent{
		Event:  EventStatus,
		Msg:    "Has Left the Chat",
		Name:   user.Name,
		UID:    user.UID,
		RoomID: roomID,
		Color:  "danger",
		Type:   "exit",
	}
}
