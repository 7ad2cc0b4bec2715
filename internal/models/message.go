package models

// Message represents a chat message stored in Redis. Sender name and picture
// are denormalized at send time so history replay needs no directory lookup.
type Message struct {
	ID        string `json:"id"` // ULID
	RoomID    string `json:"room_id"`
	FromUID   string `json:"uid"`
	FromName  string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	Body      string `json:"msg"`
	Timestamp int64  `json:"ts"` // Unix ms
}
