// Package chatd provides a client for the chatd room and messaging service.
package chatd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Identity carries the caller's verified identity, forwarded on every
// request. The server trusts these headers from the identity collaborator.
type Identity struct {
	UID     string
	Name    string
	Picture string
	Mentor  bool
}

// Client is a chatd API client.
type Client struct {
	BaseURL    string
	Identity   Identity
	HTTPClient *http.Client
}

// NewClient creates a new chatd client.
func NewClient(baseURL string, identity Identity) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &Client{
		BaseURL:    baseURL,
		Identity:   identity,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// identityHeaders builds the identity headers for a request.
func (c *Client) identityHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Chat-UID", c.Identity.UID)
	headers.Set("X-Chat-Name", c.Identity.Name)
	if c.Identity.Picture != "" {
		headers.Set("X-Chat-Picture", c.Identity.Picture)
	}
	if c.Identity.Mentor {
		headers.Set("X-Chat-Mentor", "true")
	}
	return headers
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = c.identityHeaders()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("chatd error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// User represents a directory entry.
type User struct {
	UID            string `json:"uid"`
	Name           string `json:"name"`
	Picture        string `json:"picture,omitempty"`
	MentorVerified bool   `json:"mentor_verified"`
}

// Sync mirrors the caller's identity into the server's user directory.
func (c *Client) Sync() (*User, error) {
	body, _ := json.Marshal(User{
		UID:            c.Identity.UID,
		Name:           c.Identity.Name,
		Picture:        c.Identity.Picture,
		MentorVerified: c.Identity.Mentor,
	})

	respBody, err := c.doRequest("POST", "/users", body)
	if err != nil {
		return nil, err
	}

	var resp User
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListUsers lists every known user except the caller.
func (c *Client) ListUsers() ([]User, error) {
	respBody, err := c.doRequest("GET", "/chat/users", nil)
	if err != nil {
		return nil, err
	}

	var resp []User
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

// Room represents room metadata.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind"`
}

// CreateRoom creates a room with an explicit member list. Requires a
// mentor-verified identity.
func (c *Client) CreateRoom(name string, members []string) (*Room, error) {
	body, _ := json.Marshal(CreateRoomRequest{Name: name, Members: members})

	respBody, err := c.doRequest("POST", "/chat/rooms", body)
	if err != nil {
		return nil, err
	}

	var resp Room
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message represents a chat message.
type Message struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	Body      string `json:"msg"`
	Timestamp int64  `json:"ts"`
}

// MessagesResponse is the response from getting room history.
type MessagesResponse struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// GetMessages retrieves paged history from a room the caller belongs to.
func (c *Client) GetMessages(roomID string, limit int, before int64) (*MessagesResponse, error) {
	path := fmt.Sprintf("/chat/rooms/%s/messages?limit=%d", roomID, limit)
	if before > 0 {
		path += fmt.Sprintf("&before=%d", before)
	}

	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomSummary is one conversation entry: the room, its members in join
// order, and recent history.
type RoomSummary struct {
	Room struct {
		ID           string    `json:"id"`
		Name         string    `json:"name,omitempty"`
		Kind         string    `json:"kind"`
		CreatorUID   string    `json:"creator_uid,omitempty"`
		CreatedAt    time.Time `json:"created_at"`
		LastActiveAt time.Time `json:"last_active_at"`
		MessageCount int64     `json:"message_count"`
	} `json:"room"`
	Members  []string  `json:"members"`
	Messages []Message `json:"messages"`
}

// ConversationsResponse groups the caller's rooms by kind.
type ConversationsResponse struct {
	Conversations map[string][]RoomSummary `json:"conversations"`
}

// Conversations retrieves the caller's full conversation state.
func (c *Client) Conversations() (*ConversationsResponse, error) {
	respBody, err := c.doRequest("GET", "/chat/conversations", nil)
	if err != nil {
		return nil, err
	}

	var resp ConversationsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchResult represents a search result.
type SearchResult struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	RoomName  string `json:"room_name,omitempty"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Body      string `json:"msg"`
	Timestamp int64  `json:"ts"`
}

// SearchResponse is the response from searching messages.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// Search searches the caller's message history.
func (c *Client) Search(query string, limit int, roomID string, after int64) (*SearchResponse, error) {
	path := fmt.Sprintf("/find?q=%s&limit=%d", url.QueryEscape(query), limit)
	if roomID != "" {
		path += "&room=" + roomID
	}
	if after > 0 {
		path += fmt.Sprintf("&after=%d", after)
	}

	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StatsResponse is the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers      int64  `json:"total_users"`
	TotalRooms      int64  `json:"total_rooms"`
	TotalMessages   int64  `json:"total_messages"`
	LiveConnections int    `json:"live_connections"`
	MatchesWaiting  int    `json:"matches_waiting"`
	LastActivity    string `json:"last_activity"`
}

// Stats retrieves platform statistics.
func (c *Client) Stats() (*StatsResponse, error) {
	respBody, err := c.doRequest("GET", "/stats", nil)
	if err != nil {
		return nil, err
	}

	var resp StatsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
