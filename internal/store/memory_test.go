package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routetouni/chatd/internal/models"
)

func TestUpsertUserPreservesCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, models.User{UID: "alice", Name: "Alice"})
	require.NoError(t, err)

	second, err := s.UpsertUser(ctx, models.User{UID: "alice", Name: "Alice B."})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "Alice B.", second.Name)

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice B.", got.Name)

	missing, err := s.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRoomMembership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	creator := models.User{UID: "mentor-1", Name: "Morgan", MentorVerified: true}

	// Duplicates and the creator's own uid collapse into one entry each,
	// creator first.
	room, err := s.CreateRoom(ctx, creator, []string{"alice", "bob", "alice", "mentor-1"}, "study group", models.KindGroup)
	require.NoError(t, err)

	members, err := s.MembersOf(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mentor-1", "alice", "bob"}, members)

	member, err := s.IsMember(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.True(t, member)
	member, err = s.IsMember(ctx, "ghost", room.ID)
	require.NoError(t, err)
	assert.False(t, member)

	_, err = s.CreateRoom(ctx, creator, nil, "empty", models.KindGroup)
	assert.ErrorIs(t, err, ErrInvalidMembers)

	// Random rooms are the one kind allowed to start from the pairing
	// itself rather than an explicit list.
	random, err := s.CreateRoom(ctx, creator, []string{"alice"}, "", models.KindRandom)
	require.NoError(t, err)
	assert.Equal(t, models.KindRandom, random.Kind)
}

func TestRemoveMemberArchivesEmptyRoom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	creator := models.User{UID: "mentor-1", MentorVerified: true}

	room, err := s.CreateRoom(ctx, creator, []string{"alice"}, "", models.KindDirect)
	require.NoError(t, err)

	require.NoError(t, s.RemoveMember(ctx, "alice", room.ID))
	assert.ErrorIs(t, s.RemoveMember(ctx, "alice", room.ID), ErrRoomNotFound)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, got.Archived)

	require.NoError(t, s.RemoveMember(ctx, "mentor-1", room.ID))
	got, err = s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
}

func TestConversationForJoinOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	creator := models.User{UID: "mentor-1", MentorVerified: true}

	first, err := s.CreateRoom(ctx, creator, []string{"alice", "bob"}, "first", models.KindGroup)
	require.NoError(t, err)
	_, err = s.CreateRoom(ctx, creator, []string{"bob"}, "not alices", models.KindDirect)
	require.NoError(t, err)
	second, err := s.CreateRoom(ctx, creator, []string{"alice"}, "second", models.KindDirect)
	require.NoError(t, err)

	summaries, err := s.ConversationFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first.ID, summaries[0].Room.ID)
	assert.Equal(t, second.ID, summaries[1].Room.ID)
	assert.Equal(t, []string{"mentor-1", "alice", "bob"}, summaries[0].Members)
}

func TestAddMessageRequiresRoom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.AddMessage(ctx, &models.Message{RoomID: "0198b5c8-0000-7000-8000-000000000000", Body: "hi"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMessagePaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	creator := models.User{UID: "mentor-1", MentorVerified: true}

	room, err := s.CreateRoom(ctx, creator, []string{"alice"}, "", models.KindDirect)
	require.NoError(t, err)
	roomID := room.ID.String()

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			RoomID:    roomID,
			FromUID:   "alice",
			Body:      fmt.Sprintf("msg %d", i),
			Timestamp: base + int64(i),
		}
		require.NoError(t, s.AddMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
	}

	// Newest first, capped by limit.
	msgs, err := s.GetRoomMessages(ctx, roomID, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg 4", msgs[0].Body)
	assert.Equal(t, "msg 3", msgs[1].Body)

	// before excludes the given timestamp and everything after it.
	msgs, err = s.GetRoomMessages(ctx, roomID, 10, base+3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 2", msgs[0].Body)

	got, err := s.GetMessage(ctx, roomID, msgs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "msg 2", got.Body)
}

func TestSearchMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	creator := models.User{UID: "mentor-1", MentorVerified: true}

	roomA, err := s.CreateRoom(ctx, creator, []string{"alice"}, "a", models.KindGroup)
	require.NoError(t, err)
	roomB, err := s.CreateRoom(ctx, creator, []string{"alice"}, "b", models.KindGroup)
	require.NoError(t, err)

	require.NoError(t, s.AddMessage(ctx, &models.Message{RoomID: roomA.ID.String(), Body: "the deploy pipeline is red"}))
	require.NoError(t, s.AddMessage(ctx, &models.Message{RoomID: roomB.ID.String(), Body: "deploy went fine here"}))
	require.NoError(t, s.AddMessage(ctx, &models.Message{RoomID: roomB.ID.String(), Body: "unrelated chatter"}))

	// All tokens must match.
	msgs, err := s.SearchMessages(ctx, []string{"deploy", "pipeline"}, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, roomA.ID.String(), msgs[0].RoomID)

	// Room filter narrows the scan.
	msgs, err = s.SearchMessages(ctx, []string{"deploy"}, 10, 0, roomB.ID.String())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "deploy went fine here", msgs[0].Body)

	msgs, err = s.SearchMessages(ctx, nil, 10, 0, "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
