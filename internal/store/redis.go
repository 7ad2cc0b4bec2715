package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/routetouni/chatd/internal/metrics"
	"github.com/routetouni/chatd/internal/models"
)

const searchTTL = 24 * time.Hour

// RedisStore handles Redis operations for message history, the search index
// and rate limiting. Room history has no TTL: a reconnecting user must be
// able to recover full context from the store alone.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for the rate-limit middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// searchWordKey returns the key for a search word index.
func searchWordKey(word string) string {
	return fmt.Sprintf("search:words:%s", strings.ToLower(word))
}

// AddMessage stores a message in Redis. The message is durable once this
// returns nil; callers must not broadcast before that.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	// Generate ULID if not set
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	// Set timestamp if not set
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	// Serialize message
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)

	// Add to sorted set
	start := time.Now()
	defer func() {
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}()
	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	// Index for search
	if err := s.IndexMessage(ctx, msg); err != nil {
		// Log but don't fail - search indexing is best-effort
		_ = err
	}

	return nil
}

// GetRoomMessages retrieves messages from a room.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	key := roomMessagesKey(roomID)

	var maxScore string
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	} else {
		maxScore = "+inf"
	}

	// Get messages in reverse order (newest first)
	results, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// GetMessage retrieves a specific message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error) {
	key := roomMessagesKey(roomID)

	// Get all messages and find the one with matching ID
	results, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == msgID {
			return &msg, nil
		}
	}

	return nil, nil
}

// wordRegex matches word characters for search indexing.
var wordRegex = regexp.MustCompile(`\w+`)

// IndexMessage indexes a message for search.
func (s *RedisStore) IndexMessage(ctx context.Context, msg *models.Message) error {
	// Tokenize body
	words := wordRegex.FindAllString(strings.ToLower(msg.Body), -1)

	// Deduplicate words
	seen := make(map[string]bool)
	for _, word := range words {
		if len(word) < 3 || seen[word] {
			continue
		}
		seen[word] = true

		key := searchWordKey(word)
		ref := fmt.Sprintf("%s:%s", msg.RoomID, msg.ID)

		// Add to search index
		s.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(msg.Timestamp),
			Member: ref,
		})
		s.client.Expire(ctx, key, searchTTL)
	}

	return nil
}

// Tokenize splits a query into indexable search tokens.
func Tokenize(query string) []string {
	return wordRegex.FindAllString(strings.ToLower(query), -1)
}

// SearchMessages searches for messages with filters.
func (s *RedisStore) SearchMessages(ctx context.Context, tokens []string, limit int, after int64, roomFilter string) ([]models.Message, error) {
	if len(tokens) == 0 {
		return []models.Message{}, nil
	}

	// Build keys for all tokens
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = searchWordKey(t)
	}

	var refs []string

	if len(keys) == 1 {
		// Single word: simple range query
		minScore := "-inf"
		if after > 0 {
			minScore = fmt.Sprintf("(%d", after) // exclusive
		}

		refs, _ = s.client.ZRevRangeByScore(ctx, keys[0], &redis.ZRangeBy{
			Min:   minScore,
			Max:   "+inf",
			Count: int64(limit * 3), // Fetch extra for filtering
		}).Result()
	} else {
		// Multiple words: use ZINTER
		tempKey := fmt.Sprintf("search:temp:%d", time.Now().UnixNano())

		s.client.ZInterStore(ctx, tempKey, &redis.ZStore{
			Keys:      keys,
			Aggregate: "MIN",
		})
		s.client.Expire(ctx, tempKey, 10*time.Second)

		// Get results with time filter
		minScore := "-inf"
		if after > 0 {
			minScore = fmt.Sprintf("(%d", after)
		}

		refs, _ = s.client.ZRevRangeByScore(ctx, tempKey, &redis.ZRangeBy{
			Min:   minScore,
			Max:   "+inf",
			Count: int64(limit * 3),
		}).Result()

		s.client.Del(ctx, tempKey)
	}

	// Fetch actual messages with filtering
	messages := make([]models.Message, 0, limit)
	for _, ref := range refs {
		parts := strings.SplitN(ref, ":", 2)
		if len(parts) != 2 {
			continue
		}
		roomID, msgID := parts[0], parts[1]

		// Room filter
		if roomFilter != "" && roomID != roomFilter {
			continue
		}

		// Fetch message
		msg, err := s.GetMessage(ctx, roomID, msgID)
		if err != nil || msg == nil {
			continue // Message expired
		}

		messages = append(messages, *msg)

		if len(messages) >= limit {
			break
		}
	}

	return messages, nil
}
