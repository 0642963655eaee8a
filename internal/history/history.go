// Package history keeps per-session chat history in Redis for sessions that
// generate with memory enabled.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teamgate-io/teamgate/internal/provider"
)

// defaultTTL bounds how long an idle session keeps its history.
const defaultTTL = 7 * 24 * time.Hour

// maxMessages caps the history length per session; older turns are trimmed.
const maxMessages = 100

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return &Store{
		client: redis.NewClient(opt),
		ttl:    defaultTTL,
	}, nil
}

func key(teamID, sessionID string) string {
	return fmt.Sprintf("history:team:%s:session:%s", teamID, sessionID)
}

// Append stores messages at the tail of the session history, trims to the
// cap and refreshes the TTL.
func (s *Store) Append(ctx context.Context, teamID, sessionID string, messages ...provider.Message) error {
	if len(messages) == 0 {
		return nil
	}

	encoded := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
	}

	k := key(teamID, sessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, k, encoded...)
	pipe.LTrim(ctx, k, -maxMessages, -1)
	pipe.Expire(ctx, k, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the session history in order.
func (s *Store) Load(ctx context.Context, teamID, sessionID string) ([]provider.Message, error) {
	items, err := s.client.LRange(ctx, key(teamID, sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]provider.Message, 0, len(items))
	for _, item := range items {
		var m provider.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Clear drops the session history.
func (s *Store) Clear(ctx context.Context, teamID, sessionID string) error {
	return s.client.Del(ctx, key(teamID, sessionID)).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
