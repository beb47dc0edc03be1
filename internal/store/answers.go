package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedAnswer is one reusable answer keyed by normalized field label.
type CachedAnswer struct {
	Value    string    `json:"value"`
	UseCount int       `json:"use_count"`
	LastUsed time.Time `json:"last_used"`
}

// AnswerStore keeps per-user cached form answers in Redis, one hash per user
// keyed by normalized label. These feed the "cached" resolution source.
type AnswerStore struct {
	rdb *redis.Client
}

// NewAnswerStore creates a new AnswerStore
func NewAnswerStore(rdb *redis.Client) *AnswerStore {
	return &AnswerStore{rdb: rdb}
}

func answerKey(userID string) string {
	return "answers:" + userID
}

// Get looks up a cached answer for (userID, normalized label). It bumps the
// use counter on a hit.
func (s *AnswerStore) Get(ctx context.Context, userID, label string) (string, bool, error) {
	raw, err := s.rdb.HGet(ctx, answerKey(userID), label).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cached answer: %w", err)
	}

	var ans CachedAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return "", false, fmt.Errorf("failed to decode cached answer: %w", err)
	}

	ans.UseCount++
	ans.LastUsed = time.Now().UTC()
	if data, err := json.Marshal(ans); err == nil {
		// Bookkeeping only; a failed write does not invalidate the hit.
		s.rdb.HSet(ctx, answerKey(userID), label, data)
	}

	return ans.Value, true, nil
}

// SaveAll persists answers for future lookups. Existing entries keep their
// use count; new entries start at one.
func (s *AnswerStore) SaveAll(ctx context.Context, userID string, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}

	key := answerKey(userID)
	now := time.Now().UTC()

	fields := make(map[string]interface{}, len(answers))
	for label, value := range answers {
		ans := CachedAnswer{Value: value, UseCount: 1, LastUsed: now}

		if raw, err := s.rdb.HGet(ctx, key, label).Result(); err == nil {
			var prev CachedAnswer
			if json.Unmarshal([]byte(raw), &prev) == nil {
				ans.UseCount = prev.UseCount + 1
			}
		}

		data, err := json.Marshal(ans)
		if err != nil {
			return fmt.Errorf("failed to encode cached answer: %w", err)
		}
		fields[label] = data
	}

	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save cached answers: %w", err)
	}

	return nil
}
