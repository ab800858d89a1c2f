package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

var _ Store = (*RedisHistory)(nil)

const (
	answerPrefix = "tanya:answer:"
	answerList   = "tanya:answers"
	// maxEntries bounds the id list; older ids are trimmed on save.
	maxEntries = 1000
)

// RedisHistory stores each answer as a JSON string with a TTL and keeps the ids,
// newest first, in a list. Ids whose entry has expired are pruned lazily by List.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a RedisHistory.
type RedisOption func(*RedisHistory)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) RedisOption {
	return func(h *RedisHistory) { h.logger = l }
}

// NewRedisHistory creates a history on client. A non-positive ttl keeps entries forever.
func NewRedisHistory(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisHistory {
	h := &RedisHistory{client: client, ttl: ttl}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = utils.NopIfNil(h.logger)
	return h
}

func (h *RedisHistory) Save(ctx context.Context, a *models.Answer) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	ttl := h.ttl
	if ttl < 0 {
		ttl = 0
	}
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, answerPrefix+a.ID, data, ttl)
	pipe.LRem(ctx, answerList, 0, a.ID)
	pipe.LPush(ctx, answerList, a.ID)
	pipe.LTrim(ctx, answerList, 0, maxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer %s: %w: %w", a.ID, models.ErrStorageUnavailable, err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, limit int) ([]*models.Answer, error) {
	limit = limitOrDefault(limit)
	ids, err := h.client.LRange(ctx, answerList, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %w: %w", models.ErrStorageUnavailable, err)
	}
	out := make([]*models.Answer, 0, min(limit, len(ids)))
	var expired []string
	for start := 0; start < len(ids) && len(out) < limit; start += limit {
		batch := ids[start:min(start+limit, len(ids))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = answerPrefix + id
		}
		vals, err := h.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("list answers: %w: %w", models.ErrStorageUnavailable, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				expired = append(expired, batch[i])
				continue
			}
			if len(out) == limit {
				break
			}
			var a models.Answer
			if err := json.Unmarshal([]byte(s), &a); err != nil {
				return nil, fmt.Errorf("%w: answer %s: %w", models.ErrStorageCorruption, batch[i], err)
			}
			out = append(out, &a)
		}
	}
	h.prune(ctx, expired)
	return out, nil
}

func (h *RedisHistory) prune(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	pipe := h.client.Pipeline()
	for _, id := range ids {
		pipe.LRem(ctx, answerList, 0, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		h.logger.Warn("prune expired answers", zap.Error(err))
		return
	}
	h.logger.Debug("pruned expired answers", zap.Int("count", len(ids)))
}

func (h *RedisHistory) Get(ctx context.Context, id string) (*models.Answer, error) {
	data, err := h.client.Get(ctx, answerPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("answer %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get answer %s: %w: %w", id, models.ErrStorageUnavailable, err)
	}
	var a models.Answer
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: answer %s: %w", models.ErrStorageCorruption, id, err)
	}
	return &a, nil
}

// Close closes the Redis client.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
