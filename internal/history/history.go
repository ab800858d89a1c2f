// Package history keeps completed answers so they can be listed and reopened later.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 20

// Store persists completed answers.
type Store interface {
	Save(ctx context.Context, a *models.Answer) error
	// List returns up to limit answers, newest first.
	List(ctx context.Context, limit int) ([]*models.Answer, error)
	// Get returns models.ErrNotFound when id is unknown or expired.
	Get(ctx context.Context, id string) (*models.Answer, error)
	Close() error
}

// New returns the backend selected by cfg.History.Backend. The sqlite backend
// writes through answers, which the caller keeps ownership of.
func New(cfg *config.Config, answers storage.AnswerRepository, logger *zap.Logger) (Store, error) {
	switch cfg.History.Backend {
	case "", "sqlite":
		if answers == nil {
			return nil, fmt.Errorf("sqlite history needs an answer repository")
		}
		return NewSQLiteHistory(answers), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.History.RedisAddr,
			DB:   cfg.History.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis %s: %w: %w", cfg.History.RedisAddr, models.ErrStorageUnavailable, err)
		}
		ttl := time.Duration(cfg.History.TTLHours) * time.Hour
		return NewRedisHistory(client, ttl, WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
