package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

var _ Store = (*SQLiteHistory)(nil)

// SQLiteHistory stores answers in the answers table next to the fragments.
type SQLiteHistory struct {
	repo storage.AnswerRepository
}

// NewSQLiteHistory wraps an answer repository.
func NewSQLiteHistory(repo storage.AnswerRepository) *SQLiteHistory {
	return &SQLiteHistory{repo: repo}
}

func (h *SQLiteHistory) Save(ctx context.Context, a *models.Answer) error {
	if err := h.repo.SaveAnswer(ctx, a); err != nil {
		return fmt.Errorf("save answer %s: %w: %w", a.ID, models.ErrStorageUnavailable, err)
	}
	return nil
}

func (h *SQLiteHistory) List(ctx context.Context, limit int) ([]*models.Answer, error) {
	answers, err := h.repo.ListAnswers(ctx, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list answers: %w: %w", models.ErrStorageUnavailable, err)
	}
	return answers, nil
}

func (h *SQLiteHistory) Get(ctx context.Context, id string) (*models.Answer, error) {
	a, err := h.repo.GetAnswer(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrStorageCorruption) {
			return nil, err
		}
		return nil, fmt.Errorf("get answer %s: %w: %w", id, models.ErrStorageUnavailable, err)
	}
	return a, nil
}

// Close is a no-op; the repository is closed by its owner.
func (h *SQLiteHistory) Close() error { return nil }
