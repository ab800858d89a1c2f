// Package storage persists fragments and answer history in SQLite.
package storage

import (
	"context"

	"github.com/hyperjump/tanya/internal/models"
)

// FragmentRepository persists fragment records. Multi-row writes are atomic.
type FragmentRepository interface {
	// SaveFragments upserts fragments by ID. An existing row keeps its insertion order.
	SaveFragments(ctx context.Context, frags []*models.Fragment) error
	// ReplaceSource deletes every fragment of sourceID and inserts frags in one transaction.
	ReplaceSource(ctx context.Context, sourceID string, frags []*models.Fragment) error
	DeleteFragmentsBySource(ctx context.Context, sourceID string) (int, error)
	// LoadFragments returns all fragments in insertion order.
	LoadFragments(ctx context.Context) ([]*models.Fragment, error)
	CountFragments(ctx context.Context) (int64, error)
	Close() error
}

// AnswerRepository persists completed answers.
type AnswerRepository interface {
	SaveAnswer(ctx context.Context, a *models.Answer) error
	// ListAnswers returns the most recent answers first.
	ListAnswers(ctx context.Context, limit int) ([]*models.Answer, error)
	GetAnswer(ctx context.Context, id string) (*models.Answer, error)
}
