package store

import (
	"context"
	"time"

	"github.com/nhle/smtpq/internal/model"
)

// Entry is one journaled result.
type Entry struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	Status     string    `db:"status"`
	Message    string    `db:"message"`
	Subject    string    `db:"subject"`
	Recipients string    `db:"recipients"`
	Action     string    `db:"action"`
	CreatedAt  time.Time `db:"created_at"`
}

// Store defines the persistence interface for the result journal.
type Store interface {
	RecordResult(ctx context.Context, r model.Result) error
	RecentResults(ctx context.Context, limit int) ([]Entry, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	Close() error
}
