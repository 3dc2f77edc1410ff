// Package repository defines the behavior store interface and its implementations.
package repository

import (
	"context"
	"sort"

	"github.com/okian/stresstrack/internal/domain/model"
)

// Store provides read/write access to cumulative behavior documents.
// One document exists per (website, date); documents are never deleted.
type Store interface {
	// Merge atomically folds rec into the document for rec.Key(), creating it
	// if absent: movements are appended, clicks/scrollDistance/timeSpent are
	// added, scrollSpeed is overwritten. Returns the post-merge document.
	Merge(ctx context.Context, rec model.BehaviorRecord) (model.Behavior, error)

	// SetScore stores score on the document only if its revision still equals
	// revision. Returns false when a later merge superseded it.
	SetScore(ctx context.Context, key model.Key, revision int64, score float64) (bool, error)

	// Get returns the document for key or ErrNotFound.
	Get(ctx context.Context, key model.Key) (model.Behavior, error)

	// All returns every document, newest date first.
	All(ctx context.Context) ([]model.Behavior, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing connection.
	Close(ctx context.Context) error
}

// sortBehaviors orders by date descending, then website ascending.
// Dates are YYYY-MM-DD so string order is calendar order.
func sortBehaviors(docs []model.Behavior) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Date != docs[j].Date {
			return docs[i].Date > docs[j].Date
		}
		return docs[i].Website < docs[j].Website
	})
}
