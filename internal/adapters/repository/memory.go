package repository

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/metrics"
)

// MemoryStore keeps documents in process memory. Used for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[model.Key]*model.Behavior
	closed bool
	cfg    settings
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		docs: make(map[model.Key]*model.Behavior),
		cfg:  newSettings(opts),
	}
}

// Merge implements Store.Merge under a single write lock.
func (s *MemoryStore) Merge(_ context.Context, rec model.BehaviorRecord) (model.Behavior, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("merge", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.Behavior{}, ErrClosed
	}

	now := s.cfg.now().UTC()
	key := rec.Key()
	doc, ok := s.docs[key]
	if !ok {
		doc = &model.Behavior{
			ID:             primitive.NewObjectID(),
			Website:        rec.Website,
			Date:           rec.Date,
			MouseMovements: []model.MouseMovement{},
			CreatedAt:      now,
		}
		s.docs[key] = doc
		metrics.UpdateDocumentsTotal(len(s.docs))
	}

	doc.MouseMovements = capTail(append(doc.MouseMovements, rec.MouseMovements...), s.cfg.movementCap)
	doc.Clicks += rec.Clicks
	doc.ScrollDistance += rec.ScrollDistance
	doc.TimeSpent += rec.TimeSpent
	doc.ScrollSpeed = rec.ScrollSpeed

	stats := doc.Stats().Merge(model.StatsOf(rec.MouseMovements))
	doc.MovementCount, doc.MovementMinX, doc.MovementMaxX = stats.Count, stats.MinX, stats.MaxX

	doc.Revision++
	doc.UpdatedAt = now

	return clone(doc), nil
}

// SetScore implements Store.SetScore.
func (s *MemoryStore) SetScore(_ context.Context, key model.Key, revision int64, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return false, ErrNotFound
	}
	if doc.Revision != revision {
		return false, nil
	}
	doc.StressScore = score
	return true, nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key model.Key) (model.Behavior, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.Behavior{}, ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return model.Behavior{}, ErrNotFound
	}
	return clone(doc), nil
}

// All implements Store.All.
func (s *MemoryStore) All(_ context.Context) ([]model.Behavior, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("find_all", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Behavior, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, clone(doc))
	}
	sortBehaviors(out)
	return out, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Ping implements Store.Ping.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.Close. Later calls fail with ErrClosed.
func (s *MemoryStore) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// capTail keeps the newest n samples; n <= 0 keeps all.
func capTail(moves []model.MouseMovement, n int) []model.MouseMovement {
	if n <= 0 || len(moves) <= n {
		return moves
	}
	out := make([]model.MouseMovement, n)
	copy(out, moves[len(moves)-n:])
	return out
}

func clone(doc *model.Behavior) model.Behavior {
	out := *doc
	out.MouseMovements = append([]model.MouseMovement(nil), doc.MouseMovements...)
	if out.MouseMovements == nil {
		out.MouseMovements = []model.MouseMovement{}
	}
	return out
}
