// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	repository "github.com/okian/stresstrack/internal/adapters/repository"
	"github.com/okian/stresstrack/internal/domain/dedupe"
	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/internal/domain/scoring"
	"github.com/okian/stresstrack/pkg/logger"
	"github.com/okian/stresstrack/pkg/metrics"
)

// Service merges behavior records into the store and keeps their stress score current.
type Service struct {
	mu sync.RWMutex

	store   repository.Store
	deduper dedupe.Deduper
	scorer  scoring.Scorer

	metricsInterval time.Duration

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the behavior store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDeduper sets the batch id tracker.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithScorer sets the stress scorer.
func WithScorer(scorer scoring.Scorer) Option {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsInterval sets how often the document gauge is refreshed.
func WithMetricsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.metricsInterval = d
		}
	}
}

// New constructs a Service. Without options it runs on an in-memory store.
func New(opts ...Option) *Service {
	s := &Service{
		store:           repository.NewMemoryStore(),
		deduper:         dedupe.NewInMemoryDeduper(),
		scorer:          scoring.New(),
		metricsInterval: 5 * time.Second,
		stopCh:          make(chan struct{}),
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches background metric refresh. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.startMetricsUpdater(ctx)
	s.started = true
	s.logger.Info(ctx, "behavior service started")
	return nil
}

// Stop halts background work and closes the store connection.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	s.started = false

	if err := s.store.Close(ctx); err != nil {
		s.logger.Error(ctx, "failed to close store", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "behavior service stopped")
	return nil
}

// Track validates rec and merges it into the document for its (website, date).
// A non-empty batchID that was already merged returns the stored document
// with duplicate set and does not merge again.
func (s *Service) Track(ctx context.Context, batchID string, rec model.BehaviorRecord) (doc model.Behavior, duplicate bool, err error) {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		reason := "invalid"
		if errors.Is(err, model.ErrMissingKey) {
			reason = "missing_key"
		}
		metrics.RecordRejected(reason)
		return model.Behavior{}, false, err
	}

	if batchID != "" {
		seen, derr := s.deduper.SeenAndRecord(ctx, batchID)
		switch {
		case derr != nil:
			// Merge anyway: losing idempotency is better than losing the batch.
			s.logger.Warn(ctx, "batch dedupe unavailable", logger.String("batch_id", batchID), logger.Error(derr))
			metrics.RecordErrorByComponent("dedupe", "unavailable")
			batchID = ""
		case seen:
			metrics.RecordDuplicate()
			return s.duplicate(ctx, rec)
		}
	}

	doc, err = s.store.Merge(ctx, rec)
	if err != nil {
		if batchID != "" {
			if uerr := s.deduper.Unrecord(ctx, batchID); uerr != nil {
				s.logger.Warn(ctx, "failed to unrecord batch", logger.String("batch_id", batchID), logger.Error(uerr))
			}
		}
		metrics.RecordErrorByComponent("store", "merge_failed")
		s.logger.Error(ctx, "merge failed", logger.String("key", rec.Key().String()), logger.Error(err))
		return model.Behavior{}, false, err
	}

	score := s.scorer.Score(scoring.InputOf(doc))
	written, err := s.store.SetScore(ctx, doc.Key(), doc.Revision, score)
	if err != nil {
		// The batch stays recorded: a retry must not merge it twice.
		metrics.RecordErrorByComponent("store", "score_failed")
		s.logger.Error(ctx, "score write failed", logger.String("key", doc.Key().String()), logger.Error(err))
		return model.Behavior{}, false, err
	}
	if !written {
		metrics.RecordScoreWriteSkipped()
		s.logger.Debug(ctx, "score superseded by a newer merge",
			logger.String("key", doc.Key().String()),
			logger.Int64("revision", doc.Revision),
		)
	}
	doc.StressScore = score

	metrics.RecordIngested(len(rec.MouseMovements))
	metrics.RecordStressScore(score)
	s.logger.Debug(ctx, "behavior merged",
		logger.String("key", doc.Key().String()),
		logger.Int64("revision", doc.Revision),
		logger.Float64("stress_score", score),
	)
	return doc, false, nil
}

// duplicate answers a replayed batch with the current stored state.
func (s *Service) duplicate(ctx context.Context, rec model.BehaviorRecord) (model.Behavior, bool, error) {
	doc, err := s.store.Get(ctx, rec.Key())
	if errors.Is(err, repository.ErrNotFound) {
		// The first delivery is still in flight.
		return model.Behavior{Website: rec.Website, Date: rec.Date, MouseMovements: []model.MouseMovement{}}, true, nil
	}
	if err != nil {
		return model.Behavior{}, false, err
	}
	return doc, true, nil
}

// All returns every stored document, newest date first.
func (s *Service) All(ctx context.Context) ([]model.Behavior, error) {
	docs, err := s.store.All(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("store", "find_failed")
		return nil, err
	}
	return docs, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        started,
		"trackedBatches": s.deduper.Size(ctx),
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["documents"] = n
		metrics.UpdateDocumentsTotal(n)
	} else {
		stats["documentsError"] = err.Error()
	}
	return stats
}

// startMetricsUpdater refreshes gauges until Stop. Must be called with s.mu held.
func (s *Service) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *Service) updateMetrics(ctx context.Context) {
	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdateDocumentsTotal(n)
	}
}
