package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/stresstrack/internal/adapters/http/client"
	"github.com/okian/stresstrack/internal/collector/observer"
	"github.com/okian/stresstrack/internal/collector/relay"
	"github.com/okian/stresstrack/pkg/logger"
)

const (
	directoryPermission = 0750
	filePermission      = 0640
	relayDrainTimeout   = 30 * time.Second
)

type navigator interface {
	NavigationComplete(ctx context.Context, tabID, rawURL string) (*observer.Observer, error)
	CloseTab(tabID string)
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the run logger.
func WithLogger(l logger.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

type runner struct {
	logger logger.Logger
}

// Run executes one simulation and verifies the server's stored documents.
// A verification failure is returned as an error alongside the stats.
func Run(ctx context.Context, cfg *Config, opts ...Option) (*Stats, error) {
	r := &runner{logger: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = DefaultSites
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	stats := &Stats{Tabs: cfg.Tabs, StartTime: time.Now()}
	r.logger.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("tabs", cfg.Tabs),
		logger.Int("pages", cfg.Pages),
		logger.Int("eventsPerPage", cfg.EventsPerPage),
		logger.Any("seed", seed),
	)

	api := client.New(cfg.BaseURL, client.WithTimeout(cfg.Timeout))

	// Step 1: check service health
	if err := api.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: snapshot what is already stored
	before, err := api.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot failed: %w", err)
	}

	// Step 3: browse
	rl := relay.New(api,
		relay.WithWorkers(cfg.Workers),
		relay.WithAckTimeout(cfg.AckTimeout),
		relay.WithLogger(r.logger),
		relay.WithObserverOptions(
			observer.WithSampleInterval(0),
			observer.WithMaxSamples(max(cfg.EventsPerPage, observer.DefaultMaxSamples)),
		),
	)
	rl.Start(ctx)

	generated := newTally()
	g, gctx := errgroup.WithContext(ctx)
	for tab := 0; tab < cfg.Tabs; tab++ {
		g.Go(func() error {
			return browse(gctx, rl, cfg, tab, seed, generated)
		})
	}
	browseErr := g.Wait()

	// Step 4: drain the relay even when browsing failed
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayDrainTimeout)
	defer cancel()
	if err := rl.Stop(drainCtx); err != nil {
		return nil, fmt.Errorf("relay drain failed: %w", err)
	}
	if browseErr != nil {
		return nil, fmt.Errorf("browsing failed: %w", browseErr)
	}

	// Step 5: verify
	after, err := api.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("final snapshot failed: %w", err)
	}
	stats.Generated = generated.sites
	for _, t := range generated.sites {
		stats.PageLoads += t.Pages
	}
	stats.Documents = len(after)
	stats.Mismatches = verify(before, after, generated.sites)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	if stats.Duration > 0 {
		stats.EventsPerSec = float64(stats.totalEvents()) / stats.Duration.Seconds()
	}

	// Step 6: save the report
	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, stats); err != nil {
			r.logger.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}

	r.logger.Info(ctx, "simulation finished",
		logger.Int("pageLoads", stats.PageLoads),
		logger.Int("documents", stats.Documents),
		logger.Int("mismatches", len(stats.Mismatches)),
		logger.String("duration", stats.Duration.String()),
	)
	if len(stats.Mismatches) > 0 {
		return stats, fmt.Errorf("%w: %d problems", ErrVerification, len(stats.Mismatches))
	}
	return stats, nil
}

// saveReport writes stats as indented JSON.
func saveReport(filename string, stats *Stats) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
