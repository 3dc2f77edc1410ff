package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/okian/stresstrack/internal/collector/observer"
)

// Event kinds in the order of their relative frequency.
const (
	kindMove = iota
	kindScroll
	kindClick
)

// session generates interaction events for one tab.
type session struct {
	rng *rand.Rand
	y   float64
}

func newSession(seed uint64, tab int) *session {
	return &session{rng: rand.New(rand.NewPCG(seed, uint64(tab)))}
}

// kind picks the next event: mostly moves, some scrolls, few clicks.
func (s *session) kind() int {
	switch n := s.rng.IntN(100); {
	case n < 80:
		return kindMove
	case n < 95:
		return kindScroll
	default:
		return kindClick
	}
}

// drive feeds events into obs and returns what it generated.
func (s *session) drive(obs *observer.Observer, events int) SiteTotals {
	var t SiteTotals
	for i := 0; i < events; i++ {
		switch s.kind() {
		case kindMove:
			obs.MouseMove(float64(s.rng.IntN(1920)), float64(s.rng.IntN(1080)))
			t.Movements++
		case kindScroll:
			s.y += float64(s.rng.IntN(400) - 100)
			if s.y < 0 {
				s.y = 0
			}
			obs.Scroll(s.y)
			t.Scrolls++
		case kindClick:
			obs.Click()
			t.Clicks++
		}
	}
	return t
}

func (s *session) site(sites []string) string {
	return sites[s.rng.IntN(len(sites))]
}

// tally aggregates per-site totals across tabs.
type tally struct {
	mu    sync.Mutex
	sites map[string]*SiteTotals
}

func newTally() *tally {
	return &tally{sites: make(map[string]*SiteTotals)}
}

func (t *tally) add(site string, s SiteTotals) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.sites[site]
	if !ok {
		cur = &SiteTotals{}
		t.sites[site] = cur
	}
	cur.Clicks += s.Clicks
	cur.Movements += s.Movements
	cur.Scrolls += s.Scrolls
	cur.Pages++
}

// browse runs one tab through its page loads.
func browse(ctx context.Context, r navigator, cfg *Config, tab int, seed uint64, out *tally) error {
	s := newSession(seed, tab)
	tabID := fmt.Sprintf("tab-%d", tab)
	for page := 0; page < cfg.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		site := s.site(cfg.Sites)
		obs, err := r.NavigationComplete(ctx, tabID, fmt.Sprintf("https://%s/page-%d", site, page))
		if err != nil {
			return fmt.Errorf("%s: %w", tabID, err)
		}
		out.add(site, s.drive(obs, cfg.EventsPerPage))
		// A failed flush stays pending inside the observer and is posted on unload.
		if err := obs.Flush(ctx); errors.Is(err, observer.ErrStopped) {
			return fmt.Errorf("%s flush: %w", tabID, err)
		}
	}
	r.CloseTab(tabID)
	return nil
}
