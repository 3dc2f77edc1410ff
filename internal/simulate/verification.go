package simulate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/okian/stresstrack/internal/domain/model"
)

// ErrVerification is returned when stored documents disagree with what was generated.
var ErrVerification = errors.New("verification failed")

// verify compares the growth of stored totals with the generated signals and
// checks the listing order. It returns one line per problem.
func verify(before, after []model.Behavior, generated map[string]*SiteTotals) []string {
	var problems []string
	problems = append(problems, verifyOrder(after)...)

	was := totalsBySite(before)
	now := totalsBySite(after)

	sites := make([]string, 0, len(generated))
	for site := range generated {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	for _, site := range sites {
		want := generated[site]
		gotClicks := now[site].Clicks - was[site].Clicks
		gotMoves := now[site].Movements - was[site].Movements
		if gotClicks != want.Clicks {
			problems = append(problems, fmt.Sprintf("%s: stored %d new clicks, generated %d", site, gotClicks, want.Clicks))
		}
		if gotMoves != want.Movements {
			problems = append(problems, fmt.Sprintf("%s: stored %d new movements, generated %d", site, gotMoves, want.Movements))
		}
	}
	return problems
}

// verifyOrder checks documents come newest date first, then by website.
func verifyOrder(docs []model.Behavior) []string {
	var problems []string
	for i := 1; i < len(docs); i++ {
		prev, cur := docs[i-1], docs[i]
		if prev.Date < cur.Date || (prev.Date == cur.Date && prev.Website > cur.Website) {
			problems = append(problems, fmt.Sprintf("entry %d (%s) listed before entry %d (%s)", i-1, prev.Key(), i, cur.Key()))
		}
	}
	return problems
}

func totalsBySite(docs []model.Behavior) map[string]SiteTotals {
	out := make(map[string]SiteTotals)
	for _, d := range docs {
		t := out[d.Website]
		t.Clicks += d.Clicks
		t.Movements += d.MovementCount
		out[d.Website] = t
	}
	return out
}
