package simulate

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/okian/stresstrack/internal/domain/model"
)

// RenderDocuments writes stored documents as a table, in the order given.
func RenderDocuments(w io.Writer, docs []model.Behavior) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Date", "Website", "Clicks", "Scroll Dist", "Scroll Speed", "Time (s)", "Moves", "Stress"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})

	for _, d := range docs {
		t.AppendRow(table.Row{
			d.Date,
			d.Website,
			d.Clicks,
			formatFloat(d.ScrollDistance),
			formatFloat(d.ScrollSpeed),
			formatFloat(d.TimeSpent),
			d.MovementCount,
			formatFloat(d.StressScore),
		})
	}
	t.AppendFooter(table.Row{"", "Total", len(docs)})
	t.Render()
}

// RenderStats writes the per-site generated totals and any mismatches.
func RenderStats(w io.Writer, s *Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Website", "Pages", "Clicks", "Moves", "Scrolls"})

	sites := make([]string, 0, len(s.Generated))
	for site := range s.Generated {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	for _, site := range sites {
		g := s.Generated[site]
		t.AppendRow(table.Row{site, g.Pages, g.Clicks, g.Movements, g.Scrolls})
	}
	t.AppendFooter(table.Row{"Duration", s.Duration.Round(time.Millisecond).String(), "", "Events/s", formatFloat(s.EventsPerSec)})
	t.Render()

	if len(s.Mismatches) == 0 {
		return
	}
	m := table.NewWriter()
	m.SetOutputMirror(w)
	m.SetStyle(table.StyleLight)
	m.AppendHeader(table.Row{"Mismatch"})
	for _, line := range s.Mismatches {
		m.AppendRow(table.Row{line})
	}
	m.Render()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
