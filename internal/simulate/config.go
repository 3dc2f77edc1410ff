// Package simulate drives synthetic browsing sessions through real page
// observers and a relay against a running server, then checks what the
// server stored.
package simulate

import (
	"fmt"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Sites         []string      // Hostnames the simulated tabs visit
	Tabs          int           // Concurrent tabs
	Pages         int           // Navigations per tab
	EventsPerPage int           // Interaction events per page load
	Workers       int           // Relay forwarding workers
	Timeout       time.Duration // HTTP request timeout
	AckTimeout    time.Duration // How long an observer waits for the relay
	OutputFile    string        // Optional JSON report destination
	Seed          uint64        // Random seed; 0 picks one
}

// DefaultSites are visited when Config.Sites is empty.
var DefaultSites = []string{"example.com", "news.example.org", "docs.example.net", "shop.example.io"}

// DefaultConfig returns a small run suitable for a local server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:3000",
		Sites:         DefaultSites,
		Tabs:          4,
		Pages:         3,
		EventsPerPage: 200,
		Workers:       4,
		Timeout:       10 * time.Second,
		AckTimeout:    15 * time.Second,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base url is required")
	case c.Tabs < 1:
		return fmt.Errorf("tabs must be positive, got %d", c.Tabs)
	case c.Pages < 1:
		return fmt.Errorf("pages must be positive, got %d", c.Pages)
	case c.EventsPerPage < 0:
		return fmt.Errorf("events per page must not be negative, got %d", c.EventsPerPage)
	}
	return nil
}

// SiteTotals are the signals generated for one website.
type SiteTotals struct {
	Clicks    int64 `json:"clicks"`
	Movements int64 `json:"movements"`
	Scrolls   int64 `json:"scrolls"`
	Pages     int   `json:"pages"`
}

// Stats holds run statistics.
type Stats struct {
	Tabs         int                    `json:"tabs"`
	PageLoads    int                    `json:"pageLoads"`
	Generated    map[string]*SiteTotals `json:"generated"`
	Documents    int                    `json:"documents"`
	Mismatches   []string               `json:"mismatches,omitempty"`
	StartTime    time.Time              `json:"startTime"`
	EndTime      time.Time              `json:"endTime"`
	Duration     time.Duration          `json:"duration"`
	EventsPerSec float64                `json:"eventsPerSecond"`
}

func (s *Stats) totalEvents() int64 {
	var n int64
	for _, t := range s.Generated {
		n += t.Clicks + t.Movements + t.Scrolls
	}
	return n
}
