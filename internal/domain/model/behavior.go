// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DateLayout is the calendar-date form used as half of the storage key.
// Dates must stay in this form for lexicographic ordering to match time ordering.
const DateLayout = "2006-01-02"

// Validation errors.
var (
	// ErrMissingKey is returned when website or date is absent.
	ErrMissingKey = errors.New("website and date are required")
	// ErrInvalidRecord is returned when a counter would break monotonic accumulation.
	ErrInvalidRecord = errors.New("invalid behavior record")
)

// MouseMovement is a single pointer sample. T is Unix milliseconds.
type MouseMovement struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
	T int64   `json:"t" bson:"t"`
}

// BehaviorRecord is the unit emitted by a page observer and merged into storage.
type BehaviorRecord struct {
	Website        string          `json:"website"`
	Date           string          `json:"date"`
	MouseMovements []MouseMovement `json:"mouseMovements"`
	Clicks         int64           `json:"clicks"`
	ScrollDistance float64         `json:"scrollDistance"`
	ScrollSpeed    float64         `json:"scrollSpeed"`
	TimeSpent      float64         `json:"timeSpent"`
}

// Key returns the (website, date) pair identifying the stored document.
func (r BehaviorRecord) Key() Key {
	return Key{Website: r.Website, Date: r.Date}
}

// Normalize trims surrounding whitespace from the key fields.
func (r *BehaviorRecord) Normalize() {
	r.Website = strings.TrimSpace(r.Website)
	r.Date = strings.TrimSpace(r.Date)
}

// Validate checks the record can be merged without breaking stored invariants.
func (r BehaviorRecord) Validate() error {
	if strings.TrimSpace(r.Website) == "" || strings.TrimSpace(r.Date) == "" {
		return ErrMissingKey
	}
	switch {
	case r.Clicks < 0:
		return fmt.Errorf("%w: clicks must not be negative", ErrInvalidRecord)
	case r.ScrollDistance < 0:
		return fmt.Errorf("%w: scrollDistance must not be negative", ErrInvalidRecord)
	case r.TimeSpent < 0:
		return fmt.Errorf("%w: timeSpent must not be negative", ErrInvalidRecord)
	}
	return nil
}

// HasSignal reports whether any interaction signal is non-zero.
func (r BehaviorRecord) HasSignal() bool {
	return len(r.MouseMovements) > 0 || r.Clicks > 0 || r.ScrollDistance > 0 || r.TimeSpent > 0
}

// Key identifies one stored behavior document.
type Key struct {
	Website string
	Date    string
}

func (k Key) String() string {
	return k.Website + "@" + k.Date
}

// DateOf formats t as a storage date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// Behavior is the stored, cumulative document for one (website, date).
//
// MouseMovements may be a capped tail of everything ever merged; the
// Movement* summary fields always cover the full history.
type Behavior struct {
	ID             primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Website        string             `json:"website" bson:"website"`
	Date           string             `json:"date" bson:"date"`
	MouseMovements []MouseMovement    `json:"mouseMovements" bson:"mouseMovements"`
	Clicks         int64              `json:"clicks" bson:"clicks"`
	ScrollDistance float64            `json:"scrollDistance" bson:"scrollDistance"`
	ScrollSpeed    float64            `json:"scrollSpeed" bson:"scrollSpeed"`
	TimeSpent      float64            `json:"timeSpent" bson:"timeSpent"`
	StressScore    float64            `json:"stressScore" bson:"stressScore"`
	MovementCount  int64              `json:"movementCount" bson:"movementCount"`
	MovementMinX   float64            `json:"movementMinX" bson:"movementMinX"`
	MovementMaxX   float64            `json:"movementMaxX" bson:"movementMaxX"`
	Revision       int64              `json:"revision" bson:"revision"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Key returns the document's (website, date) pair.
func (b Behavior) Key() Key {
	return Key{Website: b.Website, Date: b.Date}
}

// Stats returns the running movement summary.
func (b Behavior) Stats() MovementStats {
	return MovementStats{Count: b.MovementCount, MinX: b.MovementMinX, MaxX: b.MovementMaxX}
}

// MovementStats summarizes the x coordinates of a movement history.
// MinX and MaxX are meaningless while Count is zero.
type MovementStats struct {
	Count int64
	MinX  float64
	MaxX  float64
}

// StatsOf summarizes moves.
func StatsOf(moves []MouseMovement) MovementStats {
	var s MovementStats
	for i, m := range moves {
		if i == 0 || m.X < s.MinX {
			s.MinX = m.X
		}
		if i == 0 || m.X > s.MaxX {
			s.MaxX = m.X
		}
	}
	s.Count = int64(len(moves))
	return s
}

// Merge combines two summaries as if their histories were concatenated.
func (s MovementStats) Merge(o MovementStats) MovementStats {
	switch {
	case o.Count == 0:
		return s
	case s.Count == 0:
		return o
	}
	out := MovementStats{Count: s.Count + o.Count, MinX: s.MinX, MaxX: s.MaxX}
	if o.MinX < out.MinX {
		out.MinX = o.MinX
	}
	if o.MaxX > out.MaxX {
		out.MaxX = o.MaxX
	}
	return out
}

// Spread is max(x)-min(x), or 0 with fewer than two samples.
func (s MovementStats) Spread() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.MaxX - s.MinX
}

// Batch is one frozen observation window together with its idempotency id.
type Batch struct {
	ID     string
	Record BehaviorRecord
}
