package feedback

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Direction is the sign of a vote.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var ErrInvalidDirection = errors.New("vote direction must be up or down")

// ParseDirection accepts "up"/"down" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", ErrInvalidDirection
	}
}

// Counter holds the votes for one label.
type Counter struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// LabelCount pairs a label with its counter for ordered listings.
type LabelCount struct {
	Label string `json:"label"`
	Counter
}

// Tally keeps per-label vote counts for a single session. It is safe for
// concurrent use; counters only ever grow.
type Tally struct {
	mu     sync.Mutex
	counts map[string]*Counter
}

func NewTally() *Tally {
	return &Tally{counts: make(map[string]*Counter)}
}

// RecordVote adds one vote and returns the label's counter after the update.
func (t *Tally) RecordVote(label string, dir Direction) (Counter, error) {
	if dir != Up && dir != Down {
		return Counter{}, ErrInvalidDirection
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counts[label]
	if !ok {
		c = &Counter{}
		t.counts[label] = c
	}
	if dir == Up {
		c.Up++
	} else {
		c.Down++
	}
	return *c, nil
}

// Counts returns the counter for label; unseen labels read as zero.
func (t *Tally) Counts(label string) Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counts[label]; ok {
		return *c
	}
	return Counter{}
}

// Snapshot lists every referenced label sorted by name.
func (t *Tally) Snapshot() []LabelCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LabelCount, 0, len(t.counts))
	for l, c := range t.counts {
		out = append(out, LabelCount{Label: l, Counter: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
