package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"image-labeler-be/pkg/feedback"
	"image-labeler-be/pkg/oracle"
)

// ErrSessionBusy is returned when a session's previous analysis did not
// finish before the caller gave up waiting.
var ErrSessionBusy = errors.New("another analysis is still running for this session")

// Analysis is the last successful classification of a session.
type Analysis struct {
	Mode       string          `json:"mode"`
	Labels     []string        `json:"labels"`
	Filtered   []oracle.Result `json:"filtered"`
	Threshold  float64         `json:"threshold"`
	ModelID    string          `json:"model_id"`
	AnalyzedAt time.Time       `json:"analyzed_at"`
}

// Session is the volatile per-user state: feedback counters, the last
// analysis for export, and the slot serializing oracle calls.
type Session struct {
	ID        string
	CreatedAt time.Time
	Feedback  *feedback.Tally

	mu   sync.Mutex
	last *Analysis
	slot chan struct{}
}

func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Feedback:  feedback.NewTally(),
		slot:      make(chan struct{}, 1),
	}
}

// Acquire blocks until no other analysis runs in this session, or ctx ends.
// The returned func releases the slot.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ErrSessionBusy
	}
}

// SetLast records the latest successful analysis.
func (s *Session) SetLast(a *Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = a
}

// Last returns a copy of the latest analysis, or nil.
func (s *Session) Last() *Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	cp.Labels = append([]string(nil), s.last.Labels...)
	cp.Filtered = append([]oracle.Result(nil), s.last.Filtered...)
	return &cp
}
