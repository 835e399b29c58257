// internal/search/session.go
package search

import (
	"context"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/models"
)

// SnapshotFunc loads the catalog the session filters.
type SnapshotFunc func(ctx context.Context) ([]models.Dataset, error)

type Result struct {
	Generation uint64           `json:"generation"`
	Filters    Filters          `json:"filters"`
	Datasets   []models.Dataset `json:"datasets"`
	Total      int              `json:"total"`
	Error      string           `json:"error,omitempty"`
}

// Session is one client's live search. Text edits are debounced, every other
// filter change is evaluated immediately.
type Session struct {
	ctx      context.Context
	snapshot SnapshotFunc
	publish  func(Result)
	deb      *Debouncer

	mu      sync.Mutex
	filters Filters

	publishMu sync.Mutex
}

func NewSession(ctx context.Context, clk clock.Clock, quiet time.Duration, snapshot SnapshotFunc, publish func(Result)) *Session {
	return &Session{
		ctx:      ctx,
		snapshot: snapshot,
		publish:  publish,
		deb:      NewDebouncer(clk, quiet),
		filters:  Filters{}.Normalized(),
	}
}

func (s *Session) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Update replaces the session filters.
func (s *Session) Update(f Filters) {
	f = f.Normalized()

	s.mu.Lock()
	prev := s.filters
	s.filters = f
	s.mu.Unlock()

	if f.SameExceptText(prev) {
		if f.Text == prev.Text {
			return
		}
		s.deb.Schedule(func(gen uint64) {
			s.evaluate(gen, f)
		})
		return
	}

	s.evaluate(s.deb.Bump(), f)
}

// Refresh evaluates the current filters right away.
func (s *Session) Refresh() {
	s.evaluate(s.deb.Bump(), s.Filters())
}

// Close cancels any pending evaluation and waits for running ones.
func (s *Session) Close() {
	s.deb.Stop()
	s.publishMu.Lock()
	s.publishMu.Unlock()
}

func (s *Session) evaluate(gen uint64, f Filters) {
	if !s.deb.Current(gen) {
		return
	}

	res := Result{Generation: gen, Filters: f}
	snapshot, err := s.snapshot(s.ctx)
	if err != nil {
		logrus.WithError(err).Warn("Live search snapshot failed")
		res.Error = err.Error()
	} else {
		res.Datasets = Apply(snapshot, f)
		res.Total = len(res.Datasets)
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if !s.deb.Current(gen) {
		return
	}
	s.publish(res)
}
