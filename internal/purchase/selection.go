// internal/purchase/selection.go

// Package purchase buys a selection of datasets with one on-chain payment
// per seller.
package purchase

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemSucceeded  ItemStatus = "succeeded"
	ItemFailed     ItemStatus = "failed"
)

var ErrSelectionLocked = errors.New("selection is locked while a purchase is in flight")

// Selection is an ordered set of dataset ids chosen for purchase, plus the
// progress of each item once a purchase runs.
type Selection struct {
	mu       sync.Mutex
	ids      []uuid.UUID
	progress map[uuid.UUID]ItemStatus
	locked   bool
}

func NewSelection(ids ...uuid.UUID) *Selection {
	return &Selection{
		ids:      lo.Uniq(ids),
		progress: make(map[uuid.UUID]ItemStatus),
	}
}

// Add appends id unless it is already selected.
func (s *Selection) Add(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSelectionLocked
	}
	if !lo.Contains(s.ids, id) {
		s.ids = append(s.ids, id)
	}
	return nil
}

func (s *Selection) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSelectionLocked
	}
	s.ids = lo.Without(s.ids, id)
	delete(s.progress, id)
	return nil
}

func (s *Selection) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSelectionLocked
	}
	s.ids = nil
	s.progress = make(map[uuid.UUID]ItemStatus)
	return nil
}

func (s *Selection) IDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.ids...)
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Selection) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Progress returns a copy of the per-item status of the last purchase.
func (s *Selection) Progress() map[uuid.UUID]ItemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]ItemStatus, len(s.progress))
	for id, st := range s.progress {
		out[id] = st
	}
	return out
}

// begin locks the selection and queues every item.
func (s *Selection) begin() ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, ErrSelectionLocked
	}
	s.locked = true
	s.progress = make(map[uuid.UUID]ItemStatus, len(s.ids))
	for _, id := range s.ids {
		s.progress[id] = ItemQueued
	}
	return append([]uuid.UUID(nil), s.ids...), nil
}

func (s *Selection) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
}

func (s *Selection) mark(status ItemStatus, ids ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.progress[id] = status
	}
}
