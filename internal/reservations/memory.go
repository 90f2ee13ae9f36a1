package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// MemoryStore keeps reservations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Reservation
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Reservation), now: time.Now}
}

func (s *MemoryStore) Insert(_ context.Context, r *Reservation, guard Guard) error {
	if err := validateForInsert(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[r.ID]; exists {
		return ErrConflict
	}
	if err := guard.run(s.overlapping(guard.Window)); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	s.items[r.ID] = r.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Reservation, 0, len(s.items))
	for _, r := range s.items {
		if filter.match(r) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) (*Reservation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(r, s.now().UTC())
	return r.clone(), nil
}

func (s *MemoryStore) ListBusyIntervals(_ context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.overlapping(scheduling.Interval{Start: from, End: to})
	out := make([]scheduling.BusyInterval, 0, len(existing))
	for _, r := range existing {
		if r.Blocking() {
			out = append(out, r.Busy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// overlapping must be called with the lock held.
func (s *MemoryStore) overlapping(window scheduling.Interval) []*Reservation {
	var out []*Reservation
	for _, r := range s.items {
		if r.Interval().Overlaps(window) {
			out = append(out, r)
		}
	}
	return out
}
