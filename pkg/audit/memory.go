package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps events in memory up to a fixed capacity, dropping the
// oldest when full.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

const defaultMemoryCapacity = 10000

// NewMemoryStore creates a MemoryStore. A capacity of zero uses the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Log appends event.
func (s *MemoryStore) Log(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.capacity {
		s.events = append(s.events[:0], s.events[1:]...)
	}
	s.events = append(s.events, event)
	return nil
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	matched := s.match(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Event{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of matching events.
func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int, error) {
	return len(s.match(filter)), nil
}

// CountByAction groups matching events by action, ordered by action name.
func (s *MemoryStore) CountByAction(_ context.Context, filter QueryFilter) ([]ActionCount, error) {
	counts := map[Action]int{}
	for _, e := range s.match(filter) {
		counts[e.Action]++
	}
	out := make([]ActionCount, 0, len(counts))
	for a, n := range counts {
		out = append(out, ActionCount{Action: a, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

func (s *MemoryStore) match(f QueryFilter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if f.SessionID != "" && e.SessionID != f.SessionID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
			continue
		}
		if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
