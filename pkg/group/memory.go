package group

import (
	"context"
	"sort"
	"sync"

	"github.com/txn2/groupcart/pkg/catalog"
)

type memberKey struct {
	session SessionID
	user    UserID
}

// MemoryStore is an in-memory Store. One mutex guards all state; mutators
// and releasers run while it is held, which gives them the same atomicity a
// database transaction would.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[SessionID]*Session
	tokens   map[string]SessionID
	members  map[memberKey]*Member
	items    map[ItemKey]*LineItem
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[SessionID]*Session),
		tokens:   make(map[string]SessionID),
		members:  make(map[memberKey]*Member),
		items:    make(map[ItemKey]*LineItem),
	}
}

// CreateSession stores s and its leader membership.
func (m *MemoryStore) CreateSession(_ context.Context, s *Session, leader *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.tokens[s.JoinToken]; taken {
		return ErrTokenTaken
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.tokens[s.JoinToken] = s.ID
	lead := *leader
	m.members[memberKey{s.ID, leader.UserID}] = &lead
	return nil
}

// SessionByID returns a copy of the session.
func (m *MemoryStore) SessionByID(_ context.Context, id SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// SessionByToken returns a copy of the session owning token.
func (m *MemoryStore) SessionByToken(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

// AddMember inserts a membership.
func (m *MemoryStore) AddMember(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[mem.SessionID]; !ok {
		return ErrNotFound
	}
	key := memberKey{mem.SessionID, mem.UserID}
	if _, ok := m.members[key]; ok {
		return ErrAlreadyMember
	}
	cp := *mem
	m.members[key] = &cp
	return nil
}

// Member returns a copy of the membership.
func (m *MemoryStore) Member(_ context.Context, sessionID SessionID, userID UserID) (*Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberKey{sessionID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

// Members lists memberships by join time.
func (m *MemoryStore) Members(_ context.Context, sessionID SessionID) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Member{}
	for k, mem := range m.members {
		if k.session == sessionID {
			out = append(out, *mem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// ApplyItem runs mutate under the store lock and stores its result.
func (m *MemoryStore) ApplyItem(ctx context.Context, key ItemKey, mutate ItemMutator) (*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[memberKey{key.SessionID, key.UserID}]; !ok {
		return nil, ErrNotMember
	}

	var prev *LineItem
	if it, ok := m.items[key]; ok {
		cp := *it
		prev = &cp
	}

	next, err := mutate(ctx, prev)
	if err != nil {
		return nil, err
	}
	stored := *next
	m.items[key] = &stored
	return next, nil
}

// Items lists active items, newest first.
func (m *MemoryStore) Items(_ context.Context, sessionID SessionID) ([]LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []LineItem{}
	for k, it := range m.items {
		if k.SessionID == sessionID && it.IsActive {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out, nil
}

// DeleteSession releases the session's holds and removes it. Nothing is
// removed when release fails.
func (m *MemoryStore) DeleteSession(ctx context.Context, id SessionID, release HoldReleaser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	holds := map[catalog.VariantID]int{}
	for k, it := range m.items {
		if k.SessionID == id && it.IsActive {
			holds[k.VariantID] += it.ReservedQuantity
		}
	}
	if release != nil {
		if err := release(ctx, holds); err != nil {
			return err
		}
	}

	for k := range m.items {
		if k.SessionID == id {
			delete(m.items, k)
		}
	}
	for k := range m.members {
		if k.session == id {
			delete(m.members, k)
		}
	}
	delete(m.tokens, s.JoinToken)
	delete(m.sessions, id)
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
