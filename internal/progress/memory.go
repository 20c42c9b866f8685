package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"talky/pkg/model"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]model.User
	progress map[string]map[Key]model.ProgressEntry
	history  map[string][]model.HistoryEntry
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]model.User),
		progress: make(map[string]map[Key]model.ProgressEntry),
		history:  make(map[string][]model.HistoryEntry),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return true, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) Record(_ context.Context, e Event, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[e.UserID]
	if !ok {
		return ErrUserNotFound
	}
	u.UpdatedAt = at
	s.users[e.UserID] = u

	entries := s.progress[e.UserID]
	if entries == nil {
		entries = make(map[Key]model.ProgressEntry)
		s.progress[e.UserID] = entries
	}
	for _, k := range e.Keys() {
		cur, ok := entries[k]
		if !ok {
			cur = model.ProgressEntry{UserID: e.UserID, Kind: k.Kind, Key: k.Key}
		}
		cur = Fold(cur, e.Score)
		cur.UpdatedAt = at
		entries[k] = cur
	}

	s.nextID++
	h := e.History(at)
	h.ID = s.nextID
	s.history[e.UserID] = append(s.history[e.UserID], h)
	return nil
}

func (s *MemoryStore) Progress(_ context.Context, userID string) (*model.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}

	entries := make([]model.ProgressEntry, 0, len(s.progress[userID]))
	for _, e := range s.progress[userID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Key < entries[j].Key
	})

	p := &model.Progress{UserID: userID}
	for _, e := range entries {
		p.Add(e)
	}
	return p, nil
}

// History returns the newest entries first.
func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.history[userID]
	out := make([]model.HistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}
