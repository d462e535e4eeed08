package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/registry"
)

type memRecord struct {
	session      engine.Session
	participants []registry.Participant
}

// Memory keeps sessions in process. It backs tests and single-node dev runs
// and honours the same compare-and-set and uniqueness rules as Postgres.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memRecord
	index    map[string]map[string]time.Time // userID -> sessionID -> indexed at
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*memRecord),
		index:    make(map[string]map[string]time.Time),
		now:      time.Now,
	}
}

func (m *Memory) CreateSession(ctx context.Context, s engine.Session, creator *registry.Participant, indexUsers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	rec := &memRecord{session: s.Clone()}
	if creator != nil {
		rec.participants = append(rec.participants, *creator)
	}
	m.sessions[s.ID] = rec
	m.indexLocked(s.ID, indexUsers)
	return nil
}

func (m *Memory) Load(ctx context.Context, sessionID string) (engine.Session, []registry.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return engine.Session{}, nil, ErrNotFound
	}
	return rec.session.Clone(), slices.Clone(rec.participants), nil
}

func (m *Memory) Commit(ctx context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[c.Next.ID]
	if !ok {
		return ErrNotFound
	}
	if rec.session.Version != c.Prev.Version {
		return ErrConflict
	}
	if err := CheckTurns(rec.session, c.Next); err != nil {
		return err
	}

	participants := slices.Clone(rec.participants)
	if p := c.Participant; p != nil {
		if userID, linked := p.UserID(); linked {
			for _, other := range participants {
				if id, ok := other.UserID(); ok && id == userID && other.ID != p.ID {
					return ErrDuplicate
				}
			}
		}
		i := slices.IndexFunc(participants, func(o registry.Participant) bool { return o.ID == p.ID })
		if i >= 0 {
			participants[i] = *p
		} else {
			participants = append(participants, *p)
		}
	}

	rec.session = c.Next.Clone()
	rec.participants = participants
	m.indexLocked(c.Next.ID, c.IndexUsers)
	return nil
}

func (m *Memory) indexLocked(sessionID string, users []string) {
	for _, userID := range users {
		if userID == "" {
			continue
		}
		entries, ok := m.index[userID]
		if !ok {
			entries = make(map[string]time.Time)
			m.index[userID] = entries
		}
		if _, seen := entries[sessionID]; !seen {
			entries[sessionID] = m.now()
		}
	}
}

func (m *Memory) UserSessions(ctx context.Context, userID string) ([]engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []engine.Session
	for sessionID := range m.index[userID] {
		rec, ok := m.sessions[sessionID]
		if !ok {
			continue
		}
		s := rec.session.Clone()
		for i := range s.Games {
			s.Games[i].Turns = nil
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) StaleLobbies(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, rec := range m.sessions {
		if rec.session.Status == engine.StatusLobby && rec.session.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Close() error { return nil }
