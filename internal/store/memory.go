package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process Store used by tests and single-node setups.
type Memory struct {
	mu        sync.Mutex
	notes     map[string]*Note
	revisions map[string][]Revision
}

func NewMemory() *Memory {
	return &Memory{
		notes:     make(map[string]*Note),
		revisions: make(map[string][]Revision),
	}
}

func (m *Memory) GetNote(_ context.Context, id string) (*Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *Memory) PersistNote(_ context.Context, id, title, content, savedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	if prev, ok := m.notes[id]; ok {
		m.revisions[id] = append(m.revisions[id], Revision{
			NoteID:  id,
			N:       len(m.revisions[id]) + 1,
			Title:   prev.Title,
			Content: prev.Content,
			SavedAt: prev.SavedAt,
		})
	}

	rev := 1
	if prev, ok := m.notes[id]; ok {
		rev = prev.Revision + 1
	}
	m.notes[id] = &Note{
		ID:       id,
		Title:    title,
		Content:  content,
		Revision: rev,
		SavedBy:  savedBy,
		SavedAt:  now,
	}
	return nil
}

func (m *Memory) ListRevisions(_ context.Context, id string) ([]Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Revision, len(m.revisions[id]))
	copy(out, m.revisions[id])
	return out, nil
}

func (m *Memory) GetRevision(_ context.Context, id string, n int) (*Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.revisions[id] {
		if r.N == n {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteRevision(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	revs := m.revisions[id]
	for i, r := range revs {
		if r.N == n {
			m.revisions[id] = append(revs[:i], revs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
