package groupstore

import (
	"context"
	"sync"
	"time"
)

// MemoryIndex is an Index for a single process. One mutex guards all
// entries, which makes every operation atomic per group.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// Compile-time interface check.
var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*Entry), now: time.Now}
}

// entry returns the live entry for groupID, creating it. Callers hold mu.
func (m *MemoryIndex) entry(groupID string, chatID int64) *Entry {
	e, ok := m.entries[groupID]
	if !ok {
		e = &Entry{GroupID: groupID, ChatID: chatID}
		m.entries[groupID] = e
	}
	e.UpdatedAt = m.now()
	return e
}

func (m *MemoryIndex) AppendMember(_ context.Context, groupID string, chatID int64, ref string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[groupID]; ok && e.Claimed {
		return Entry{}, ErrGroupClosed
	}
	e := m.entry(groupID, chatID)
	e.Members = append(e.Members, ref)
	return copyEntry(e), nil
}

func (m *MemoryIndex) SetCaptionSeen(_ context.Context, groupID string, chatID int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[groupID]; ok && e.Claimed {
		return Entry{}, ErrGroupClosed
	}
	e := m.entry(groupID, chatID)
	e.CaptionSeen = true
	return copyEntry(e), nil
}

func (m *MemoryIndex) Get(_ context.Context, groupID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[groupID]
	if !ok {
		return nil, nil
	}
	c := copyEntry(e)
	return &c, nil
}

func (m *MemoryIndex) Claim(_ context.Context, groupID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[groupID]
	if !ok || !e.Ready() {
		return nil, nil
	}
	e.Claimed = true
	e.UpdatedAt = m.now()
	c := copyEntry(e)
	return &c, nil
}

func (m *MemoryIndex) Retire(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[groupID]
	if !ok {
		e = &Entry{GroupID: groupID}
		m.entries[groupID] = e
	}
	e.Members = nil
	e.Claimed = true
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryIndex) Expired(_ context.Context, cutoff time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.UpdatedAt.Before(cutoff) {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (m *MemoryIndex) Remove(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, groupID)
	return nil
}

// Len returns the number of tracked groups, including retired ones.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func copyEntry(e *Entry) Entry {
	c := *e
	c.Members = append([]string(nil), e.Members...)
	return c
}
