package reschedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transition is an atomic compare-and-transition request. A zero ID matches any
// conversation under the key; an empty From matches any status.
type Transition struct {
	ID   uuid.UUID
	From Status
	To   Status
	// Retain is how long the key keeps answering Status after the transition.
	Retain time.Duration
}

// Due identifies a pending conversation whose deadline has passed.
type Due struct {
	Phone string
	ID    uuid.UUID
}

// Store persists conversations keyed by normalized phone number. Every method
// must be atomic per key.
type Store interface {
	// Save replaces whatever is stored under conv.Phone.
	Save(ctx context.Context, conv *Conversation, ttl time.Duration) error
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context, phone string) (*Conversation, error)
	// Transition applies t if the stored record still matches. Entering expired or
	// cancelled deletes the record and leaves a tombstone; confirmed updates in place.
	Transition(ctx context.Context, phone string, t Transition) (bool, error)
	// Status returns the record status, falling back to the tombstone.
	Status(ctx context.Context, phone string) (Status, bool, error)
	// Overdue lists pending conversations whose ExpiresAt is before now.
	Overdue(ctx context.Context, now time.Time, limit int) ([]Due, error)
}

type memEntry struct {
	conv     *Conversation
	deadline time.Time
}

type memTombstone struct {
	id       uuid.UUID
	status   Status
	deadline time.Time
}

// MemoryStore is a mutex-guarded in-process Store. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memEntry
	tombs   map[string]memTombstone
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]memEntry),
		tombs:   make(map[string]memTombstone),
		now:     now,
	}
}

func (m *MemoryStore) Save(_ context.Context, conv *Conversation, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[conv.Phone] = memEntry{conv: conv.clone(), deadline: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, phone string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveRecord(phone)
	if !ok {
		return nil, nil
	}
	return e.conv.clone(), nil
}

func (m *MemoryStore) Transition(_ context.Context, phone string, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveRecord(phone)
	if !ok {
		return false, nil
	}
	if t.ID != uuid.Nil && e.conv.ID != t.ID {
		return false, nil
	}
	if t.From != "" && e.conv.Status != t.From {
		return false, nil
	}

	now := m.now()
	if t.To.removes() {
		delete(m.records, phone)
	} else {
		e.conv.Status = t.To
		e.deadline = now.Add(t.Retain)
		m.records[phone] = e
	}
	m.tombs[phone] = memTombstone{id: e.conv.ID, status: t.To, deadline: now.Add(t.Retain)}
	return true, nil
}

func (m *MemoryStore) Status(_ context.Context, phone string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.liveRecord(phone); ok {
		return e.conv.Status, true, nil
	}
	tomb, ok := m.tombs[phone]
	if !ok {
		return "", false, nil
	}
	if m.now().After(tomb.deadline) {
		delete(m.tombs, phone)
		return "", false, nil
	}
	return tomb.status, true, nil
}

func (m *MemoryStore) Overdue(_ context.Context, now time.Time, limit int) ([]Due, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Due
	for phone, e := range m.records {
		if limit > 0 && len(due) >= limit {
			break
		}
		if e.conv.Status == StatusPending && now.After(e.conv.ExpiresAt) {
			due = append(due, Due{Phone: phone, ID: e.conv.ID})
		}
	}
	return due, nil
}

// liveRecord must be called with m.mu held.
func (m *MemoryStore) liveRecord(phone string) (memEntry, bool) {
	e, ok := m.records[phone]
	if !ok {
		return memEntry{}, false
	}
	if m.now().After(e.deadline) {
		delete(m.records, phone)
		return memEntry{}, false
	}
	return e, true
}
