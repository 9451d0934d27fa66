package journal

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Key identifies one transition of one occurrence of an event.
type Key struct {
	Event      string
	Occurrence time.Time
	Phase      string
}

func (k Key) normalized() Key {
	return Key{
		Event:      strings.ToLower(strings.TrimSpace(k.Event)),
		Occurrence: k.Occurrence.UTC().Truncate(time.Second),
		Phase:      k.Phase,
	}
}

// Journal remembers which transitions have completed, so a transition is
// applied at most once per occurrence.
type Journal interface {
	Done(ctx context.Context, k Key) (bool, error)
	Record(ctx context.Context, k Key) error
	// Prune forgets transitions of occurrences before the given instant.
	Prune(ctx context.Context, before time.Time) error
	Close() error
}

type memKey struct {
	event      string
	occurrence int64
	phase      string
}

func (k Key) mem() memKey {
	n := k.normalized()
	return memKey{event: n.Event, occurrence: n.Occurrence.Unix(), phase: n.Phase}
}

// Memory is a process-local Journal.
type Memory struct {
	mu   sync.Mutex
	done map[memKey]struct{}
}

func NewMemory() *Memory {
	return &Memory{done: make(map[memKey]struct{})}
}

func (m *Memory) Done(_ context.Context, k Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.done[k.mem()]
	return ok, nil
}

func (m *Memory) Record(_ context.Context, k Key) error {
	m.mu.Lock()
	m.done[k.mem()] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.done {
		if k.occurrence < before.Unix() {
			delete(m.done, k)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
