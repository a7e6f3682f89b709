package slots

import (
	"errors"
	"maps"
	"sync"
	"time"
)

// ErrUnknownSlot is returned when upserting into a slot id other than P1 or P2.
var ErrUnknownSlot = errors.New("unknown slot")

// Snapshot is an immutable copy of both slot maps taken at one instant.
type Snapshot struct {
	P1    map[string]string
	P2    map[string]string
	Taken time.Time
}

// Empty reports whether neither slot holds any entry.
func (s Snapshot) Empty() bool { return len(s.P1) == 0 && len(s.P2) == 0 }

// Len returns the total number of entries across both slots.
func (s Snapshot) Len() int { return len(s.P1) + len(s.P2) }

// Store is the process-wide slot buffer. It is safe for concurrent use; one
// mutex guards both maps so a snapshot never observes a torn write.
type Store struct {
	mu    sync.Mutex
	slots [2]map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{slots: [2]map[string]string{make(map[string]string), make(map[string]string)}}
}

// Upsert records payload as the latest value for author in slot id,
// replacing any previous value.
func (s *Store) Upsert(id ID, author, payload string) error {
	if id != P1 && id != P2 {
		return ErrUnknownSlot
	}
	s.mu.Lock()
	s.slots[id][author] = payload
	s.mu.Unlock()
	return nil
}

// Snapshot copies both slots atomically.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		P1:    maps.Clone(s.slots[P1]),
		P2:    maps.Clone(s.slots[P2]),
		Taken: time.Now().UTC(),
	}
}

// Clear empties both slots and returns the number of entries dropped. It is
// used when a new match starts and pending picks no longer apply.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.slots[P1]) + len(s.slots[P2])
	clear(s.slots[P1])
	clear(s.slots[P2])
	return n
}

// ClearDelivered removes the entries of snap that are still current. An
// author whose payload changed after snap was taken keeps the newer value.
// It returns the number of entries removed.
func (s *Store) ClearDelivered(snap Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, delivered := range [2]map[string]string{snap.P1, snap.P2} {
		current := s.slots[id]
		for author, payload := range delivered {
			if v, ok := current[author]; ok && v == payload {
				delete(current, author)
				removed++
			}
		}
	}
	return removed
}

// Counts returns the number of buffered entries per slot.
func (s *Store) Counts() (p1, p2 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots[P1]), len(s.slots[P2])
}
