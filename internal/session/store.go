package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/briefsmith/internal/domain"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrUnknownField is returned for keys outside the catalog.
	ErrUnknownField = errors.New("unknown field")
	// ErrRequiredField is returned when skipping or blanking a required field.
	ErrRequiredField = errors.New("field is required")
)

// Store maps session ids to sessions. The lock guards the map only; each
// session is mutated by its owning connection.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session with a fresh id.
func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.now())

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	slog.Debug("Collection session created", "session_id", s.ID)
	return s
}

// Get returns the session for id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// SetField records an answer for key, clearing any skip. Required fields
// reject blank values.
func (st *Store) SetField(id, key, value string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if !domain.IsKnownField(key) {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if domain.IsRequired(key) && strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrRequiredField, key)
	}
	s.values[key] = value
	s.states[key] = Answered
	st.touch(s)
	return nil
}

// MarkSkipped records an explicit skip for an optional field.
func (st *Store) MarkSkipped(id, key string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if !domain.IsKnownField(key) {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if domain.IsRequired(key) {
		return fmt.Errorf("%w: %s", ErrRequiredField, key)
	}
	s.values[key] = ""
	s.states[key] = Skipped
	st.touch(s)
	return nil
}

// IncrementFollowUp bumps the follow-up counter for key, saturating at
// MaxFollowUps, and returns the new count.
func (st *Store) IncrementFollowUp(id, key string) (int, error) {
	s, err := st.Get(id)
	if err != nil {
		return 0, err
	}
	if !domain.IsKnownField(key) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if s.followUps[key] < MaxFollowUps {
		s.followUps[key]++
	}
	st.touch(s)
	return s.followUps[key], nil
}

// FollowUpCount returns the follow-up counter for key.
func (st *Store) FollowUpCount(id, key string) (int, error) {
	s, err := st.Get(id)
	if err != nil {
		return 0, err
	}
	return s.followUps[key], nil
}

// Snapshot returns the session's field values: "" for skipped fields and nil
// for fields not yet answered or skipped.
func (st *Store) Snapshot(id string) (map[string]*string, error) {
	s, err := st.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		slog.Debug("Collection session deleted", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Touch records activity on a live session so Expire keeps it.
func (st *Store) Touch(id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	st.touch(s)
	return nil
}

func (st *Store) touch(s *Session) {
	now := st.now()
	st.mu.Lock()
	s.lastActive = now
	st.mu.Unlock()
}

// LastActive returns when the session last saw activity.
func (st *Store) LastActive(id string) (time.Time, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.lastActive, nil
}

// Expire removes sessions idle for more than ttl and returns how many were
// removed.
func (st *Store) Expire(ttl time.Duration) int {
	cutoff := st.now().Add(-ttl)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.lastActive.Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}
