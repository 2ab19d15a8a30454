// Package session holds the in-memory state of collection sessions.
package session

import (
	"time"

	"github.com/ashureev/briefsmith/internal/domain"
)

// MaxFollowUps is the number of follow-up questions asked per field before
// an answer is accepted as-is.
const MaxFollowUps = 2

// FieldState is the lifecycle state of one catalog field in a session.
type FieldState int

const (
	Unset FieldState = iota
	Answered
	Skipped
)

func (s FieldState) String() string {
	switch s {
	case Answered:
		return "answered"
	case Skipped:
		return "skipped"
	default:
		return "unset"
	}
}

// Session is the collection state of one connection. It is owned by a single
// connection handler and is not safe for concurrent mutation.
type Session struct {
	ID        string
	CreatedAt time.Time

	// lastActive is guarded by the owning Store's lock.
	lastActive time.Time

	states    map[string]FieldState
	values    map[string]string
	followUps map[string]int
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
		states:     make(map[string]FieldState),
		values:     make(map[string]string),
		followUps:  make(map[string]int),
	}
}

// State returns the state of key.
func (s *Session) State(key string) FieldState {
	return s.states[key]
}

// Value returns the answered value for key.
func (s *Session) Value(key string) (string, bool) {
	if s.states[key] != Answered {
		return "", false
	}
	return s.values[key], true
}

// FollowUpCount returns how many follow-ups were asked for key.
func (s *Session) FollowUpCount(key string) int {
	return s.followUps[key]
}

// Pending returns keys that are neither answered nor skipped, in catalog
// order.
func (s *Session) Pending() []string {
	var keys []string
	for _, key := range domain.FieldKeys() {
		if s.states[key] == Unset {
			keys = append(keys, key)
		}
	}
	return keys
}

// Skipped returns the skipped keys in catalog order.
func (s *Session) Skipped() []string {
	var keys []string
	for _, key := range domain.FieldKeys() {
		if s.states[key] == Skipped {
			keys = append(keys, key)
		}
	}
	return keys
}

// IsComplete reports whether every required field holds a non-empty answer
// and every optional field is answered or skipped.
func (s *Session) IsComplete() bool {
	for _, f := range domain.Catalog() {
		state := s.states[f.Key]
		if f.Required {
			if state != Answered || s.values[f.Key] == "" {
				return false
			}
			continue
		}
		if state == Unset {
			return false
		}
	}
	return true
}

// Snapshot maps every catalog key to its value: the answer for answered
// fields, "" for skipped fields, and nil for fields not yet resolved.
func (s *Session) Snapshot() map[string]*string {
	out := make(map[string]*string, len(s.states))
	for _, key := range domain.FieldKeys() {
		switch s.states[key] {
		case Answered, Skipped:
			v := s.values[key]
			out[key] = &v
		default:
			out[key] = nil
		}
	}
	return out
}

// Record exports the session as a collected record.
func (s *Session) Record() domain.Record {
	r := domain.NewRecord()
	for key := range r {
		if v, ok := s.Value(key); ok {
			r[key] = v
		}
	}
	return r
}

// Collected returns only the answered, non-empty values.
func (s *Session) Collected() domain.Record {
	r := make(domain.Record)
	for _, key := range domain.FieldKeys() {
		if v, ok := s.Value(key); ok && v != "" {
			r[key] = v
		}
	}
	return r
}
