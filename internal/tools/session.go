package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

const maxSessionHistory = 50

// CommandRecord is one command executed in a shell session.
type CommandRecord struct {
	Command  string    `json:"command"`
	ExitCode int       `json:"exit_code"`
	RanAt    time.Time `json:"ran_at"`
}

// Session is a persistent shell session addressed by an explicit id.
type Session struct {
	ID      string
	WorkDir string

	// run serializes commands within the session.
	run sync.Mutex

	mu        sync.Mutex
	createdAt time.Time
	lastUsed  time.Time
	history   []CommandRecord
}

// SessionInfo is a snapshot of a session.
type SessionInfo struct {
	ID        string          `json:"session_id"`
	WorkDir   string          `json:"workdir"`
	CreatedAt time.Time       `json:"created_at"`
	LastUsed  time.Time       `json:"last_used"`
	Commands  int             `json:"commands"`
	History   []CommandRecord `json:"history,omitempty"`
}

func (s *Session) info(withHistory bool) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:        s.ID,
		WorkDir:   s.WorkDir,
		CreatedAt: s.createdAt,
		LastUsed:  s.lastUsed,
		Commands:  len(s.history),
	}
	if withHistory {
		info.History = append([]CommandRecord(nil), s.history...)
	}
	return info
}

func (s *Session) record(cmd string, exitCode int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = at
	s.history = append(s.history, CommandRecord{Command: cmd, ExitCode: exitCode, RanAt: at})
	if len(s.history) > maxSessionHistory {
		s.history = s.history[len(s.history)-maxSessionHistory:]
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SessionRegistry tracks live shell sessions. Safe for concurrent use.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session. It fails if id is already in use.
func (r *SessionRegistry) Create(id, workDir string) (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	now := r.now()
	s := &Session{ID: id, WorkDir: workDir, createdAt: now, lastUsed: now}
	r.sessions[id] = s
	return s.info(false), nil
}

// Get returns the session registered under id.
func (r *SessionRegistry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Destroy removes the session and returns its final snapshot.
func (r *SessionRegistry) Destroy(id string) (SessionInfo, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.info(true), nil
}

// List returns snapshots of all sessions ordered by id.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info(false))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ReapIdle destroys sessions unused for longer than maxIdle and returns
// their ids.
func (r *SessionRegistry) ReapIdle(maxIdle time.Duration) []string {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	return reaped
}
