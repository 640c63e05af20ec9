package scan

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Session is one logical scan pass. The catalog may dictate the ID (resuming
// an earlier session); otherwise a fresh one is generated.
type Session struct {
	ID       string
	Counters *Counters

	mu          sync.Mutex
	status      Status
	currentPath string
	startedAt   time.Time
}

// NewSession creates a running session with freshly reset counters.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		Counters:  &Counters{},
		status:    StatusRunning,
		startedAt: time.Now(),
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Finish moves the session into a terminal state. The first terminal state
// wins; later calls are ignored so an abort racing a completion cannot
// flip-flop the outcome.
func (s *Session) Finish(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
}

// SetCurrentPath records the directory the scanner is working in, for
// progress reporting.
func (s *Session) SetCurrentPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPath = path
}

// CurrentPath returns the most recently recorded directory.
func (s *Session) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// Duration returns how long the session has been running.
func (s *Session) Duration() time.Duration {
	return time.Since(s.startedAt)
}
