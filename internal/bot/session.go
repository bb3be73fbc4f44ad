package bot

import (
	"sync"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/task"
)

// step is the wizard position within the scheduling dialog.
type step int

const (
	stepContent step = iota + 1
	stepChat
	stepDate
	stepRecurrence
	stepPin
	stepSilent
	stepDeleteDays
)

// session is one admin's in-progress scheduling dialog. Sessions are
// in-memory only; an abandoned dialog simply expires.
//
// telebot runs every update handler in its own goroutine, so two rapid
// updates from the same admin can reach handlers concurrently. Handlers
// hold mu for the whole read-check-mutate of Step and Draft. touched is
// owned by the store and guarded by the store's mutex instead.
type session struct {
	mu    sync.Mutex
	Step  step
	Draft task.Draft

	touched time.Time
}

const defaultSessionIdle = 30 * time.Minute

// sessionStore keeps at most one dialog per admin user id and drops
// dialogs idle longer than the configured window.
type sessionStore struct {
	mu   sync.Mutex
	m    map[int64]*session
	idle time.Duration
	now  func() time.Time
}

func newSessionStore(idle time.Duration) *sessionStore {
	if idle <= 0 {
		idle = defaultSessionIdle
	}
	return &sessionStore{m: make(map[int64]*session), idle: idle, now: time.Now}
}

// start begins a fresh dialog, replacing any previous one.
func (s *sessionStore) start(userID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &session{touched: s.now()}
	s.m[userID] = sess
	return sess
}

// get returns the user's live dialog, or nil if none exists or it has
// gone idle. Expired dialogs are removed on access.
func (s *sessionStore) get(userID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		return nil
	}
	if s.now().Sub(sess.touched) > s.idle {
		delete(s.m, userID)
		return nil
	}
	sess.touched = s.now()
	return sess
}

func (s *sessionStore) drop(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}
