// Package session keeps per-user conversation state: the database a user
// uploaded, its schema, recent turns and any clarification still pending.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/schema"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID           string
	DatabasePath string
	Schema       schema.Schema
	Memory       *Memory
	// Clarification is non-nil while the session waits for a reply.
	Clarification *Clarification
	// Questions counts answered questions and numbers exported results.
	Questions int64
	CreatedAt time.Time
	LastUsed  time.Time

	mu      sync.Mutex
	expired bool
}

// ExpireFunc is called after a session is removed, outside the store lock.
type ExpireFunc func(*Session)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int
	now      func() time.Time
	onExpire ExpireFunc
	logger   *slog.Logger
}

type StoreOption func(*Store)

func WithMaxTurns(n int) StoreOption {
	return func(s *Store) { s.maxTurns = n }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithExpireHook registers fn for sessions dropped by Delete or the janitor.
func WithExpireHook(fn ExpireFunc) StoreOption {
	return func(s *Store) { s.onExpire = fn }
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(databasePath string, sch schema.Schema) *Session {
	now := s.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		DatabasePath: databasePath,
		Schema:       sch,
		Memory:       NewMemory(s.maxTurns),
		CreatedAt:    now,
		LastUsed:     now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(count)
	return sess
}

// Get returns the session without locking it. Callers that read or mutate
// session state use With.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// With runs fn while holding the session's own lock, so requests against one
// session are serialized while other sessions proceed.
func (s *Store) With(id string, fn func(*Session) error) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.expired {
		return ErrNotFound
	}
	sess.LastUsed = s.now().UTC()
	return fn(sess)
}

// View runs fn under the session lock like With but leaves LastUsed alone,
// so reading a session does not keep it from expiring.
func (s *Store) View(id string, fn func(*Session) error) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.expired {
		return ErrNotFound
	}
	return fn(sess)
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	observability.SetActiveSessions(count)
	s.expire(sess)
	return nil
}

// Sweep removes sessions idle for longer than ttl and returns how many went.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := s.now().UTC().Add(-ttl)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		// A session busy inside With is in use; skip it this round.
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.LastUsed.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			stale = append(stale, sess)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if len(stale) > 0 {
		observability.SetActiveSessions(count)
	}
	for _, sess := range stale {
		s.expire(sess)
	}
	return len(stale)
}

func (s *Store) expire(sess *Session) {
	sess.mu.Lock()
	sess.expired = true
	sess.mu.Unlock()
	if s.onExpire != nil {
		s.onExpire(sess)
	}
}

// RunJanitor sweeps idle sessions every interval until ctx is cancelled.
func (s *Store) RunJanitor(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 || ttl <= 0 {
		return errors.New("janitor interval and ttl must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.Sweep(ttl); removed > 0 {
				s.logger.Info("expired idle sessions", "removed", removed, "active", s.Len())
			}
		}
	}
}
