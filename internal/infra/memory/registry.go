package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

const trackTimeout = 2 * time.Second

// Tracker mirrors registry membership into a shared store (e.g. Redis liveness keys).
type Tracker interface {
	Track(ctx context.Context, sessionID, quizID string) error
	Forget(ctx context.Context, sessionID string) error
}

// RegistryConfig controls retention of finished sessions.
type RegistryConfig struct {
	// Retention is how long a completed or aborted session stays resolvable.
	Retention time.Duration
	// SweepInterval is how often the janitor looks for expired sessions. 0 disables it.
	SweepInterval time.Duration
	Tracker       Tracker
	Logger        *slog.Logger
}

// Registry is the process-wide map of sessions keyed by session ID.
type Registry struct {
	opts      engine.Options
	retention time.Duration
	tracker   Tracker
	logger    *slog.Logger
	newID     func() string

	drainTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*engine.Session
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(opts engine.Options, cfg RegistryConfig) *Registry {
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	r := &Registry{
		opts:         opts,
		retention:    cfg.Retention,
		tracker:      cfg.Tracker,
		logger:       logger,
		newID:        uuid.NewString,
		drainTimeout: trackTimeout,
		sessions:     make(map[string]*engine.Session),
		done:         make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go r.cleanupLoop(cfg.SweepInterval)
	}
	return r
}

// Create builds a session for the quiz snapshot, registers it under a fresh ID
// and opens its join window.
func (r *Registry) Create(quiz domain.Quiz, creator string, rules engine.Rules) (*engine.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}

	var id string
	for attempts := 0; attempts < 10; attempts++ {
		id = r.newID()
		if _, exists := r.sessions[id]; !exists {
			break
		}
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to generate unique session id")
	}

	session, err := engine.NewSession(id, creator, quiz, rules, r.opts)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[id] = session
	r.mu.Unlock()

	if err := session.Open(); err != nil {
		r.drop(id)
		return nil, fmt.Errorf("open session %s: %w", id, err)
	}
	r.track(id, quiz.ID)
	r.logger.Info("session created", "session", id, "quiz", quiz.ID, "creator", creator)
	return session, nil
}

// Get resolves a session. Removed sessions are never resolved again.
func (r *Registry) Get(id string) (*engine.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Remove tears a session down, aborting it first if it is still running.
func (r *Registry) Remove(id string) error {
	session := r.drop(id)
	if session == nil {
		return domain.ErrSessionNotFound
	}
	if !session.Status().Terminal() {
		_ = session.Abort(domain.AbortRemoved, "")
	}
	r.logger.Info("session removed", "session", id)
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes finished sessions whose retention expired at now and returns
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	expired := make([]string, 0)
	for id, session := range r.sessions {
		if !session.Status().Terminal() {
			continue
		}
		if finished := session.FinishedAt(); !finished.IsZero() && !now.Before(finished.Add(r.retention)) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.drop(id)
		r.logger.Debug("finished session reaped", "session", id)
	}
	return len(expired)
}

// Close aborts every running session and stops the janitor. Create fails afterwards.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	r.closed = true
	sessions := make([]*engine.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		if !session.Status().Terminal() {
			_ = session.Abort(domain.AbortShutdown, "")
		}
	}
	// one deadline for the whole drain, however many sessions are stuck
	deadline := time.NewTimer(r.drainTimeout)
	defer deadline.Stop()
	for i, session := range sessions {
		select {
		case <-session.Done():
		case <-deadline.C:
			r.logger.Warn("session events not drained before shutdown", "pending", len(sessions)-i)
			return
		}
	}
}

func (r *Registry) drop(id string) *engine.Session {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.forget(id)
	return session
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if n := r.Sweep(r.opts.Clock.Now()); n > 0 {
				r.logger.Info("finished sessions cleaned up", "count", n)
			}
		}
	}
}

func (r *Registry) track(id, quizID string) {
	if r.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
	defer cancel()
	if err := r.tracker.Track(ctx, id, quizID); err != nil {
		r.logger.Warn("session tracking failed", "session", id, "error", err)
	}
}

func (r *Registry) forget(id string) {
	if r.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
	defer cancel()
	if err := r.tracker.Forget(ctx, id); err != nil {
		r.logger.Warn("session untracking failed", "session", id, "error", err)
	}
}
