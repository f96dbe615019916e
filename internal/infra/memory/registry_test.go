package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]string
}

func (f *fakeTracker) Track(_ context.Context, sessionID, quizID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracked == nil {
		f.tracked = map[string]string{}
	}
	f.tracked[sessionID] = quizID
	return nil
}

func (f *fakeTracker) Forget(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracked, sessionID)
	return nil
}

func (f *fakeTracker) has(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tracked[sessionID]
	return ok
}

func newTestRegistry(clock engine.Clock, tracker Tracker) *Registry {
	return NewRegistry(engine.Options{Clock: clock}, RegistryConfig{Retention: time.Minute, Tracker: tracker})
}

func TestRegistryLifecycle(t *testing.T) {
	tracker := &fakeTracker{}
	registry := newTestRegistry(engine.NewManualClock(time.Unix(0, 0)), tracker)

	session, err := registry.Create(sampleQuiz(), "creator", engine.Rules{JoinWindow: time.Minute})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, err := registry.Get(session.ID()); err != nil || got != session {
		t.Fatalf("expected session present, err=%v", err)
	}
	if !tracker.has(session.ID()) {
		t.Fatalf("expected session tracked")
	}

	if err := registry.Remove(session.ID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := registry.Get(session.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected removed session to be unresolvable, got %v", err)
	}
	if session.Status() != domain.StatusAborted {
		t.Fatalf("expected removed session aborted, got %s", session.Status())
	}
	if tracker.has(session.ID()) {
		t.Fatalf("expected tracker entry removed")
	}
	if err := registry.Remove(session.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected second remove to fail, got %v", err)
	}
}

func TestRegistryConcurrentCreateUniqueIDs(t *testing.T) {
	registry := newTestRegistry(engine.NewManualClock(time.Unix(0, 0)), nil)

	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := registry.Create(sampleQuiz(), "creator", engine.Rules{})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- session.ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if registry.Len() != n {
		t.Fatalf("expected %d sessions, got %d", n, registry.Len())
	}
}

func TestRegistryRetriesIDCollisions(t *testing.T) {
	registry := newTestRegistry(engine.NewManualClock(time.Unix(0, 0)), nil)
	calls := 0
	registry.newID = func() string {
		calls++
		if calls <= 2 {
			return "fixed"
		}
		return fmt.Sprintf("id-%d", calls)
	}

	first, err := registry.Create(sampleQuiz(), "c", engine.Rules{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := registry.Create(sampleQuiz(), "c", engine.Rules{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.ID() != "fixed" || second.ID() != "id-3" {
		t.Fatalf("unexpected ids %s %s", first.ID(), second.ID())
	}
}

func TestRegistrySweepsFinishedSessions(t *testing.T) {
	clock := engine.NewManualClock(time.Unix(0, 0))
	registry := newTestRegistry(clock, nil)

	finished, _ := registry.Create(sampleQuiz(), "c", engine.Rules{JoinWindow: time.Second})
	running, _ := registry.Create(sampleQuiz(), "c", engine.Rules{})

	// no participants: the join window aborts the first session
	clock.Advance(time.Second)
	if finished.Status() != domain.StatusAborted {
		t.Fatalf("expected aborted, got %s", finished.Status())
	}

	if n := registry.Sweep(clock.Now()); n != 0 {
		t.Fatalf("expected retention to keep the session, swept %d", n)
	}
	clock.Advance(time.Minute)
	if n := registry.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected one session swept, got %d", n)
	}
	if _, err := registry.Get(finished.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected swept session gone, got %v", err)
	}
	if _, err := registry.Get(running.ID()); err != nil {
		t.Fatalf("running session must survive sweep: %v", err)
	}
}

func TestRegistryCloseAbortsRunningSessions(t *testing.T) {
	registry := newTestRegistry(engine.NewManualClock(time.Unix(0, 0)), nil)
	session, _ := registry.Create(sampleQuiz(), "c", engine.Rules{JoinWindow: time.Minute})

	registry.Close()

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected session to finish on close")
	}
	if session.Status() != domain.StatusAborted {
		t.Fatalf("expected aborted, got %s", session.Status())
	}
	if _, err := registry.Create(sampleQuiz(), "c", engine.Rules{}); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected create after close to fail, got %v", err)
	}
}

type stuckNotifier struct {
	engine.NopNotifier
	release chan struct{}
}

func (n stuckNotifier) SessionAborted(context.Context, domain.SessionAborted) error {
	<-n.release
	return nil
}

func TestRegistryCloseSharesOneDrainDeadline(t *testing.T) {
	notifier := stuckNotifier{release: make(chan struct{})}
	defer close(notifier.release)

	registry := NewRegistry(
		engine.Options{Clock: engine.NewManualClock(time.Unix(0, 0)), Notifier: notifier},
		RegistryConfig{Retention: time.Minute},
	)
	registry.drainTimeout = 100 * time.Millisecond
	for i := 0; i < 5; i++ {
		if _, err := registry.Create(sampleQuiz(), "c", engine.Rules{JoinWindow: time.Minute}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	start := time.Now()
	registry.Close()
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("expected close bounded by one drain timeout, took %s", elapsed)
	}
}

func TestRegistryRejectsInvalidQuiz(t *testing.T) {
	registry := newTestRegistry(engine.NewManualClock(time.Unix(0, 0)), nil)
	if _, err := registry.Create(domain.Quiz{ID: "empty", TimeLimit: time.Second}, "c", engine.Rules{}); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected nothing registered")
	}
}
