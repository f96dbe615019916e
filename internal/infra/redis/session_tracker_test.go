package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSessionTrackerSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	tracker := NewSessionTracker(newClient(mr), time.Minute)
	ctx := context.Background()

	if err := tracker.Track(ctx, "s1", "quiz-1"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if got, _ := mr.Get("quiz:session:s1"); got != "quiz-1" {
		t.Fatalf("expected liveness key to hold quiz id, got %q", got)
	}
	if ok, _ := mr.SIsMember("quiz:sessions", "s1"); !ok {
		t.Fatalf("expected session in live set")
	}

	if err := tracker.Forget(ctx, "s1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if mr.Exists("quiz:session:s1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestSessionTrackerLiveSkipsExpired(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	tracker := NewSessionTracker(newClient(mr), time.Minute)
	ctx := context.Background()
	_ = tracker.Track(ctx, "old", "quiz-1")
	mr.FastForward(2 * time.Minute)
	_ = tracker.Track(ctx, "new", "quiz-1")

	live, err := tracker.Live(ctx)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if len(live) != 1 || live[0] != "new" {
		t.Fatalf("expected only the fresh session, got %v", live)
	}
}
