package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-engine/internal/domain"
)

func TestRankingRecorderAccumulatesScores(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	recorder := NewRankingRecorder(newClient(mr))
	ctx := context.Background()

	completed := func(session string, scores map[string]int) domain.SessionCompleted {
		ev := domain.SessionCompleted{SessionID: session, QuizID: "quiz-1"}
		for id, score := range scores {
			ev.Leaderboard.Entries = append(ev.Leaderboard.Entries, domain.LeaderboardEntry{ParticipantID: id, Score: score})
		}
		return ev
	}

	if err := recorder.SessionCompleted(ctx, completed("s1", map[string]int{"u1": 820, "u2": 190})); err != nil {
		t.Fatalf("record s1: %v", err)
	}
	if err := recorder.SessionCompleted(ctx, completed("s2", map[string]int{"u2": 1000})); err != nil {
		t.Fatalf("record s2: %v", err)
	}

	if score, _ := mr.ZScore("leaderboard:quiz:quiz-1", "u2"); score != 1190 {
		t.Fatalf("expected quiz score 1190, got %v", score)
	}
	if score, _ := mr.ZScore("leaderboard:global", "u1"); score != 820 {
		t.Fatalf("expected global score 820, got %v", score)
	}

	top, err := recorder.Top(ctx, "quiz-1", 1)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 1 || top[0].ParticipantID != "u2" || top[0].Score != 1190 || top[0].Rank != 1 {
		t.Fatalf("expected u2 on top, got %+v", top)
	}
	global, err := recorder.Top(ctx, "", 10)
	if err != nil {
		t.Fatalf("global top: %v", err)
	}
	if len(global) != 2 || global[1].ParticipantID != "u1" || global[1].Score != 820 {
		t.Fatalf("unexpected global ranking %+v", global)
	}
}

func TestRankingRecorderIgnoresAbortedSessions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	recorder := NewRankingRecorder(newClient(mr))
	err = recorder.SessionAborted(context.Background(), domain.SessionAborted{SessionID: "s1", QuizID: "quiz-1", AbortedAt: time.Now()})
	if err != nil {
		t.Fatalf("aborted: %v", err)
	}
	if mr.Exists("leaderboard:global") {
		t.Fatalf("aborted sessions must not touch rankings")
	}
}
