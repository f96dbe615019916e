package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

func participant(id string, order, score int, latencies ...time.Duration) *domain.Participant {
	p := &domain.Participant{ID: id, DisplayName: id, JoinOrder: order, Score: score}
	for _, l := range latencies {
		p.Results = append(p.Results, domain.QuestionResult{Latency: l, Kind: domain.ResultCorrect})
	}
	return p
}

func TestLeaderboardTieBreakChain(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lb := engine.BuildLeaderboard("s1", "quiz-1", []*domain.Participant{
		participant("late-joiner", 4, 500, 2*time.Second),
		participant("slow", 2, 500, 5*time.Second),
		participant("top", 3, 900, 9*time.Second),
		participant("early-joiner", 1, 500, 2*time.Second),
		participant("zero", 5, 0),
	}, now)

	ids := make([]string, 0, len(lb.Entries))
	for i, e := range lb.Entries {
		ids = append(ids, e.ParticipantID)
		require.Equal(t, i+1, e.Rank)
	}
	require.Equal(t, []string{"top", "early-joiner", "late-joiner", "slow", "zero"}, ids)
	require.Equal(t, "quiz-1", lb.QuizID)
	require.Equal(t, now, lb.CompletedAt)
}

func TestLeaderboardDoesNotReorderInput(t *testing.T) {
	in := []*domain.Participant{participant("a", 1, 1), participant("b", 2, 2)}
	_ = engine.BuildLeaderboard("s1", "q", in, time.Time{})
	require.Equal(t, "a", in[0].ID)
}

func TestLeaderboardCountsResultKinds(t *testing.T) {
	p := &domain.Participant{ID: "a", JoinOrder: 1, Score: 820, Results: []domain.QuestionResult{
		{Kind: domain.ResultCorrect, Latency: 2 * time.Second, Awarded: 820},
		{Kind: domain.ResultIncorrect, Latency: time.Second},
		{Kind: domain.ResultMissed, Latency: 10 * time.Second},
	}}
	lb := engine.BuildLeaderboard("s1", "q", []*domain.Participant{p}, time.Time{})
	require.Len(t, lb.Entries, 1)
	e := lb.Entries[0]
	require.Equal(t, 1, e.Correct)
	require.Equal(t, 1, e.Incorrect)
	require.Equal(t, 1, e.Missed)
	require.Equal(t, 13*time.Second, e.TotalLatency)
}
