package engine

import (
	"sort"
	"time"

	"quiz-engine/internal/domain"
)

// BuildLeaderboard ranks participants by score descending, then by aggregate
// latency ascending, then by join order. Ranks are 1..n with no shared values.
func BuildLeaderboard(sessionID, quizID string, participants []*domain.Participant, at time.Time) domain.Leaderboard {
	ranked := make([]*domain.Participant, len(participants))
	copy(ranked, participants)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.TotalLatency(), b.TotalLatency(); la != lb {
			return la < lb
		}
		return a.JoinOrder < b.JoinOrder
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, p := range ranked {
		correct, incorrect, missed := p.Tally()
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Rank:          i + 1,
			TotalLatency:  p.TotalLatency(),
			Correct:       correct,
			Incorrect:     incorrect,
			Missed:        missed,
		})
	}

	return domain.Leaderboard{
		SessionID:   sessionID,
		QuizID:      quizID,
		Entries:     entries,
		CompletedAt: at,
	}
}
