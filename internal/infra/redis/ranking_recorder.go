package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

const globalRankingKey = "leaderboard:global"

// RankingRecorder accumulates completed-session scores into per-quiz and global
// sorted sets. Only completion events carry scores; the rest are ignored.
type RankingRecorder struct {
	engine.NopNotifier
	client *redis.Client
}

func NewRankingRecorder(client *redis.Client) *RankingRecorder {
	return &RankingRecorder{client: client}
}

func (r *RankingRecorder) SessionCompleted(ctx context.Context, ev domain.SessionCompleted) error {
	if len(ev.Leaderboard.Entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	quizKey := QuizRankingKey(ev.QuizID)
	for _, entry := range ev.Leaderboard.Entries {
		pipe.ZIncrBy(ctx, quizKey, float64(entry.Score), entry.ParticipantID)
		pipe.ZIncrBy(ctx, globalRankingKey, float64(entry.Score), entry.ParticipantID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rankings for session %s: %w", ev.SessionID, err)
	}
	return nil
}

// Top returns the n best accumulated scores for a quiz, or globally when quizID is empty.
func (r *RankingRecorder) Top(ctx context.Context, quizID string, n int64) ([]domain.RankingEntry, error) {
	key := globalRankingKey
	if quizID != "" {
		key = QuizRankingKey(quizID)
	}
	if n <= 0 {
		return []domain.RankingEntry{}, nil
	}
	rows, err := r.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ranking %s: %w", key, err)
	}
	entries := make([]domain.RankingEntry, 0, len(rows))
	for i, row := range rows {
		member, _ := row.Member.(string)
		entries = append(entries, domain.RankingEntry{Rank: i + 1, ParticipantID: member, Score: int64(row.Score)})
	}
	return entries, nil
}

func QuizRankingKey(quizID string) string {
	return "leaderboard:quiz:" + quizID
}
