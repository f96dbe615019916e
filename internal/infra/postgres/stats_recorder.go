package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

// StatsRecorder persists per-user aggregate statistics and per-quiz play counts
// when a session completes. Aborted sessions are never persisted.
type StatsRecorder struct {
	engine.NopNotifier
	pool *pgxpool.Pool
}

func NewStatsRecorder(pool *pgxpool.Pool) *StatsRecorder {
	return &StatsRecorder{pool: pool}
}

const upsertUserStats = `
INSERT INTO user_stats (user_id, display_name, quizzes_played, correct, wrong, missed, points, updated_at)
VALUES ($1, $2, 1, $3, $4, $5, $6, now())
ON CONFLICT (user_id) DO UPDATE SET
	display_name   = COALESCE(NULLIF(EXCLUDED.display_name, ''), user_stats.display_name),
	quizzes_played = user_stats.quizzes_played + 1,
	correct        = user_stats.correct + EXCLUDED.correct,
	wrong          = user_stats.wrong + EXCLUDED.wrong,
	missed         = user_stats.missed + EXCLUDED.missed,
	points         = user_stats.points + EXCLUDED.points,
	updated_at     = now()`

const upsertQuizStats = `
INSERT INTO quiz_stats (quiz_id, times_played, last_played_at)
VALUES ($1, 1, $2)
ON CONFLICT (quiz_id) DO UPDATE SET
	times_played   = quiz_stats.times_played + 1,
	last_played_at = EXCLUDED.last_played_at`

func (r *StatsRecorder) SessionCompleted(ctx context.Context, ev domain.SessionCompleted) error {
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, p := range ev.Participants {
			correct, wrong, missed := p.Tally()
			if _, err := tx.Exec(ctx, upsertUserStats, p.ID, p.DisplayName, correct, wrong, missed, p.Score); err != nil {
				return fmt.Errorf("upsert stats for %s: %w", p.ID, err)
			}
		}
		if _, err := tx.Exec(ctx, upsertQuizStats, ev.QuizID, ev.Leaderboard.CompletedAt); err != nil {
			return fmt.Errorf("upsert quiz stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record session %s: %w", ev.SessionID, err)
	}
	return nil
}

// UserStats reads the aggregate statistics of one user.
func (r *StatsRecorder) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	var s domain.UserStats
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, display_name, quizzes_played, correct, wrong, missed, points FROM user_stats WHERE user_id=$1`,
		userID,
	).Scan(&s.UserID, &s.DisplayName, &s.QuizzesPlayed, &s.Correct, &s.Wrong, &s.Missed, &s.Points)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserStats{}, fmt.Errorf("load stats for %s: %w", userID, domain.ErrStatsNotFound)
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("load stats for %s: %w", userID, err)
	}
	return s, nil
}
