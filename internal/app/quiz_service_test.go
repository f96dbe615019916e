package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
	"quiz-engine/internal/infra/memory"
)

type harness struct {
	clock    *engine.ManualClock
	registry *memory.Registry
	service  *app.QuizService
}

func newHarness(t *testing.T, settings app.Settings) *harness {
	t.Helper()
	clock := engine.NewManualClock(time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC))
	registry := memory.NewRegistry(engine.Options{Clock: clock}, memory.RegistryConfig{Retention: time.Hour})
	t.Cleanup(registry.Close)

	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": catalogQuiz(),
	}), time.Minute)
	return &harness{
		clock:    clock,
		registry: registry,
		service:  app.NewQuizService(registry, quizzes, settings, nil),
	}
}

func catalogQuiz() domain.Quiz {
	questions := make([]domain.Question, 0, 5)
	for i := 1; i <= 5; i++ {
		questions = append(questions, domain.Question{
			ID:     "q" + string(rune('0'+i)),
			Prompt: "question",
			Options: []domain.Option{
				{ID: "a", Text: "right", Correct: true},
				{ID: "b", Text: "wrong"},
			},
		})
	}
	return domain.Quiz{ID: "quiz-1", Title: "Sample", Questions: questions}
}

func defaultSettings() app.Settings {
	return app.Settings{
		QuestionCounts: []int{2, 5},
		TimeLimits:     []time.Duration{10 * time.Second, 30 * time.Second},
		Rules:          engine.Rules{JoinWindow: 30 * time.Second},
	}
}

func TestCreateSessionResolvesRules(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	view, err := h.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{QuestionCount: 5, TimeLimit: 30 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 5, view.QuestionCount)
	require.Equal(t, 30*time.Second, view.TimeLimit)
	require.Equal(t, domain.StatusWaiting, view.Status)

	// disallowed choices fall back to the first allowed value
	view, err = h.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{QuestionCount: 4, TimeLimit: time.Second})
	require.NoError(t, err)
	require.Equal(t, 2, view.QuestionCount)
	require.Equal(t, 10*time.Second, view.TimeLimit)
	require.NotEmpty(t, view.ID)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	_, err := h.service.CreateSession(ctx, "missing", "creator", app.CreateOptions{})
	require.ErrorIs(t, err, domain.ErrQuizNotFound)

	_, err = h.service.CreateSession(ctx, "quiz-1", "", app.CreateOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	noLimit := newHarness(t, app.Settings{})
	_, err = noLimit.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSessionPlaysToCompletion(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	view, err := h.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{})
	require.NoError(t, err)
	id := view.ID

	_, err = h.service.JoinSession(ctx, id, "u1", "Alice")
	require.NoError(t, err)
	_, err = h.service.JoinSession(ctx, id, "u2", "Bob")
	require.NoError(t, err)

	_, err = h.service.SubmitAnswer(ctx, id, "u1", "q1", "a")
	require.ErrorIs(t, err, domain.ErrSessionNotActive)

	require.ErrorIs(t, h.service.StartSession(ctx, id, "u1"), domain.ErrNotCreator)
	require.NoError(t, h.service.StartSession(ctx, id, "creator"))

	for _, qid := range []string{"q1", "q2"} {
		view, err = h.service.Session(ctx, id)
		require.NoError(t, err)
		require.Equal(t, qid, view.Question.ID)
		require.Empty(t, view.Question.CorrectOption())

		h.clock.Advance(time.Second)
		receipt, err := h.service.SubmitAnswer(ctx, id, "u1", qid, "a")
		require.NoError(t, err)
		require.Equal(t, time.Second, receipt.Latency)
		_, err = h.service.SubmitAnswer(ctx, id, "u2", qid, "b")
		require.NoError(t, err)
	}

	lb, err := h.service.Leaderboard(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "u1", lb.Entries[0].ParticipantID)
	require.Equal(t, 2*910, lb.Entries[0].Score)
	require.Zero(t, lb.Entries[1].Score)

	_, err = h.service.JoinSession(ctx, id, "u3", "Carol")
	require.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestCancelSession(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	view, err := h.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, h.service.CancelSession(ctx, view.ID, "intruder"), domain.ErrNotCreator)
	require.NoError(t, h.service.CancelSession(ctx, view.ID, "creator"))

	view, err = h.service.Session(ctx, view.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, view.Status)

	_, err = h.service.Leaderboard(ctx, view.ID)
	require.ErrorIs(t, err, domain.ErrNoLeaderboard)
}

func TestRemoveSession(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	view, err := h.service.CreateSession(ctx, "quiz-1", "creator", app.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.service.RemoveSession(ctx, view.ID))

	_, err = h.service.Session(ctx, view.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = h.service.SubmitAnswer(ctx, view.ID, "u1", "q1", "a")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Equal(t, "session_not_found", domain.Reason(err))
}
