package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
)

// SessionRegistry owns running sessions (in-memory registry, optionally mirrored to Redis).
type SessionRegistry interface {
	Create(quiz domain.Quiz, creator string, rules engine.Rules) (*engine.Session, error)
	Get(sessionID string) (*engine.Session, error)
	Remove(sessionID string) error
}

// QuizRepository loads catalog quizzes (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Settings bound what a creator may choose for a new session.
type Settings struct {
	// QuestionCounts lists the allowed question counts; the first one is the default.
	QuestionCounts []int
	// TimeLimits lists the allowed per-question time limits; the first one is the default.
	TimeLimits []time.Duration
	Shuffle    bool
	Rules      engine.Rules
}

// CreateOptions are the creator's choices. Zero or disallowed values fall back to defaults.
type CreateOptions struct {
	QuestionCount int
	TimeLimit     time.Duration
}

// QuizService contains the core quiz use cases.
type QuizService struct {
	sessions SessionRegistry
	quizzes  QuizRepository
	settings Settings
	logger   *slog.Logger
	shuffle  func(n int, swap func(i, j int))
}

func NewQuizService(sessions SessionRegistry, quizzes QuizRepository, settings Settings, logger *slog.Logger) *QuizService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizService{
		sessions: sessions,
		quizzes:  quizzes,
		settings: settings,
		logger:   logger,
		shuffle:  rand.Shuffle,
	}
}

// CreateSession snapshots the quiz with the resolved rules and opens a session for it.
func (s *QuizService) CreateSession(ctx context.Context, quizID, creator string, opts CreateOptions) (domain.SessionView, error) {
	if strings.TrimSpace(quizID) == "" || strings.TrimSpace(creator) == "" {
		return domain.SessionView{}, fmt.Errorf("%w: quiz id and creator are required", domain.ErrInvalidRequest)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.SessionView{}, err
	}
	snapshot, err := s.snapshot(quiz, opts)
	if err != nil {
		return domain.SessionView{}, err
	}

	session, err := s.sessions.Create(snapshot, creator, s.settings.Rules)
	if err != nil {
		return domain.SessionView{}, err
	}
	s.logger.Info("session created",
		"session", session.ID(),
		"quiz", quizID,
		"questions", snapshot.QuestionCount(),
		"timeLimit", snapshot.TimeLimit,
	)
	return session.View(), nil
}

// JoinSession adds a participant to a waiting session.
func (s *QuizService) JoinSession(_ context.Context, sessionID, participantID, displayName string) (domain.SessionView, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	return session.Join(participantID, displayName)
}

// SubmitAnswer forwards a submission to the session's answer collector.
func (s *QuizService) SubmitAnswer(_ context.Context, sessionID, participantID, questionID, optionID string) (domain.AnswerReceipt, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	receipt, err := session.Submit(participantID, questionID, optionID)
	if err != nil {
		s.logger.Debug("answer rejected",
			"session", sessionID,
			"participant", participantID,
			"question", questionID,
			"reason", domain.Reason(err),
		)
		return domain.AnswerReceipt{}, err
	}
	return receipt, nil
}

// StartSession ends the waiting room early. Only the creator may do this.
func (s *QuizService) StartSession(_ context.Context, sessionID, requester string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	return session.Start(requester)
}

// CancelSession aborts a session on the creator's request. Scores are discarded.
func (s *QuizService) CancelSession(_ context.Context, sessionID, requester string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if requester != session.Creator() {
		return domain.ErrNotCreator
	}
	return session.Abort(domain.AbortCancelled, "cancelled by creator")
}

// Session returns the current view of a session.
func (s *QuizService) Session(_ context.Context, sessionID string) (domain.SessionView, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	return session.View(), nil
}

// Leaderboard returns the final ranking of a completed session.
func (s *QuizService) Leaderboard(_ context.Context, sessionID string) (domain.Leaderboard, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return session.Leaderboard()
}

// RemoveSession tears a session down. Its ID is never resolved again.
func (s *QuizService) RemoveSession(_ context.Context, sessionID string) error {
	return s.sessions.Remove(sessionID)
}

// snapshot selects the questions to play and fixes the time limit.
func (s *QuizService) snapshot(quiz domain.Quiz, opts CreateOptions) (domain.Quiz, error) {
	if quiz.QuestionCount() == 0 {
		return domain.Quiz{}, domain.ErrNoQuestions
	}

	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		q.Options = append([]domain.Option(nil), q.Options...)
		questions[i] = q
	}
	if s.settings.Shuffle {
		s.shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	}

	count := resolveChoice(opts.QuestionCount, s.settings.QuestionCounts, len(questions))
	if count <= 0 || count > len(questions) {
		count = len(questions)
	}

	limit := resolveChoice(opts.TimeLimit, s.settings.TimeLimits, quiz.TimeLimit)
	if limit <= 0 {
		return domain.Quiz{}, fmt.Errorf("%w: no time limit configured for quiz %s", domain.ErrInvalidRequest, quiz.ID)
	}

	return domain.Quiz{
		ID:        quiz.ID,
		Title:     quiz.Title,
		Questions: questions[:count],
		TimeLimit: limit,
	}, nil
}

// resolveChoice accepts requested when it is allowed, otherwise falls back to the
// first allowed value. With no allowed list, a positive request wins over fallback.
func resolveChoice[T int | time.Duration](requested T, allowed []T, fallback T) T {
	if len(allowed) == 0 {
		if requested > 0 {
			return requested
		}
		return fallback
	}
	for _, v := range allowed {
		if v == requested {
			return v
		}
	}
	return allowed[0]
}
