package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session ID is unknown or was removed.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the session quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrStatsNotFound is returned for a user with no completed sessions.
	ErrStatsNotFound = errors.New("no statistics recorded for user")
	// ErrNoQuestions is returned when a quiz has nothing to play.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrInvalidRequest covers malformed inbound requests (empty IDs and such).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRoundNotOpen rejects submissions outside the open window of their question.
	ErrRoundNotOpen = errors.New("round is not open")
	// ErrDuplicateAnswer rejects a second submission for the same question.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")

	// ErrSessionFull is returned when the participant cap was reached.
	ErrSessionFull = errors.New("session is full")
	// ErrAlreadyStarted is returned when joining a session that left the waiting room.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionNotActive is returned when answering before the first round.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrSessionClosed is returned for operations on completed or aborted sessions.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNotCreator is returned when someone other than the creator controls a session.
	ErrNotCreator = errors.New("only the session creator can perform this action")
	// ErrNoLeaderboard is returned when asking for the ranking of an unfinished session.
	ErrNoLeaderboard = errors.New("leaderboard is only available for completed sessions")
)

// ErrorKind classifies engine errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindValidation is a malformed request: unknown session, participant or question.
	KindValidation
	// KindTiming is a late or duplicate submission.
	KindTiming
	// KindState is an operation invalid for the current session status.
	KindState
	// KindFatal aborts the affected session.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTiming:
		return "timing"
	case KindState:
		return "state"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FatalSessionError is an irrecoverable failure scoped to one session.
type FatalSessionError struct {
	SessionID string
	Err       error
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("session %s: fatal: %v", e.SessionID, e.Err)
}

func (e *FatalSessionError) Unwrap() error {
	return e.Err
}

var reasons = []struct {
	err    error
	kind   ErrorKind
	reason string
}{
	{ErrSessionNotFound, KindValidation, "session_not_found"},
	{ErrParticipantNotFound, KindValidation, "unknown_participant"},
	{ErrQuizNotFound, KindValidation, "quiz_not_found"},
	{ErrQuestionNotFound, KindValidation, "unknown_question"},
	{ErrOptionNotFound, KindValidation, "unknown_option"},
	{ErrStatsNotFound, KindValidation, "stats_not_found"},
	{ErrNoQuestions, KindValidation, "no_questions"},
	{ErrInvalidRequest, KindValidation, "invalid_request"},
	{ErrRoundNotOpen, KindTiming, "round_not_open"},
	{ErrDuplicateAnswer, KindTiming, "duplicate"},
	{ErrSessionFull, KindState, "session_full"},
	{ErrAlreadyStarted, KindState, "already_started"},
	{ErrSessionNotActive, KindState, "session_not_active"},
	{ErrSessionClosed, KindState, "session_closed"},
	{ErrNotCreator, KindState, "not_creator"},
	{ErrNoLeaderboard, KindState, "leaderboard_unavailable"},
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	var fatal *FatalSessionError
	if errors.As(err, &fatal) {
		return KindFatal
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.kind
		}
	}
	return KindUnknown
}

// Reason returns the stable rejection code reported to callers.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var fatal *FatalSessionError
	if errors.As(err, &fatal) {
		return "fatal"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
