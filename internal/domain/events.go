package domain

import "time"

// CloseReason records which side won the deadline/participation race.
type CloseReason string

const (
	ClosedByDeadline  CloseReason = "deadline"
	ClosedAllAnswered CloseReason = "all_answered"
)

// AbortReason explains why a session ended without a leaderboard.
type AbortReason string

const (
	AbortNoParticipants AbortReason = "no_participants"
	AbortTooFew         AbortReason = "not_enough_participants"
	AbortCancelled      AbortReason = "cancelled"
	AbortRemoved        AbortReason = "removed"
	AbortShutdown       AbortReason = "shutdown"
	AbortFatal          AbortReason = "fatal_error"
)

// RoundOpened is emitted when a question starts accepting answers.
type RoundOpened struct {
	SessionID string        `json:"sessionId"`
	Round     int           `json:"round"`
	Rounds    int           `json:"rounds"`
	Question  Question      `json:"question"` // correct flags stripped
	StartedAt time.Time     `json:"startedAt"`
	Deadline  time.Time     `json:"deadline"`
	TimeLimit time.Duration `json:"timeLimit"`
}

// ParticipantResult pairs a participant with their outcome for one round.
type ParticipantResult struct {
	ParticipantID string         `json:"participantId"`
	Result        QuestionResult `json:"result"`
	Total         int            `json:"total"`
}

// RoundClosed is emitted once a round is closed and all its answers are scored.
type RoundClosed struct {
	SessionID       string              `json:"sessionId"`
	Round           int                 `json:"round"`
	Question        Question            `json:"question"`
	CorrectOptionID string              `json:"correctOptionId"`
	ClosedBy        CloseReason         `json:"closedBy"`
	ClosedAt        time.Time           `json:"closedAt"`
	Results         []ParticipantResult `json:"results"`
}

// SessionCompleted carries the final leaderboard.
type SessionCompleted struct {
	SessionID    string        `json:"sessionId"`
	QuizID       string        `json:"quizId"`
	Leaderboard  Leaderboard   `json:"leaderboard"`
	Participants []Participant `json:"participants"`
}

// SessionAborted is emitted instead of SessionCompleted; no scores are reported.
type SessionAborted struct {
	SessionID string      `json:"sessionId"`
	QuizID    string      `json:"quizId"`
	Reason    AbortReason `json:"reason"`
	Detail    string      `json:"detail,omitempty"`
	AbortedAt time.Time   `json:"abortedAt"`
}
