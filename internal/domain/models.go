package domain

import "time"

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// CorrectOption returns the ID of the option flagged as correct.
func (q Question) CorrectOption() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// HasOption reports whether optionID is one of the question's candidates.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Public strips the correct flag so the question can be shown while a round is open.
func (q Question) Public() Question {
	options := make([]Option, len(q.Options))
	for i, opt := range q.Options {
		options[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	return Question{ID: q.ID, Prompt: q.Prompt, Options: options}
}

// Quiz is a collection of questions. A session plays an immutable snapshot of it
// with TimeLimit set.
type Quiz struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Questions []Question    `json:"questions"`
	TimeLimit time.Duration `json:"timeLimit,omitempty"`
}

// QuestionCount is the number of rounds a session of this quiz plays.
func (q Quiz) QuestionCount() int {
	return len(q.Questions)
}

// Question looks up a question by ID and returns its position in the quiz.
func (q Quiz) Question(questionID string) (Question, int, bool) {
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			return q.Questions[i], i, true
		}
	}
	return Question{}, -1, false
}

// ResultKind distinguishes how a participant finished a question.
type ResultKind string

const (
	ResultCorrect   ResultKind = "correct"
	ResultIncorrect ResultKind = "incorrect"
	ResultMissed    ResultKind = "missed" // no submission before the round closed
)

// QuestionResult is the scored outcome of one question for one participant.
type QuestionResult struct {
	QuestionID string        `json:"questionId"`
	OptionID   string        `json:"optionId,omitempty"`
	Kind       ResultKind    `json:"kind"`
	Latency    time.Duration `json:"latency"`
	Awarded    int           `json:"awarded"`
}

// Participant is a session-scoped member and their accumulated score.
type Participant struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	JoinedAt    time.Time        `json:"joinedAt"`
	JoinOrder   int              `json:"joinOrder"`
	Score       int              `json:"score"`
	Results     []QuestionResult `json:"results"`
}

// TotalLatency sums the per-question latencies used for tie-breaking.
func (p *Participant) TotalLatency() time.Duration {
	var total time.Duration
	for _, r := range p.Results {
		total += r.Latency
	}
	return total
}

// Tally counts results by kind.
func (p *Participant) Tally() (correct, incorrect, missed int) {
	for _, r := range p.Results {
		switch r.Kind {
		case ResultCorrect:
			correct++
		case ResultIncorrect:
			incorrect++
		default:
			missed++
		}
	}
	return correct, incorrect, missed
}

// AnswerSubmission is an accepted answer. Latency is measured from the round start.
type AnswerSubmission struct {
	ParticipantID string        `json:"participantId"`
	QuestionID    string        `json:"questionId"`
	OptionID      string        `json:"optionId"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	Latency       time.Duration `json:"latency"`
}

// RoundStatus is the lifecycle of a question round.
type RoundStatus string

const (
	RoundStatusPending RoundStatus = "pending"
	RoundStatusOpen    RoundStatus = "open"
	RoundStatusClosed  RoundStatus = "closed"
)

// Round is a read-only view of the round for one question.
type Round struct {
	Index      int         `json:"index"`
	QuestionID string      `json:"questionId"`
	StartedAt  time.Time   `json:"startedAt"`
	Deadline   time.Time   `json:"deadline"`
	Status     RoundStatus `json:"status"`
}

// SessionStatus is the lifecycle of a quiz session.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAborted   SessionStatus = "aborted"
)

// Terminal reports whether no further transition can happen.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// SessionView is a consistent snapshot of a session for callers outside the engine.
type SessionView struct {
	ID            string        `json:"id"`
	QuizID        string        `json:"quizId"`
	Creator       string        `json:"creator"`
	Status        SessionStatus `json:"status"`
	QuestionCount int           `json:"questionCount"`
	TimeLimit     time.Duration `json:"timeLimit"`
	Participants  []Participant `json:"participants"`
	Round         *Round        `json:"round,omitempty"`
	Question      *Question     `json:"question,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// AnswerReceipt acknowledges an accepted submission.
type AnswerReceipt struct {
	SessionID  string        `json:"sessionId"`
	QuestionID string        `json:"questionId"`
	Latency    time.Duration `json:"latency"`
}

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	ParticipantID string        `json:"participantId"`
	DisplayName   string        `json:"displayName"`
	Score         int           `json:"score"`
	Rank          int           `json:"rank"`
	TotalLatency  time.Duration `json:"totalLatency"`
	Correct       int           `json:"correct"`
	Incorrect     int           `json:"incorrect"`
	Missed        int           `json:"missed"`
}

// Leaderboard captures the final ranking of a completed session.
type Leaderboard struct {
	SessionID   string             `json:"sessionId"`
	QuizID      string             `json:"quizId"`
	Entries     []LeaderboardEntry `json:"entries"`
	CompletedAt time.Time          `json:"completedAt"`
}

// UserStats aggregates a user's results over every completed session.
type UserStats struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	QuizzesPlayed int    `json:"quizzesPlayed"`
	Correct       int    `json:"correct"`
	Wrong         int    `json:"wrong"`
	Missed        int    `json:"missed"`
	Points        int64  `json:"points"`
}

// RankingEntry is one row of an accumulated quiz or global ranking.
type RankingEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Score         int64  `json:"score"`
}
