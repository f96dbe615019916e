package engine

import (
	"sync"
	"time"

	"quiz-engine/internal/domain"
)

// round collects answers for one question. Its mutex serializes acceptance so a
// participant can have at most one accepted submission per question.
type round struct {
	index     int
	question  domain.Question
	startedAt time.Time
	deadline  time.Time
	expected  int

	mu       sync.Mutex
	status   domain.RoundStatus
	accepted map[string]domain.AnswerSubmission
	order    []string
}

func newRound(index int, question domain.Question, expected int) *round {
	return &round{
		index:    index,
		question: question,
		expected: expected,
		status:   domain.RoundStatusPending,
		accepted: make(map[string]domain.AnswerSubmission, expected),
	}
}

func (r *round) open(now time.Time, limit time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedAt = now
	r.deadline = now.Add(limit)
	r.status = domain.RoundStatusOpen
}

// submit records sub with its latency relative to the round start. It reports
// whether every expected participant has now answered.
func (r *round) submit(sub domain.AnswerSubmission, now time.Time) (domain.AnswerSubmission, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RoundStatusOpen || now.After(r.deadline) {
		return domain.AnswerSubmission{}, false, domain.ErrRoundNotOpen
	}
	if _, dup := r.accepted[sub.ParticipantID]; dup {
		return domain.AnswerSubmission{}, false, domain.ErrDuplicateAnswer
	}

	sub.SubmittedAt = now
	sub.Latency = now.Sub(r.startedAt)
	if sub.Latency < 0 {
		sub.Latency = 0
	}
	r.accepted[sub.ParticipantID] = sub
	r.order = append(r.order, sub.ParticipantID)
	return sub, len(r.accepted) >= r.expected, nil
}

// close stops acceptance and returns the accepted submissions in arrival order.
// The second result is false if the round was already closed.
func (r *round) close() ([]domain.AnswerSubmission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == domain.RoundStatusClosed {
		return nil, false
	}
	r.status = domain.RoundStatusClosed
	subs := make([]domain.AnswerSubmission, 0, len(r.order))
	for _, id := range r.order {
		subs = append(subs, r.accepted[id])
	}
	return subs, true
}

func (r *round) answered(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accepted[participantID]
	return ok
}

func (r *round) view() domain.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Round{
		Index:      r.index,
		QuestionID: r.question.ID,
		StartedAt:  r.startedAt,
		Deadline:   r.deadline,
		Status:     r.status,
	}
}
