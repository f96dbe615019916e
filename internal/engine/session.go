package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quiz-engine/internal/domain"
)

const notifyTimeout = 10 * time.Second

// Rules control how a session leaves the waiting room and paces its rounds.
type Rules struct {
	JoinWindow      time.Duration // 0 disables the join timer; start by threshold or creator
	MinParticipants int           // required when the session starts; at least 1
	MaxParticipants int           // 0 means unlimited; reaching it starts the session
	AutoStartAt     int           // 0 disables; reaching this count starts the session
	Intermission    time.Duration // pause between a closed round and the next one
}

// Options are the collaborators shared by sessions.
type Options struct {
	Clock    Clock
	Scorer   *Scorer
	Notifier Notifier
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Scorer == nil {
		o.Scorer, _ = NewScorer(DefaultScoringConfig())
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type event struct {
	name    string
	deliver func(ctx context.Context, n Notifier) error
}

// Session runs one quiz: waiting room, one open round at a time, then completion
// or abort. The state machine is the only writer of status and the current round.
type Session struct {
	id        string
	creator   string
	quiz      domain.Quiz
	rules     Rules
	createdAt time.Time

	clock    Clock
	scorer   *Scorer
	notifier Notifier
	logger   *slog.Logger

	status  atomic.Value // domain.SessionStatus
	current atomic.Pointer[round]

	mu           sync.Mutex
	participants map[string]*domain.Participant // frozen once the first round opens
	order        []*domain.Participant
	timer        scheduler
	leaderboard  *domain.Leaderboard
	finishedAt   time.Time

	events chan event
	done   chan struct{}
}

// NewSession builds a session in the waiting state. The quiz must already be the
// immutable snapshot to play (questions selected, TimeLimit set).
func NewSession(id, creator string, quiz domain.Quiz, rules Rules, opts Options) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", domain.ErrInvalidRequest)
	}
	if quiz.QuestionCount() == 0 {
		return nil, domain.ErrNoQuestions
	}
	if quiz.TimeLimit <= 0 {
		return nil, fmt.Errorf("%w: time limit must be positive", domain.ErrInvalidRequest)
	}
	for _, q := range quiz.Questions {
		if q.CorrectOption() == "" {
			return nil, fmt.Errorf("%w: question %s has no correct option", domain.ErrInvalidRequest, q.ID)
		}
	}
	if rules.MinParticipants < 1 {
		rules.MinParticipants = 1
	}
	opts = opts.withDefaults()

	s := &Session{
		id:           id,
		creator:      creator,
		quiz:         quiz,
		rules:        rules,
		createdAt:    opts.Clock.Now(),
		clock:        opts.Clock,
		scorer:       opts.Scorer,
		notifier:     opts.Notifier,
		logger:       opts.Logger.With("session", id, "quiz", quiz.ID),
		participants: make(map[string]*domain.Participant),
		timer:        scheduler{clock: opts.Clock},
		events:       make(chan event, 2*quiz.QuestionCount()+2), // two per round plus the terminal one
		done:         make(chan struct{}),
	}
	s.status.Store(domain.StatusWaiting)

	go s.dispatch()

	return s, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) QuizID() string        { return s.quiz.ID }
func (s *Session) Creator() string       { return s.creator }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) Done() <-chan struct{} { return s.done }
func (s *Session) Quiz() domain.Quiz     { return s.quiz }
func (s *Session) Rules() Rules          { return s.rules }

// Status is safe to call without holding any lock.
func (s *Session) Status() domain.SessionStatus {
	return s.status.Load().(domain.SessionStatus)
}

// FinishedAt is zero until the session completes or aborts.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// Open arms the join window.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != domain.StatusWaiting {
		return domain.ErrAlreadyStarted
	}
	if s.rules.JoinWindow > 0 {
		if !s.timer.arm(phaseJoin, -1, s.rules.JoinWindow, s.onTimer) {
			s.failLocked(errors.New("timer unavailable for join window"))
			return domain.ErrSessionClosed
		}
	}
	s.logger.Info("session open", "joinWindow", s.rules.JoinWindow, "questions", s.quiz.QuestionCount())
	return nil
}

// Join adds a participant to the waiting room. Joining again only refreshes the
// display name.
func (s *Session) Join(participantID, displayName string) (domain.SessionView, error) {
	if strings.TrimSpace(participantID) == "" {
		return domain.SessionView{}, fmt.Errorf("%w: empty participant id", domain.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch status := s.Status(); {
	case status == domain.StatusActive:
		if s.rules.MaxParticipants > 0 && len(s.order) >= s.rules.MaxParticipants {
			return domain.SessionView{}, domain.ErrSessionFull
		}
		return domain.SessionView{}, domain.ErrAlreadyStarted
	case status.Terminal():
		return domain.SessionView{}, domain.ErrSessionClosed
	}

	if p, ok := s.participants[participantID]; ok {
		if displayName != "" {
			p.DisplayName = displayName
		}
		return s.viewLocked(), nil
	}
	if s.rules.MaxParticipants > 0 && len(s.order) >= s.rules.MaxParticipants {
		return domain.SessionView{}, domain.ErrSessionFull
	}

	p := &domain.Participant{
		ID:          participantID,
		DisplayName: displayName,
		JoinedAt:    s.clock.Now(),
		JoinOrder:   len(s.order) + 1,
	}
	s.participants[participantID] = p
	s.order = append(s.order, p)
	s.logger.Debug("participant joined", "participant", participantID, "count", len(s.order))

	full := s.rules.MaxParticipants > 0 && len(s.order) >= s.rules.MaxParticipants
	threshold := s.rules.AutoStartAt > 0 && len(s.order) >= s.rules.AutoStartAt
	if full || threshold {
		s.activateLocked()
	}
	return s.viewLocked(), nil
}

// Start ends the waiting room early on the creator's request.
func (s *Session) Start(requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requester != s.creator {
		return domain.ErrNotCreator
	}
	switch status := s.Status(); {
	case status == domain.StatusActive:
		return domain.ErrAlreadyStarted
	case status.Terminal():
		return domain.ErrSessionClosed
	}
	s.activateLocked()
	return nil
}

// Abort cancels the session. Scores accumulated so far are discarded.
func (s *Session) Abort(reason domain.AbortReason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status().Terminal() {
		return domain.ErrSessionClosed
	}
	s.abortLocked(reason, detail)
	return nil
}

// Submit is the answer collector entry point. It is safe for concurrent use and
// does not take the session mutex unless the submission completes the round.
func (s *Session) Submit(participantID, questionID, optionID string) (domain.AnswerReceipt, error) {
	rd := s.current.Load()
	status := s.Status()
	if status.Terminal() {
		return domain.AnswerReceipt{}, domain.ErrSessionClosed
	}
	if rd == nil {
		return domain.AnswerReceipt{}, domain.ErrSessionNotActive
	}

	if _, ok := s.participants[participantID]; !ok {
		return domain.AnswerReceipt{}, domain.ErrParticipantNotFound
	}
	question, _, ok := s.quiz.Question(questionID)
	if !ok {
		return domain.AnswerReceipt{}, domain.ErrQuestionNotFound
	}
	if !question.HasOption(optionID) {
		return domain.AnswerReceipt{}, domain.ErrOptionNotFound
	}
	if rd.question.ID != questionID {
		return domain.AnswerReceipt{}, domain.ErrRoundNotOpen
	}

	sub, full, err := rd.submit(domain.AnswerSubmission{
		ParticipantID: participantID,
		QuestionID:    questionID,
		OptionID:      optionID,
	}, s.clock.Now())
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	if full {
		s.closeEarly(rd)
	}
	return domain.AnswerReceipt{SessionID: s.id, QuestionID: questionID, Latency: sub.Latency}, nil
}

// View returns a consistent snapshot. The correct option is hidden while a round is open.
func (s *Session) View() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Leaderboard is only available once the session completed.
func (s *Session) Leaderboard() (domain.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderboard == nil {
		return domain.Leaderboard{}, domain.ErrNoLeaderboard
	}
	return *s.leaderboard, nil
}

func (s *Session) activateLocked() {
	s.timer.disarm()

	switch n := len(s.order); {
	case n == 0:
		s.abortLocked(domain.AbortNoParticipants, "")
		return
	case n < s.rules.MinParticipants:
		s.abortLocked(domain.AbortTooFew, fmt.Sprintf("%d of %d participants", n, s.rules.MinParticipants))
		return
	}

	s.status.Store(domain.StatusActive)
	s.logger.Info("session started", "participants", len(s.order))
	s.openRoundLocked(0)
}

func (s *Session) openRoundLocked(index int) {
	if index < 0 || index >= s.quiz.QuestionCount() {
		s.failLocked(fmt.Errorf("round %d out of range", index))
		return
	}

	rd := newRound(index, s.quiz.Questions[index], len(s.order))
	rd.open(s.clock.Now(), s.quiz.TimeLimit)
	s.current.Store(rd)

	if !s.timer.arm(phaseRound, index, s.quiz.TimeLimit, s.onTimer) {
		s.failLocked(fmt.Errorf("timer unavailable for round %d", index))
		return
	}

	ev := domain.RoundOpened{
		SessionID: s.id,
		Round:     index,
		Rounds:    s.quiz.QuestionCount(),
		Question:  rd.question.Public(),
		StartedAt: rd.startedAt,
		Deadline:  rd.deadline,
		TimeLimit: s.quiz.TimeLimit,
	}
	s.logger.Debug("round opened", "round", index, "question", rd.question.ID, "deadline", rd.deadline)
	s.emit("round_opened", func(ctx context.Context, n Notifier) error { return n.RoundOpened(ctx, ev) })
}

func (s *Session) closeEarly(rd *round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverLocked()

	if s.Status() != domain.StatusActive || s.current.Load() != rd {
		return
	}
	s.closeRoundLocked(rd, domain.ClosedAllAnswered)
}

func (s *Session) closeRoundLocked(rd *round, reason domain.CloseReason) {
	subs, ok := rd.close()
	if !ok {
		return
	}
	s.timer.disarm()

	limit := s.quiz.TimeLimit
	correctID := rd.question.CorrectOption()
	outcomes := make(map[string]domain.QuestionResult, len(s.order))

	// arrival order
	for _, sub := range subs {
		p, ok := s.participants[sub.ParticipantID]
		if !ok {
			s.failLocked(fmt.Errorf("accepted answer from unknown participant %s", sub.ParticipantID))
			return
		}
		correct := sub.OptionID == correctID
		res := domain.QuestionResult{
			QuestionID: rd.question.ID,
			OptionID:   sub.OptionID,
			Kind:       domain.ResultIncorrect,
			Latency:    sub.Latency,
			Awarded:    s.scorer.Score(correct, sub.Latency, limit),
		}
		if correct {
			res.Kind = domain.ResultCorrect
		}
		p.Score += res.Awarded
		p.Results = append(p.Results, res)
		outcomes[p.ID] = res
	}

	results := make([]domain.ParticipantResult, 0, len(s.order))
	for _, p := range s.order {
		res, answered := outcomes[p.ID]
		if !answered {
			res = domain.QuestionResult{QuestionID: rd.question.ID, Kind: domain.ResultMissed, Latency: limit}
			p.Results = append(p.Results, res)
		}
		results = append(results, domain.ParticipantResult{ParticipantID: p.ID, Result: res, Total: p.Score})
	}

	ev := domain.RoundClosed{
		SessionID:       s.id,
		Round:           rd.index,
		Question:        rd.question,
		CorrectOptionID: correctID,
		ClosedBy:        reason,
		ClosedAt:        s.clock.Now(),
		Results:         results,
	}
	s.logger.Debug("round closed", "round", rd.index, "answers", len(subs), "closedBy", reason)
	s.emit("round_closed", func(ctx context.Context, n Notifier) error { return n.RoundClosed(ctx, ev) })

	next := rd.index + 1
	switch {
	case next >= s.quiz.QuestionCount():
		s.completeLocked()
	case s.rules.Intermission > 0:
		if !s.timer.arm(phaseIntermission, next, s.rules.Intermission, s.onTimer) {
			s.failLocked(fmt.Errorf("timer unavailable for intermission before round %d", next))
		}
	default:
		s.openRoundLocked(next)
	}
}

func (s *Session) completeLocked() {
	now := s.clock.Now()
	lb := BuildLeaderboard(s.id, s.quiz.ID, s.order, now)
	s.leaderboard = &lb
	s.finishedAt = now
	s.status.Store(domain.StatusCompleted)

	ev := domain.SessionCompleted{
		SessionID:    s.id,
		QuizID:       s.quiz.ID,
		Leaderboard:  lb,
		Participants: s.participantsLocked(),
	}
	s.logger.Info("session completed", "participants", len(s.order))
	s.emit("session_completed", func(ctx context.Context, n Notifier) error { return n.SessionCompleted(ctx, ev) })
	close(s.events)
}

func (s *Session) abortLocked(reason domain.AbortReason, detail string) {
	s.timer.disarm()
	if rd := s.current.Load(); rd != nil {
		rd.close()
	}
	for _, p := range s.order {
		p.Score = 0
		p.Results = nil
	}
	now := s.clock.Now()
	s.finishedAt = now
	s.status.Store(domain.StatusAborted)

	ev := domain.SessionAborted{
		SessionID: s.id,
		QuizID:    s.quiz.ID,
		Reason:    reason,
		Detail:    detail,
		AbortedAt: now,
	}
	s.logger.Info("session aborted", "reason", reason, "detail", detail)
	s.emit("session_aborted", func(ctx context.Context, n Notifier) error { return n.SessionAborted(ctx, ev) })
	close(s.events)
}

// failLocked turns an internal invariant violation into an abort of this session only.
func (s *Session) failLocked(cause error) {
	if s.Status().Terminal() {
		return
	}
	err := &domain.FatalSessionError{SessionID: s.id, Err: cause}
	s.logger.Error("session failed", "error", err)
	s.abortLocked(domain.AbortFatal, err.Error())
}

func (s *Session) recoverLocked() {
	if r := recover(); r != nil {
		s.failLocked(fmt.Errorf("panic: %v", r))
	}
}

func (s *Session) onTimer(tag timerTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverLocked()

	if !s.timer.claim(tag) {
		s.logger.Debug("stale timer ignored", "phase", tag.phase, "round", tag.round)
		return
	}

	switch tag.phase {
	case phaseJoin:
		if s.Status() == domain.StatusWaiting {
			s.activateLocked()
		}
	case phaseRound:
		if rd := s.current.Load(); rd != nil && rd.index == tag.round && s.Status() == domain.StatusActive {
			s.closeRoundLocked(rd, domain.ClosedByDeadline)
		}
	case phaseIntermission:
		if s.Status() == domain.StatusActive {
			s.openRoundLocked(tag.round)
		}
	}
}

func (s *Session) emit(name string, deliver func(ctx context.Context, n Notifier) error) {
	select {
	case s.events <- event{name: name, deliver: deliver}:
	default:
		s.logger.Error("event queue full, dropping event", "event", name)
	}
}

// dispatch delivers events in order until the terminal event has been sent.
func (s *Session) dispatch() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := ev.deliver(ctx, s.notifier); err != nil {
			s.logger.Warn("notifier failed", "event", ev.name, "error", err)
		}
		cancel()
	}
}

func (s *Session) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.order))
	for _, p := range s.order {
		cp := *p
		cp.Results = append([]domain.QuestionResult(nil), p.Results...)
		out = append(out, cp)
	}
	return out
}

func (s *Session) viewLocked() domain.SessionView {
	view := domain.SessionView{
		ID:            s.id,
		QuizID:        s.quiz.ID,
		Creator:       s.creator,
		Status:        s.Status(),
		QuestionCount: s.quiz.QuestionCount(),
		TimeLimit:     s.quiz.TimeLimit,
		Participants:  s.participantsLocked(),
		CreatedAt:     s.createdAt,
	}
	if rd := s.current.Load(); rd != nil && !view.Status.Terminal() {
		r := rd.view()
		view.Round = &r
		q := rd.question.Public()
		view.Question = &q
	}
	return view
}
