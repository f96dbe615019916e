package engine

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock supplies time and cancellable timers to sessions.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock is the wall clock backed by time.AfterFunc.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock only moves when Advance is called. Due timers fire synchronously
// on the goroutine calling Advance, in due-time order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	due   time.Time
	seq   int
	f     func()
	done  bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, due: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that becomes due,
// including timers scheduled by the callbacks themselves.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.due.After(c.now) {
			c.now = next.due
		}
		next.done = true
		c.removeLocked(next)
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of armed timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) nextDueLocked(target time.Time) *manualTimer {
	sort.Slice(c.timers, func(i, j int) bool {
		if !c.timers[i].due.Equal(c.timers[j].due) {
			return c.timers[i].due.Before(c.timers[j].due)
		}
		return c.timers[i].seq < c.timers[j].seq
	})
	if len(c.timers) == 0 || c.timers[0].due.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *ManualClock) removeLocked(t *manualTimer) {
	for i, candidate := range c.timers {
		if candidate == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

type phase int

const (
	phaseJoin phase = iota + 1
	phaseRound
	phaseIntermission
)

func (p phase) String() string {
	switch p {
	case phaseJoin:
		return "join_window"
	case phaseRound:
		return "round_deadline"
	case phaseIntermission:
		return "intermission"
	default:
		return "unknown"
	}
}

// timerTag identifies what a scheduled expiry was for. An expiry whose tag is no
// longer the armed one is stale and must be ignored.
type timerTag struct {
	phase phase
	round int
	gen   uint64
}

// scheduler holds at most one armed timer per session. Guarded by the session mutex.
type scheduler struct {
	clock Clock
	gen   uint64
	armed bool
	tag   timerTag
	timer Timer
}

// arm replaces any armed timer. It reports false when the clock could not
// provide a timer.
func (s *scheduler) arm(p phase, round int, d time.Duration, fire func(timerTag)) bool {
	s.disarm()
	s.gen++
	tag := timerTag{phase: p, round: round, gen: s.gen}
	t := s.clock.AfterFunc(d, func() { fire(tag) })
	if t == nil {
		return false
	}
	s.tag = tag
	s.timer = t
	s.armed = true
	return true
}

func (s *scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.armed = false
}

// claim consumes the armed timer if tag is still current.
func (s *scheduler) claim(tag timerTag) bool {
	if !s.armed || s.tag != tag {
		return false
	}
	s.armed = false
	s.timer = nil
	return true
}
