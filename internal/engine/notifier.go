package engine

import (
	"context"
	"errors"

	"quiz-engine/internal/domain"
)

// Notifier receives session lifecycle events. Calls for one session are made
// sequentially from that session's dispatcher goroutine, never from the scoring path.
type Notifier interface {
	RoundOpened(ctx context.Context, ev domain.RoundOpened) error
	RoundClosed(ctx context.Context, ev domain.RoundClosed) error
	SessionCompleted(ctx context.Context, ev domain.SessionCompleted) error
	SessionAborted(ctx context.Context, ev domain.SessionAborted) error
}

// NopNotifier discards every event. Embed it to implement a subset of Notifier.
type NopNotifier struct{}

func (NopNotifier) RoundOpened(context.Context, domain.RoundOpened) error           { return nil }
func (NopNotifier) RoundClosed(context.Context, domain.RoundClosed) error           { return nil }
func (NopNotifier) SessionCompleted(context.Context, domain.SessionCompleted) error { return nil }
func (NopNotifier) SessionAborted(context.Context, domain.SessionAborted) error     { return nil }

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) RoundOpened(ctx context.Context, ev domain.RoundOpened) error {
	return f.each(func(n Notifier) error { return n.RoundOpened(ctx, ev) })
}

func (f Fanout) RoundClosed(ctx context.Context, ev domain.RoundClosed) error {
	return f.each(func(n Notifier) error { return n.RoundClosed(ctx, ev) })
}

func (f Fanout) SessionCompleted(ctx context.Context, ev domain.SessionCompleted) error {
	return f.each(func(n Notifier) error { return n.SessionCompleted(ctx, ev) })
}

func (f Fanout) SessionAborted(ctx context.Context, ev domain.SessionAborted) error {
	return f.each(func(n Notifier) error { return n.SessionAborted(ctx, ev) })
}

func (f Fanout) each(call func(Notifier) error) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := call(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
