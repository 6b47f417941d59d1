package actor

import (
	"context"
	"errors"
)

// ErrMailboxFull is returned by TrySend when the inbox is at capacity and
// the caller asked not to block.
var ErrMailboxFull = errors.New("mailbox full")

// Mailbox is a bounded FIFO inbox plus a small bounded control lane
// (capacity 4) whose sends never block, the message-box fabric described in
// the spec's component B. A Mailbox has one reader; any number of
// goroutines may be senders. The actors in this repository receive their
// input through Transport subscriptions and channels rather than a Mailbox.
type Mailbox[T any] struct {
	inbox   chan T
	control chan ControlMessage
}

// ControlMessage is delivered out of band from normal inbox traffic so an
// actor can always be asked to flush or stop even when its inbox is full.
type ControlMessage int

const (
	ControlFlush ControlMessage = iota
	ControlShutdown
)

// NewMailbox creates a mailbox with the given bounded inbox capacity.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		inbox:   make(chan T, capacity),
		control: make(chan ControlMessage, 4),
	}
}

// Send blocks until the message is accepted or ctx is cancelled, giving the
// back-pressure behaviour the spec requires: a slow actor's inbox filling
// up propagates delay to its senders rather than silently dropping work.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	select {
	case m.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues without blocking, returning ErrMailboxFull if the inbox
// is at capacity, for senders that prefer dropping a message to waiting
// for room.
func (m *Mailbox[T]) TrySend(msg T) error {
	select {
	case m.inbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Inbox exposes the receive channel for use in the owning actor's select
// loop alongside Control() and ctx.Done().
func (m *Mailbox[T]) Inbox() <-chan T { return m.inbox }

// Control exposes the control lane's receive channel.
func (m *Mailbox[T]) Control() <-chan ControlMessage { return m.control }

// SendControl enqueues a control message; it never blocks on the data
// inbox, which is the point of having a separate lane.
func (m *Mailbox[T]) SendControl(msg ControlMessage) {
	select {
	case m.control <- msg:
	default:
		// control lane is tiny and drained promptly; a full lane means a
		// shutdown is already queued, so dropping a duplicate is safe.
	}
}

// Len reports the current inbox depth.
func (m *Mailbox[T]) Len() int { return len(m.inbox) }

// Cap reports the inbox capacity.
func (m *Mailbox[T]) Cap() int { return cap(m.inbox) }

// FanIn merges N source channels into a single channel the caller can
// select on, tagging each value with its source index. Used where an actor
// must listen to several upstream mailboxes at once (spec B: "fan-in tagged
// union").
func FanIn[T any](ctx context.Context, sources ...<-chan T) <-chan Tagged[T] {
	out := make(chan Tagged[T])
	remaining := len(sources)
	if remaining == 0 {
		close(out)
		return out
	}
	done := make(chan struct{}, remaining)
	for i, src := range sources {
		go func(idx int, src <-chan T) {
			for {
				select {
				case v, ok := <-src:
					if !ok {
						done <- struct{}{}
						return
					}
					select {
					case out <- Tagged[T]{Source: idx, Value: v}:
					case <-ctx.Done():
						done <- struct{}{}
						return
					}
				case <-ctx.Done():
					done <- struct{}{}
					return
				}
			}
		}(i, src)
	}
	go func() {
		for i := 0; i < remaining; i++ {
			<-done
		}
		close(out)
	}()
	return out
}

// Tagged wraps a fanned-in value with the index of the source channel it
// came from.
type Tagged[T any] struct {
	Source int
	Value  T
}
