package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailboxSendAndInbox(t *testing.T) {
	m := NewMailbox[int](2)
	require.NoError(t, m.Send(context.Background(), 1))
	require.Equal(t, 1, m.Len())
	require.Equal(t, 2, m.Cap())
	require.Equal(t, 1, <-m.Inbox())
}

func TestMailboxSendBlocksUntilContextCancelled(t *testing.T) {
	m := NewMailbox[int](1)
	require.NoError(t, m.Send(context.Background(), 1)) // fill capacity

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Send(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxTrySendReturnsErrMailboxFullWhenSaturated(t *testing.T) {
	m := NewMailbox[int](1)
	require.NoError(t, m.TrySend(1))
	err := m.TrySend(2)
	require.ErrorIs(t, err, ErrMailboxFull)
}

func TestMailboxSendControlNeverBlocks(t *testing.T) {
	m := NewMailbox[int](1)
	for i := 0; i < 10; i++ {
		m.SendControl(ControlFlush)
	}
	select {
	case msg := <-m.Control():
		require.Equal(t, ControlFlush, msg)
	default:
		t.Fatal("expected at least one queued control message")
	}
}

func TestFanInMergesSourcesAndClosesWhenDrained(t *testing.T) {
	a := make(chan int, 1)
	b := make(chan int, 1)
	a <- 1
	b <- 2
	close(a)
	close(b)

	ctx := context.Background()
	out := FanIn(ctx, a, b)

	seen := map[int]bool{}
	for v := range out {
		seen[v.Value] = true
	}
	require.True(t, seen[1])
	require.True(t, seen[2])
}

func TestFanInWithNoSourcesClosesImmediately(t *testing.T) {
	out := FanIn[int](context.Background())
	_, ok := <-out
	require.False(t, ok)
}
