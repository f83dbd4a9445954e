package scope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCloseWaitsForRunningTasks(t *testing.T) {
	s := New(context.Background(), nil)
	started := make(chan struct{})
	finished := make(chan struct{})
	s.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(finished)
		return ctx.Err()
	}, SpawnOptions{})

	<-started
	select {
	case <-finished:
		t.Fatal("task finished before Close cancelled it")
	default:
	}

	require.NoError(t, s.Close())
	select {
	case <-finished:
	default:
		t.Fatal("Close returned before task finished")
	}
}

func TestClosePropagatesErrorWhenRequested(t *testing.T) {
	s := New(context.Background(), nil)
	wantErr := errors.New("boom")
	s.Go(func(ctx context.Context) error {
		return wantErr
	}, SpawnOptions{PropagateError: true})

	// give the goroutine a moment to run before Close drains it
	time.Sleep(10 * time.Millisecond)
	require.ErrorIs(t, s.Close(), wantErr)
}

func TestCloseSwallowsErrorByDefault(t *testing.T) {
	s := New(context.Background(), nil)
	s.Go(func(ctx context.Context) error {
		return errors.New("boom")
	}, SpawnOptions{})

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())
}

func TestFromContextRoundTrip(t *testing.T) {
	s := New(context.Background(), nil)
	ctx := WithScope(context.Background(), s)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok)
}
