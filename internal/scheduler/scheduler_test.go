package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every tuesday", time.UTC, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestNext(t *testing.T) {
	s, err := New("*/5 * * * *", time.UTC, func(context.Context) error { return nil })
	require.NoError(t, err)

	next := s.Next(time.Date(2024, 6, 1, 12, 1, 30, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC), next)
}

func TestRun(t *testing.T) {
	var calls int32
	s, err := New("@every 1s", time.UTC, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 5*time.Second, 50*time.Millisecond,
		"a failing job does not stop the schedule")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
