package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	f.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), f.Now())
}

func TestFakeSleepAdvancesWithoutBlocking(t *testing.T) {
	f := NewFake(time.Now())
	before := f.Now()

	done := make(chan struct{})
	go func() {
		_ = f.Sleep(context.Background(), 5*time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep on a fake clock must return promptly, not actually block")
	}
	assert.Equal(t, before.Add(5*time.Minute), f.Now())
}

func TestFakeSleepRespectsCancellation(t *testing.T) {
	f := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Sleep(ctx, time.Minute)
	require.Error(t, err)
}

func TestRealSleepRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Real{}.Sleep(ctx, time.Minute)
	require.Error(t, err)
}

func TestRealSleepZeroDuration(t *testing.T) {
	err := Real{}.Sleep(context.Background(), 0)
	require.NoError(t, err)
}
