package workerpool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPool_RunsAllSubmittedTasks(t *testing.T) {
	pool := New(4, 16, discard)

	var executed atomic.Int32
	for i := 0; i < 100; i++ {
		require.True(t, pool.Submit(func() { executed.Add(1) }))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(100), executed.Load())
}

func TestPool_PanicRecovered(t *testing.T) {
	pool := New(1, 4, discard)

	var executed atomic.Int32
	pool.Submit(func() {
		executed.Add(1)
		panic("boom")
	})
	pool.Submit(func() { executed.Add(1) })

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(2), executed.Load())
}

func TestPool_TrySubmitWhenFull(t *testing.T) {
	pool := New(1, 1, discard)

	release := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	assert.True(t, pool.TrySubmit(func() {}))
	assert.False(t, pool.TrySubmit(func() {}))

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := New(2, 2, discard)
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.False(t, pool.Submit(func() {}))
	assert.False(t, pool.TrySubmit(func() {}))
}

func TestPool_ConcurrentSubmitAndShutdown(t *testing.T) {
	pool := New(2, 8, discard)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				pool.TrySubmit(func() {})
			}
		}()
	}
	// 关闭与提交并发时不会向已关闭的通道发送
	require.NoError(t, pool.Shutdown(context.Background()))
	wg.Wait()
}

func TestPool_ShutdownTimeout(t *testing.T) {
	pool := New(1, 1, discard)
	release := make(chan struct{})
	defer close(release)
	pool.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
}

func TestInline(t *testing.T) {
	ran := false
	assert.True(t, Inline{}.Submit(func() { ran = true }))
	assert.True(t, ran)
}
