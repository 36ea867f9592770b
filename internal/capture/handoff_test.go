package capture

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffPreservesOrder(t *testing.T) {
	const n = 32
	h := NewHandoff(n)
	for i := 0; i < n; i++ {
		require.NoError(t, h.Send([]float32{float32(i)}))
	}
	assert.Equal(t, n, h.Backlog())

	ctx := context.Background()
	for i := 0; i < n; i++ {
		buf, err := h.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, float32(i), buf[0])
	}
	assert.Equal(t, 0, h.Backlog())
}

func TestHandoffConcurrentProducer(t *testing.T) {
	const n = 1000
	h := NewHandoff(n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := h.Send([]float32{float32(i)}); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
		h.Finish()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var want float32
	for {
		buf, err := h.Receive(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, want, buf[0])
		want++
	}
	wg.Wait()
	assert.Equal(t, float32(n), want)
}

func TestHandoffFullDrops(t *testing.T) {
	h := NewHandoff(1)
	require.NoError(t, h.Send([]float32{1}))
	require.ErrorIs(t, h.Send([]float32{2}), ErrHandoffFull)
	require.ErrorIs(t, h.Send([]float32{3}), ErrHandoffFull)
	assert.Equal(t, uint64(2), h.Dropped())
	assert.Equal(t, 1, h.Capacity())
}

func TestHandoffDetach(t *testing.T) {
	h := NewHandoff(4)
	h.Detach()
	require.ErrorIs(t, h.Send([]float32{1}), ErrHandoffClosed)
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestHandoffFinishDrainsThenEOF(t *testing.T) {
	h := NewHandoff(4)
	require.NoError(t, h.Send([]float32{1}))
	require.NoError(t, h.Send([]float32{2}))
	h.Finish()
	h.Finish()
	assert.True(t, h.Finished())

	require.ErrorIs(t, h.Send([]float32{3}), ErrHandoffClosed)

	ctx := context.Background()
	for _, want := range []float32{1, 2} {
		buf, err := h.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, buf[0])
	}
	_, err := h.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)
	_, err = h.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestHandoffReceiveBlocksUntilSend(t *testing.T) {
	h := NewHandoff(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = h.Send([]float32{7})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf, err := h.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(7), buf[0])
}

func TestHandoffReceiveTimeout(t *testing.T) {
	h := NewHandoff(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandoffMinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewHandoff(0).Capacity())
}
