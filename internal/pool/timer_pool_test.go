package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(1 * time.Second)
		assert.NotNil(timer1)

		PutTimer(timer1)

		timer2 := GetTimer(20 * time.Millisecond)
		assert.NotNil(timer2)

		<-timer2.C // Wait for the timer to expire
	})

	t.Run("Put Active Timer", func(t *testing.T) {
		timer1 := GetTimer(100 * time.Millisecond)
		time.Sleep(50 * time.Millisecond) // Make timer1 active
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(300 * time.Millisecond)

		select {
		case tt := <-timer2.C:
			assert.GreaterOrEqual(tt.Sub(begin), 270*time.Millisecond)
		case <-time.After(400 * time.Millisecond):
			t.Error("timer2 should have fired within 400ms")
		}
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(10 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestReceive(t *testing.T) {
	ctx := context.Background()

	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	_, err := Receive(ctx, ch, time.Second)
	require.NoError(t, err)

	begin := time.Now()
	_, err = Receive(ctx, ch, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Receive(cctx, ch, time.Second)
	require.ErrorIs(t, err, context.Canceled)

	closed := make(chan int)
	close(closed)
	_, err = Receive(ctx, closed, time.Second)
	require.Error(t, err)
}
