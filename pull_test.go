package treebus_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dmitrymomot/treebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPull(t *testing.T) {
	t.Parallel()

	t.Run("validates arguments", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		_, err := treebus.Pull(nil, topic)
		require.ErrorIs(t, err, treebus.ErrNilBus)

		_, err = treebus.Pull((*treebus.Builder)(nil), topic)
		require.ErrorIs(t, err, treebus.ErrNilBus)

		_, err = treebus.Pull[int](bus, nil)
		require.ErrorIs(t, err, treebus.ErrNilTopic)

		_, err = treebus.Pull(bus, topic, treebus.WithLimit(0))
		require.ErrorIs(t, err, treebus.ErrInvalidLimit)
	})

	t.Run("fails fast on a disposed bus", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)
		bus.Dispose()

		sub, err := treebus.Pull(bus, topic)
		require.ErrorIs(t, err, treebus.ErrBusDisposed)
		assert.Nil(t, sub)
	})

	t.Run("captures nothing before the first pull", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()

		require.NoError(t, treebus.Publish(bus, topic, 1))
		flush(t, bus)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = sub.Next(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		// The first pull registered the subscription, so later messages land.
		require.NoError(t, treebus.Publish(bus, topic, 2))
		flush(t, bus)

		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		v, err := sub.Next(waitCtx)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})

	t.Run("stays invisible to listeners until the first pull", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		var (
			mu     sync.Mutex
			counts []int
		)
		bus.AddListener(func(_ treebus.AnyTopic, _ any, handlers int) {
			mu.Lock()
			counts = append(counts, handlers)
			mu.Unlock()
		})

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()

		require.NoError(t, treebus.Publish(bus, topic, 1))
		flush(t, bus)

		registerPull(t, sub)

		require.NoError(t, treebus.Publish(bus, topic, 2))
		flush(t, bus)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{0, 1}, counts)
	})

	t.Run("delivers buffered values in order", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()
		registerPull(t, sub)

		for i := 1; i <= 3; i++ {
			require.NoError(t, treebus.Publish(bus, topic, i))
		}
		flush(t, bus)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for want := 1; want <= 3; want++ {
			v, err := sub.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
	})

	t.Run("wakes a waiting pull on delivery", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan int, 1)
		go func() {
			v, err := sub.Next(ctx)
			assert.NoError(t, err)
			got <- v
		}()

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		require.NoError(t, treebus.Publish(bus, topic, 7))
		assert.Equal(t, 7, <-got)
	})

	t.Run("splits waiting pulls across deliveries", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan int, 2)
		for range 2 {
			go func() {
				v, err := sub.Next(ctx)
				assert.NoError(t, err)
				got <- v
			}()
		}

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		require.NoError(t, treebus.Publish(bus, topic, 1))
		require.NoError(t, treebus.Publish(bus, topic, 2))

		values := []int{<-got, <-got}
		slices.Sort(values)
		assert.Equal(t, []int{1, 2}, values)
	})

	t.Run("each subscription receives every message", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		a, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer a.Dispose()
		b, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer b.Dispose()
		registerPull(t, a)
		registerPull(t, b)

		require.NoError(t, treebus.Publish(bus, topic, 9))
		flush(t, bus)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		va, err := a.Next(ctx)
		require.NoError(t, err)
		vb, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, va)
		assert.Equal(t, 9, vb)
	})

	t.Run("delivers the final value before disposing on limit", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic, treebus.WithLimit(1))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan int, 1)
		go func() {
			v, err := sub.Next(ctx)
			assert.NoError(t, err)
			got <- v
		}()

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		require.NoError(t, treebus.Publish(bus, topic, 42))
		assert.Equal(t, 42, <-got)

		flush(t, bus)
		assert.True(t, sub.Disposed())

		_, err = sub.Next(ctx)
		require.ErrorIs(t, err, treebus.ErrSubscriptionDisposed)
	})

	t.Run("buffered values survive disposal", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic, treebus.WithLimit(2))
		require.NoError(t, err)
		registerPull(t, sub)

		for i := 1; i <= 3; i++ {
			require.NoError(t, treebus.Publish(bus, topic, i))
		}
		flush(t, bus)

		// The limit disposed the subscription with two values still buffered.
		assert.True(t, sub.Disposed())
		assert.Zero(t, bus.Stats().Subscriptions)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		v, err = sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, v)

		_, err = sub.Next(ctx)
		require.ErrorIs(t, err, treebus.ErrSubscriptionDisposed)
	})

	t.Run("dispose wakes pending pulls", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errs := make(chan error, 1)
		go func() {
			_, err := sub.Next(ctx)
			errs <- err
		}()

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		sub.Dispose()
		require.ErrorIs(t, <-errs, treebus.ErrSubscriptionDisposed)
	})

	t.Run("bus disposal finishes waiting pulls", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errs := make(chan error, 1)
		go func() {
			_, err := sub.Next(ctx)
			errs <- err
		}()

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		bus.Dispose()
		require.ErrorIs(t, <-errs, treebus.ErrSubscriptionDisposed)
		assert.True(t, sub.Disposed())
	})

	t.Run("keeps a value committed during cancellation", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()
		registerPull(t, sub)

		// Cancellation races delivery. Every published value must come out of
		// Next, either directly or from the buffer afterwards.
		for i := range 300 {
			ctx, cancel := context.WithCancel(context.Background())
			canceled := make(chan struct{})
			go func() {
				cancel()
				close(canceled)
			}()

			require.NoError(t, treebus.Publish(bus, topic, i))

			v, err := sub.Next(ctx)
			if err != nil {
				require.ErrorIs(t, err, context.Canceled)
				flush(t, bus)

				// The withdrawn waiter means delivery buffered the value.
				waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
				v, err = sub.Next(waitCtx)
				waitCancel()
				require.NoError(t, err)
			}
			require.Equal(t, i, v)
			<-canceled
		}
	})

	t.Run("dispose racing the first pull leaves nothing registered", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		for range 200 {
			sub, err := treebus.Pull(bus, topic)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := sub.Next(context.Background())
				assert.ErrorIs(t, err, treebus.ErrSubscriptionDisposed)
			}()
			go func() {
				defer wg.Done()
				sub.Dispose()
			}()
			wg.Wait()

			assert.True(t, sub.Disposed())
			assert.Zero(t, bus.Stats().Subscriptions)
		}
	})

	t.Run("honors builder options", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus.WithLimit(2), topic)
		require.NoError(t, err)
		registerPull(t, sub)

		for i := 1; i <= 3; i++ {
			require.NoError(t, treebus.Publish(bus, topic, i))
		}
		flush(t, bus)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		v, err = sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
		_, err = sub.Next(ctx)
		require.ErrorIs(t, err, treebus.ErrSubscriptionDisposed)
	})
}

func TestPullValues(t *testing.T) {
	t.Parallel()

	t.Run("iterates until the limit ends the subscription", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic, treebus.WithLimit(3))
		require.NoError(t, err)
		registerPull(t, sub)

		for i := 1; i <= 5; i++ {
			require.NoError(t, treebus.Publish(bus, topic, i))
		}
		flush(t, bus)

		got := slices.Collect(sub.Values(context.Background()))
		assert.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("breaking out disposes the subscription", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		registerPull(t, sub)

		for i := 1; i <= 3; i++ {
			require.NoError(t, treebus.Publish(bus, topic, i))
		}
		flush(t, bus)

		var got []int
		for v := range sub.Values(context.Background()) {
			got = append(got, v)
			if v == 2 {
				break
			}
		}
		assert.Equal(t, []int{1, 2}, got)
		assert.True(t, sub.Disposed())

		// The break disposed the subscription but the third value is still
		// buffered.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
		_, err = sub.Next(ctx)
		require.ErrorIs(t, err, treebus.ErrSubscriptionDisposed)
	})

	t.Run("ends on context cancel without disposing", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[int]("n", treebus.DirectionChildren)

		sub, err := treebus.Pull(bus, topic)
		require.NoError(t, err)
		defer sub.Dispose()
		registerPull(t, sub)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		count := 0
		for range sub.Values(ctx) {
			count++
		}
		assert.Zero(t, count)
		assert.False(t, sub.Disposed())
	})
}

func TestFirst(t *testing.T) {
	t.Parallel()

	t.Run("returns the next published value", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[string]("job.done", treebus.DirectionChildren)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan string, 1)
		go func() {
			v, err := treebus.First(ctx, bus, topic)
			assert.NoError(t, err)
			got <- v
		}()

		require.Eventually(t, func() bool {
			return bus.Stats().Subscriptions == 1
		}, 5*time.Second, time.Millisecond)

		require.NoError(t, treebus.Publish(bus, topic, "compact"))
		assert.Equal(t, "compact", <-got)

		flush(t, bus)
		assert.Zero(t, bus.Stats().Subscriptions)
	})

	t.Run("cleans up on context cancel", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		defer bus.Dispose()
		topic := treebus.NewTopic[string]("job.done", treebus.DirectionChildren)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := treebus.First(ctx, bus, topic)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, bus.Stats().Subscriptions)
	})

	t.Run("fails fast on a disposed bus", func(t *testing.T) {
		t.Parallel()

		bus := treebus.New()
		topic := treebus.NewTopic[string]("job.done", treebus.DirectionChildren)
		bus.Dispose()

		_, err := treebus.First(context.Background(), bus, topic)
		require.ErrorIs(t, err, treebus.ErrBusDisposed)
	})
}
