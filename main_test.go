package treebus_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrymomot/treebus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flush waits for the bus's publish queue to drain so delivery assertions can
// run without sleeps.
func flush(t *testing.T, b *treebus.Bus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
}

// registerPull forces a pull subscription's deferred registry insertion by
// pulling with an already-canceled context: the insertion happens, the wait
// does not.
func registerPull[T any](t *testing.T, sub *treebus.PullSubscription[T]) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
