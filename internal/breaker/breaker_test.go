package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func testBreaker(cooldown time.Duration) *Breaker {
	return New("test-service", Config{
		FailureThreshold: 5,
		CallTimeout:      time.Second,
		Cooldown:         cooldown,
		CooldownMax:      8 * cooldown,
	})
}

func failing(ctx context.Context) error { return errBackend }
func succeeding(ctx context.Context) error { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := testBreaker(time.Minute)
	ctx := context.Background()

	for i := range 5 {
		err := b.Do(ctx, failing)
		require.ErrorIs(t, err, errBackend, "call %d reaches the backend", i)
	}
	assert.Equal(t, StateOpen, b.State())

	// Short-circuited: the function must not run, and the answer is immediate.
	invoked := false
	start := time.Now()
	err := b.Do(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(time.Minute)
	ctx := context.Background()

	for range 4 {
		require.Error(t, b.Do(ctx, failing))
	}
	require.NoError(t, b.Do(ctx, succeeding))
	for range 4 {
		require.Error(t, b.Do(ctx, failing))
	}
	assert.Equal(t, StateClosed, b.State(), "streak broken by a success")
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	b := testBreaker(30 * time.Millisecond)
	ctx := context.Background()

	for range 5 {
		require.Error(t, b.Do(ctx, failing))
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// Concurrent calls during the trial: exactly one reaches the backend.
	var mu sync.Mutex
	invocations := 0
	release := make(chan struct{})
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Do(ctx, func(ctx context.Context) error {
				mu.Lock()
				invocations++
				mu.Unlock()
				<-release
				return nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, invocations)
	assert.Equal(t, StateClosed, b.State(), "successful trial closes the breaker")
}

func TestFailedTrialDoublesCooldown(t *testing.T) {
	b := testBreaker(30 * time.Millisecond)
	ctx := context.Background()

	for range 5 {
		require.Error(t, b.Do(ctx, failing))
	}

	time.Sleep(40 * time.Millisecond)
	require.ErrorIs(t, b.Do(ctx, failing), errBackend, "half-open trial reaches the backend")
	require.Equal(t, StateOpen, b.State())

	// Cooldown doubled to 60ms: still open after the original 30ms window.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateOpen, b.State())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	b := New("slow-service", Config{
		FailureThreshold: 2,
		CallTimeout:      20 * time.Millisecond,
		Cooldown:         time.Minute,
		CooldownMax:      time.Minute,
	})
	ctx := context.Background()

	slow := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	require.Error(t, b.Do(ctx, slow))
	require.Error(t, b.Do(ctx, slow))
	assert.Equal(t, StateOpen, b.State())
}

func TestSnapshot(t *testing.T) {
	b := testBreaker(time.Minute)
	snap := b.Snapshot()
	assert.Equal(t, "test-service", snap.Service)
	assert.Equal(t, "closed", snap.State)

	for range 5 {
		b.Do(context.Background(), failing)
	}
	snap = b.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, 5, snap.Failures)
	assert.False(t, snap.OpenUntil.IsZero())
}
