package seq_test

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/errs"
	"github.com/coachpo/rivulet/seq"
)

func TestDebounceEmitsOnlySettledValue(t *testing.T) {
	ch := make(chan int, 8)
	debounced := seq.Debounce(seq.FromChan(ch), 60*time.Millisecond)

	// Burst superseded before the timer elapses; only the last survives.
	ch <- 1
	ch <- 2
	ch <- 3

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := debounced.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestDebounceRestartsTimerOnNewArrival(t *testing.T) {
	ch := make(chan int)
	debounced := seq.Debounce(seq.FromChan(ch), 80*time.Millisecond)

	go func() {
		ch <- 1
		time.Sleep(40 * time.Millisecond) // within the window: supersedes
		ch <- 2
		time.Sleep(150 * time.Millisecond) // silence: 2 settles
		ch <- 3
		close(ch)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := debounced.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	v, err = debounced.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = debounced.Next(ctx)
	require.ErrorIs(t, err, seq.Done)
}

func TestThrottleEmitsFirstThenSuppresses(t *testing.T) {
	throttled := seq.Throttle(seq.FromSlice(1, 2, 3, 4, 5), 200*time.Millisecond)

	out, err := seq.Collect(context.Background(), throttled)
	require.NoError(t, err)
	require.Equal(t, []int{1}, out)
}

func TestThrottleReopensAfterWindow(t *testing.T) {
	ch := make(chan int)
	throttled := seq.Throttle(seq.FromChan(ch), 50*time.Millisecond)

	go func() {
		ch <- 1
		ch <- 2 // suppressed
		time.Sleep(120 * time.Millisecond)
		ch <- 3 // new window
		close(ch)
	}()

	out, err := seq.Collect(context.Background(), throttled)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, out)
}

func TestTimeoutFiresWhenSilent(t *testing.T) {
	ch := make(chan int) // never receives
	limited := seq.Timeout(seq.FromChan(ch), 60*time.Millisecond)

	_, err := limited.Next(context.Background())
	require.True(t, errs.IsTimeout(err))
	require.Contains(t, err.Error(), "bound=60ms")
}

func TestTimeoutPassesValuesThrough(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	limited := seq.Timeout(seq.FromChan(ch), time.Second)

	v, err := limited.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestRetryResubscribesUpToN(t *testing.T) {
	boom := errs.New("upstream", errs.CodeUnavailable)
	builds := 0
	factory := func() (seq.Sequence[int], error) {
		builds++
		if builds <= 2 {
			return seq.Map(seq.FromSlice(0), func(int) (int, error) { return 0, boom }), nil
		}
		return seq.FromSlice(1, 2), nil
	}

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = time.Millisecond
	retried := seq.RetryBackOff(factory, 2, delay)
	out, err := seq.Collect(context.Background(), retried)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, out)
	require.Equal(t, 3, builds)
}

func TestRetryExhaustionSurfacesError(t *testing.T) {
	boom := errs.New("upstream", errs.CodeUnavailable)
	factory := func() (seq.Sequence[int], error) {
		return seq.Map(seq.FromSlice(0), func(int) (int, error) { return 0, boom }), nil
	}

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = time.Millisecond
	retried := seq.RetryBackOff(factory, 1, delay)
	_, err := seq.Collect(context.Background(), retried)
	require.ErrorIs(t, err, boom)
}
