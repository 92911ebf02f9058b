package clock_test

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qperf/internal/clock"
)

func TestFinishedIsWriteOnce(t *testing.T) {
	var fin clock.Finished
	require.False(t, fin.IsSet())
	fin.Set()
	require.True(t, fin.IsSet())
	fin.Set() // second call is a no-op, not an error
	require.True(t, fin.IsSet())
}

func TestArmAlarmSetsFinishedAfterDuration(t *testing.T) {
	var fin clock.Finished
	a := clock.ArmAlarm(20*time.Millisecond, &fin)
	defer a.Stop()

	require.Eventually(t, fin.IsSet, 500*time.Millisecond, 2*time.Millisecond)
}

func TestTimerElapsed(t *testing.T) {
	var timer clock.Timer
	timer.Start()
	time.Sleep(5 * time.Millisecond)
	timer.Stop()
	require.Positive(t, timer.Elapsed())
}

func TestClassifyEINTRIsNoProgress(t *testing.T) {
	var fin clock.Finished
	outcome, n := clock.Classify(0, syscall.EINTR, &fin)
	require.Equal(t, clock.OutcomeNoProgress, outcome)
	require.Equal(t, 0, n)
}

func TestClassifyFatalError(t *testing.T) {
	var fin clock.Finished
	outcome, _ := clock.Classify(0, errors.New("boom"), &fin)
	require.Equal(t, clock.OutcomeFatal, outcome)
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassifyNetTimeoutIsNoProgress(t *testing.T) {
	var fin clock.Finished
	outcome, n := clock.Classify(0, fakeTimeoutError{}, &fin)
	require.Equal(t, clock.OutcomeNoProgress, outcome)
	require.Equal(t, 0, n)
}

func TestClassifyDiscardsProgressObservedAfterFinished(t *testing.T) {
	var fin clock.Finished
	fin.Set()
	outcome, n := clock.Classify(128, nil, &fin)
	require.Equal(t, clock.OutcomeNoProgress, outcome)
	require.Equal(t, 0, n)
}

func TestClassifySuccessBeforeFinished(t *testing.T) {
	var fin clock.Finished
	outcome, n := clock.Classify(128, nil, &fin)
	require.Equal(t, clock.OutcomeProgress, outcome)
	require.Equal(t, 128, n)
}
