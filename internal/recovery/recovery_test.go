package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

type mockRotator struct {
	mock.Mock
}

func (m *mockRotator) Rotate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRotator) Current() crawler.Identity {
	return crawler.Identity{}
}

type mockRestarter struct {
	mock.Mock
}

func (m *mockRestarter) Restart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type recordingPause struct {
	delays []time.Duration
}

func (p *recordingPause) Pause(ctx context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return ctx.Err()
}

// scripted returns each error in turn, then nil.
func scripted(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

var testEvent = Event{Source: "test", URL: "https://example.com/a", Unit: crawler.NewDayUnit(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want crawler.FailureKind
	}{
		{"nil", nil, crawler.KindSuccess},
		{"timeout", fmt.Errorf("fetch: %w", crawler.ErrTimeout), crawler.KindTransient},
		{"deadline", context.DeadlineExceeded, crawler.KindTransient},
		{"network", crawler.ErrNetwork, crawler.KindTransient},
		{"unknown", errors.New("weird"), crawler.KindTransient},
		{"challenge", crawler.Challengef("captcha"), crawler.KindChallenge},
		{"structural", crawler.Structuralf("no title"), crawler.KindStructural},
		{"failure error", &crawler.FailureError{Kind: crawler.KindStructural, Err: errors.New("x")}, crawler.KindStructural},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestControllerSuccessFirstTry(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 2}, rot, nil, WithPauser(&recordingPause{}))
	fn, calls := scripted()
	out := c.Do(context.Background(), testEvent, fn)
	assert.True(t, out.OK())
	assert.Equal(t, 1, *calls)
	assert.False(t, out.Challenged)
	rot.AssertNotCalled(t, "Rotate", mock.Anything)
}

func TestControllerChallengeTwiceThenSuccessRotatesOnce(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(nil).Once()
	pause := &recordingPause{}
	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 2}, rot, nil, WithPauser(pause))

	fn, calls := scripted(crawler.ErrChallenge, crawler.ErrChallenge)
	out := c.Do(context.Background(), testEvent, fn)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 3, *calls)
	assert.True(t, out.Challenged)
	assert.True(t, out.Rotated)
	rot.AssertNumberOfCalls(t, "Rotate", 1)
	assert.Len(t, pause.delays, 2)
}

func TestControllerChallengeExhaustedIsFatalSkip(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(nil)
	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 2}, rot, nil, WithPauser(&recordingPause{}))

	fn, calls := scripted(crawler.ErrChallenge, crawler.ErrChallenge, crawler.ErrChallenge, crawler.ErrChallenge)
	out := c.Do(context.Background(), testEvent, fn)

	assert.Equal(t, StatusFatalSkip, out.Status)
	assert.Equal(t, 3, *calls, "one attempt plus two retries after rotation")
	rot.AssertNumberOfCalls(t, "Rotate", 1)

	var failure *crawler.FailureError
	require.ErrorAs(t, out.Err, &failure)
	assert.Equal(t, crawler.KindChallenge, failure.Kind)
	assert.Equal(t, 3, failure.Attempt)
	assert.ErrorIs(t, out.Err, crawler.ErrChallenge)
}

func TestControllerTransientEscalatesToChallenge(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(nil).Once()
	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 1}, rot, nil, WithPauser(&recordingPause{}))

	// Three transient failures exhaust R1=2, rotation happens, then one more try succeeds.
	fn, calls := scripted(crawler.ErrNetwork, crawler.ErrTimeout, crawler.ErrNetwork)
	out := c.Do(context.Background(), testEvent, fn)

	assert.True(t, out.OK())
	assert.Equal(t, 4, *calls)
	assert.True(t, out.Rotated)
	rot.AssertExpectations(t)
}

func TestControllerTransientRecovers(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 2}, rot, nil, WithPauser(&recordingPause{}))
	fn, calls := scripted(crawler.ErrNetwork)
	out := c.Do(context.Background(), testEvent, fn)
	assert.True(t, out.OK())
	assert.Equal(t, 2, *calls)
	assert.False(t, out.Challenged)
	rot.AssertNotCalled(t, "Rotate", mock.Anything)
}

func TestControllerStructuralSkipsImmediately(t *testing.T) {
	t.Parallel()

	c := NewController(Config{TransientRetries: 2, ChallengeRetries: 2}, nil, nil, WithPauser(&recordingPause{}))
	fn, calls := scripted(crawler.Structuralf("missing body"))
	out := c.Do(context.Background(), testEvent, fn)
	assert.Equal(t, StatusSkip, out.Status)
	assert.Equal(t, 1, *calls)
	assert.ErrorIs(t, out.Err, crawler.ErrStructural)
}

func TestControllerStructuralAfterRotationStillSkips(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(nil).Once()
	c := NewController(Config{ChallengeRetries: 3}, rot, nil, WithPauser(&recordingPause{}))
	fn, calls := scripted(crawler.ErrChallenge, crawler.Structuralf("drift"))
	out := c.Do(context.Background(), testEvent, fn)
	assert.Equal(t, StatusSkip, out.Status)
	assert.Equal(t, 2, *calls)
	assert.True(t, out.Challenged)
}

func TestControllerRotationFailureStillRetries(t *testing.T) {
	t.Parallel()

	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(errors.New("no proxies left"))
	c := NewController(Config{ChallengeRetries: 1}, rot, nil, WithPauser(&recordingPause{}))
	fn, calls := scripted(crawler.ErrChallenge)
	out := c.Do(context.Background(), testEvent, fn)
	assert.True(t, out.OK())
	assert.False(t, out.Rotated)
	assert.Equal(t, 2, *calls)
}

func TestControllerAbortsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(Config{TransientRetries: 5}, nil, nil)
	out := c.Do(ctx, testEvent, func(context.Context) error {
		cancel()
		return crawler.ErrNetwork
	})
	assert.Equal(t, StatusAborted, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestControllerAttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	c := NewController(Config{AttemptTimeout: 10 * time.Millisecond}, nil, nil, WithPauser(&recordingPause{}))
	attempts := 0
	out := c.Do(context.Background(), testEvent, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return errors.New("navigation stalled")
	})
	assert.Equal(t, StatusFatalSkip, out.Status)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, out.Err, crawler.ErrTimeout)
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	b := NewBackoff(100*time.Millisecond, 400*time.Millisecond)
	for attempt := range 6 {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 400*time.Millisecond)
	}
}

func TestTimerPauseHonorsContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, TimerPause{}.Pause(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, TimerPause{}.Pause(ctx, time.Hour), context.Canceled)
}

func TestSessionGuardRestartsAfterStreak(t *testing.T) {
	t.Parallel()

	restarter := &mockRestarter{}
	restarter.On("Restart", mock.Anything).Return(nil)
	rot := &mockRotator{}
	rot.On("Rotate", mock.Anything).Return(nil)
	g := NewSessionGuard("test", 3, 1, restarter, rot, nil)
	ctx := context.Background()

	require.NoError(t, g.UnitDone(ctx, true))
	require.NoError(t, g.UnitDone(ctx, false))
	assert.Equal(t, 0, g.Streak(), "clean unit resets the streak")

	for range 3 {
		require.NoError(t, g.UnitDone(ctx, true))
	}
	assert.Equal(t, 1, g.Restarts())
	restarter.AssertNumberOfCalls(t, "Restart", 1)
	rot.AssertNumberOfCalls(t, "Rotate", 1)

	require.NoError(t, g.UnitDone(ctx, true))
	require.NoError(t, g.UnitDone(ctx, true))
	err := g.UnitDone(ctx, true)
	assert.ErrorIs(t, err, crawler.ErrSessionBudgetExhausted)
	restarter.AssertNumberOfCalls(t, "Restart", 1)
}

func TestSessionGuardRestartError(t *testing.T) {
	t.Parallel()

	restarter := &mockRestarter{}
	restarter.On("Restart", mock.Anything).Return(errors.New("browser gone"))
	g := NewSessionGuard("test", 1, 2, restarter, nil, nil)
	assert.Error(t, g.UnitDone(context.Background(), true))
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fatal_skip", StatusFatalSkip.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
