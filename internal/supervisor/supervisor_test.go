package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-chat-bridge-go/internal/worker"
)

type fakeRunner struct {
	name string
	err  error
	runs atomic.Int32
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRunner) Status() worker.Status {
	return worker.Status{Account: r.name}
}

func startSupervisor(t *testing.T, runners ...Runner) (*Supervisor, context.CancelFunc, <-chan error) {
	t.Helper()
	s := New()
	for _, r := range runners {
		require.NoError(t, s.Add(r))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return s, cancel, errCh
}

func running(s *Supervisor, name string) func() bool {
	return func() bool {
		st, err := s.UnitStatus(name)
		return err == nil && st.Running
	}
}

func TestFailedAccountDoesNotAffectOthers(t *testing.T) {
	connErr := errors.New("dial tcp: connection refused")
	broken := &fakeRunner{name: "broken", err: connErr}
	healthy := &fakeRunner{name: "healthy"}

	s, cancel, errCh := startSupervisor(t, broken, healthy)

	require.Eventually(t, func() bool {
		st, _ := s.UnitStatus("broken")
		return st.Failed
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, running(s, "healthy"), time.Second, 5*time.Millisecond)

	// still alive after the failure
	time.Sleep(20 * time.Millisecond)
	assert.True(t, running(s, "healthy")())
	assert.Equal(t, int32(1), broken.runs.Load())

	select {
	case err := <-errCh:
		t.Fatalf("supervisor returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, connErr)
		assert.Contains(t, err.Error(), "account broken")
	case <-time.After(time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}

func TestRunReturnsNilOnCleanShutdown(t *testing.T) {
	_, cancel, errCh := startSupervisor(t, &fakeRunner{name: "a"}, &fakeRunner{name: "b"})
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}

func TestStopAndStartUnit(t *testing.T) {
	r := &fakeRunner{name: "alerts"}
	other := &fakeRunner{name: "other"}
	s, _, _ := startSupervisor(t, r, other)

	require.Eventually(t, running(s, "alerts"), time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Start("alerts"), ErrAlreadyRunning)

	require.NoError(t, s.Stop("alerts"))
	assert.False(t, running(s, "alerts")())
	assert.True(t, running(s, "other")())

	// stopping twice is a no-op
	require.NoError(t, s.Stop("alerts"))

	require.NoError(t, s.Start("alerts"))
	require.Eventually(t, running(s, "alerts"), time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), r.runs.Load())
	assert.Equal(t, int32(1), other.runs.Load())
}

func TestStartFailedUnit(t *testing.T) {
	s, _, _ := startSupervisor(t, &fakeRunner{name: "broken", err: errors.New("login failed")})

	require.Eventually(t, func() bool {
		st, _ := s.UnitStatus("broken")
		return st.Failed
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Start("broken"), ErrFailed)
	st, err := s.UnitStatus("broken")
	require.NoError(t, err)
	assert.Equal(t, "login failed", st.Error)
}

func TestUnknownAccount(t *testing.T) {
	s, _, _ := startSupervisor(t, &fakeRunner{name: "a"})
	assert.ErrorIs(t, s.Start("nope"), ErrUnknownAccount)
	assert.ErrorIs(t, s.Stop("nope"), ErrUnknownAccount)
	_, err := s.UnitStatus("nope")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestAddValidation(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(&fakeRunner{name: "a"}))
	assert.Error(t, s.Add(&fakeRunner{name: "a"}))
	assert.Error(t, s.Start("a"), "not running yet")
}

func TestStatusOrderedByName(t *testing.T) {
	s, _, _ := startSupervisor(t, &fakeRunner{name: "zulu"}, &fakeRunner{name: "alpha"})
	require.Eventually(t, running(s, "zulu"), time.Second, 5*time.Millisecond)

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "zulu", statuses[1].Name)
	assert.Equal(t, "zulu", statuses[1].Worker.Account)
}
