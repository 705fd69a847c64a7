package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mail-chat-bridge-go/internal/worker"
)

// stopTimeout bounds how long Stop waits for a unit to leave its loop
const stopTimeout = 30 * time.Second

var (
	// ErrUnknownAccount is returned for a name that was never added
	ErrUnknownAccount = errors.New("unknown account")
	// ErrAlreadyRunning is returned when starting a running unit
	ErrAlreadyRunning = errors.New("account is already running")
	// ErrFailed is returned when starting a unit whose worker ended fatally
	ErrFailed = errors.New("account worker failed")
)

// Runner is a long-running account worker
type Runner interface {
	Name() string
	Run(ctx context.Context) error
	Status() worker.Status
}

// UnitStatus describes one supervised account
type UnitStatus struct {
	Name    string        `json:"name"`
	Running bool          `json:"running"`
	Failed  bool          `json:"failed"`
	Error   string        `json:"error,omitempty"`
	Worker  worker.Status `json:"worker"`
}

type unit struct {
	runner  Runner
	startCh chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	err     error
}

// Supervisor runs one independent unit per account. Units share nothing;
// a unit that fails fatally ends alone while the others keep running.
type Supervisor struct {
	mu      sync.RWMutex
	units   map[string]*unit
	started bool
}

// New creates an empty supervisor
func New() *Supervisor {
	return &Supervisor{units: make(map[string]*unit)}
}

// Add registers a runner. It must be called before Run.
func (s *Supervisor) Add(r Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add %s: supervisor already running", r.Name())
	}
	if _, ok := s.units[r.Name()]; ok {
		return fmt.Errorf("account %s added twice", r.Name())
	}
	s.units[r.Name()] = &unit{runner: r, startCh: make(chan struct{}, 1)}
	return nil
}

// Run starts every unit and blocks until all of them have ended, which
// happens when ctx is cancelled or each unit has failed. It returns the
// first fatal unit error.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor is already running")
	}
	s.started = true
	units := make([]*unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	s.mu.Unlock()

	logrus.Infof("Supervisor starting %d account workers", len(units))

	var g errgroup.Group
	for _, u := range units {
		u := u
		g.Go(func() error {
			return s.loop(ctx, u)
		})
	}
	return g.Wait()
}

func (s *Supervisor) loop(ctx context.Context, u *unit) error {
	name := u.runner.Name()
	log := logrus.WithField("account", name)

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		u.mu.Lock()
		u.cancel = cancel
		u.done = done
		u.running = true
		u.mu.Unlock()

		err := u.runner.Run(runCtx)
		stopped := runCtx.Err() != nil
		cancel()

		u.mu.Lock()
		u.running = false
		u.cancel = nil
		if err != nil && !stopped {
			u.err = err
		}
		u.mu.Unlock()
		close(done)

		if err != nil && !stopped {
			log.WithError(err).Error("Account worker failed")
			return fmt.Errorf("account %s: %w", name, err)
		}

		if ctx.Err() != nil {
			return nil
		}

		log.Info("Account worker stopped, waiting for start")
		select {
		case <-ctx.Done():
			return nil
		case <-u.startCh:
			log.Info("Account worker restarting")
		}
	}
}

// Start resumes a stopped unit
func (s *Supervisor) Start(name string) error {
	u, err := s.unit(name)
	if err != nil {
		return err
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return errors.New("supervisor is not running")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case u.err != nil:
		return fmt.Errorf("%w: %v", ErrFailed, u.err)
	case u.running:
		return ErrAlreadyRunning
	}

	select {
	case u.startCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels a running unit and waits for its worker to return
func (s *Supervisor) Stop(name string) error {
	u, err := s.unit(name)
	if err != nil {
		return err
	}

	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return nil
	}
	cancel, done := u.cancel, u.done
	u.mu.Unlock()

	cancel()
	select {
	case <-done:
		logrus.WithField("account", name).Info("Account worker stopped gracefully")
	case <-time.After(stopTimeout):
		logrus.WithField("account", name).Warn("Account worker stop timeout")
	}
	return nil
}

// Status returns every unit ordered by name
func (s *Supervisor) Status() []UnitStatus {
	s.mu.RLock()
	names := make([]string, 0, len(s.units))
	for name := range s.units {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	out := make([]UnitStatus, 0, len(names))
	for _, name := range names {
		if st, err := s.UnitStatus(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// UnitStatus returns the status of one unit
func (s *Supervisor) UnitStatus(name string) (UnitStatus, error) {
	u, err := s.unit(name)
	if err != nil {
		return UnitStatus{}, err
	}

	u.mu.Lock()
	st := UnitStatus{Name: name, Running: u.running, Failed: u.err != nil}
	if u.err != nil {
		st.Error = u.err.Error()
	}
	u.mu.Unlock()

	st.Worker = u.runner.Status()
	return st, nil
}

func (s *Supervisor) unit(name string) (*unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return u, nil
}
