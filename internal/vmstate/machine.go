package vmstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Backend is the hypervisor-facing capability set a Machine drives. A
// single implementation backs every instance in a given daemon deployment,
// selected by configuration (the libvirt VMFactory in production).
type Backend interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ForceStop(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Reboot(ctx context.Context) error
}

// GuestSSHHalter is implemented by backends that can pre-emptively ask the
// guest's SSH daemon to stop before a reboot, so the caller can detect
// reboot completion via an SSH-down-then-up transition rather than racing
// the hypervisor's own reboot call.
type GuestSSHHalter interface {
	HaltGuestSSH(ctx context.Context) error
}

var (
	// ErrInvalidTransition is returned when the requested transition is
	// not legal from the machine's current state.
	ErrInvalidTransition = errors.New("vmstate: invalid state transition")

	// ErrShutdownPending is returned by Stop when a delayed shutdown is
	// already armed for this instance.
	ErrShutdownPending = errors.New("vmstate: delayed shutdown already pending")

	// ErrNoShutdownPending is returned by CancelStop when there is
	// nothing to cancel.
	ErrNoShutdownPending = errors.New("vmstate: no delayed shutdown pending")
)

// Machine drives one instance's lifecycle state machine per the transition
// table in SPEC_FULL.md §4.6. All exported methods are safe for concurrent
// use, but callers still own the broader per-instance structural-mutation
// lock described in §5 around create/delete/snapshot/restore/resize.
type Machine struct {
	mu      sync.Mutex
	name    string
	state   State
	backend Backend
	log     *logrus.Entry

	shutdownTimer    *time.Timer
	shutdownDeadline time.Time
	shutdownArmed    bool
	shutdownGen      uint64
}

// New creates a state machine for instance name, seeded at initial.
func New(name string, backend Backend, initial State) *Machine {
	return &Machine{
		name:    name,
		state:   initial,
		backend: backend,
		log:     logrus.WithField("instance", name),
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.log.WithFields(logrus.Fields{"from": m.state, "to": s}).Debug("state transition")
	m.state = s
}

// Start transitions {stopped, off, suspended} -> starting -> running (or
// resumes a suspended instance). If the instance carried a delayed
// shutdown whose deadline already passed while suspended, it attempts an
// immediate stop instead of settling into running.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.CanStart() {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, m.state)
	}
	fromSuspended := m.state == StateSuspended
	m.setState(StateStarting)
	m.mu.Unlock()

	var err error
	if fromSuspended {
		err = m.backend.Resume(ctx)
	} else {
		err = m.backend.Start(ctx)
	}

	m.mu.Lock()
	if err != nil {
		m.setState(StateUnknown)
		m.mu.Unlock()
		return fmt.Errorf("vmstate: start %s: %w", m.name, err)
	}

	var expiredShutdown bool
	if fromSuspended && m.shutdownArmed {
		if time.Now().After(m.shutdownDeadline) {
			expiredShutdown = true
			m.shutdownArmed = false
		} else {
			remaining := time.Until(m.shutdownDeadline)
			m.rearmLocked(ctx, remaining)
		}
	}
	m.setState(StateRunning)
	m.mu.Unlock()

	if expiredShutdown {
		return m.Stop(ctx, 0)
	}
	return nil
}

// Stop transitions running -> stopped. delay == 0 stops immediately;
// delay > 0 arms a delayed-shutdown timer and the instance moves to
// delayed_shutdown until the timer fires or CancelStop runs first.
func (m *Machine) Stop(ctx context.Context, delay time.Duration) error {
	m.mu.Lock()
	if !m.state.CanStop() {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, m.state)
	}

	if delay <= 0 {
		m.clearTimerLocked()
		m.setState(StateStopped)
		m.mu.Unlock()
		if err := m.backend.Shutdown(ctx); err != nil {
			return fmt.Errorf("vmstate: shutdown %s: %w", m.name, err)
		}
		return nil
	}

	if m.state == StateDelayedShutdown {
		m.mu.Unlock()
		return fmt.Errorf("%w for %s", ErrShutdownPending, m.name)
	}

	m.setState(StateDelayedShutdown)
	m.rearmLocked(ctx, delay)
	m.mu.Unlock()
	return nil
}

// rearmLocked (re-)arms the delayed shutdown timer; caller holds m.mu.
func (m *Machine) rearmLocked(ctx context.Context, remaining time.Duration) {
	m.clearTimerLocked()
	m.shutdownArmed = true
	m.shutdownDeadline = time.Now().Add(remaining)
	m.shutdownGen++
	gen := m.shutdownGen
	m.shutdownTimer = time.AfterFunc(remaining, func() {
		m.fireDelayedShutdown(ctx, gen)
	})
}

// clearTimerLocked stops any pending timer without invalidating the
// shutdown-armed bookkeeping; caller holds m.mu.
func (m *Machine) clearTimerLocked() {
	if m.shutdownTimer != nil {
		m.shutdownTimer.Stop()
		m.shutdownTimer = nil
	}
}

func (m *Machine) fireDelayedShutdown(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.shutdownGen != gen || !m.shutdownArmed {
		// Superseded by a cancel or re-arm that ran first.
		m.mu.Unlock()
		return
	}
	m.shutdownArmed = false
	m.shutdownTimer = nil

	if m.state == StateSuspended {
		// Timer expired while suspended: Start() checks shutdownArmed
		// and the deadline on resume, so there's nothing to do here.
		m.mu.Unlock()
		return
	}
	m.setState(StateStopped)
	m.mu.Unlock()

	if err := m.backend.Shutdown(ctx); err != nil {
		m.log.WithError(err).Warn("delayed shutdown backend call failed")
	}
}

// CancelStop aborts a pending delayed shutdown and returns the instance to
// running.
func (m *Machine) CancelStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDelayedShutdown {
		return fmt.Errorf("%w for %s", ErrNoShutdownPending, m.name)
	}
	m.clearTimerLocked()
	m.shutdownArmed = false
	m.setState(StateRunning)
	return nil
}

// Suspend transitions running -> suspending -> suspended. A pending
// delayed shutdown is permitted and carries across the suspend: its timer
// is paused and its deadline preserved, to be re-armed or fired on resume.
func (m *Machine) Suspend(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.CanSuspend() && m.state != StateDelayedShutdown {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot suspend from %s", ErrInvalidTransition, m.state)
	}
	m.clearTimerLocked()
	m.setState(StateSuspending)
	m.mu.Unlock()

	if err := m.backend.Suspend(ctx); err != nil {
		m.mu.Lock()
		m.setState(StateUnknown)
		m.mu.Unlock()
		return fmt.Errorf("vmstate: suspend %s: %w", m.name, err)
	}

	m.mu.Lock()
	m.setState(StateSuspended)
	m.mu.Unlock()
	return nil
}

// Reboot transitions running -> restarting -> running via the guest. If
// the backend supports pre-emptive guest SSH halt, it is invoked first so
// the caller can watch for an SSH-down-then-up transition rather than
// racing the reboot call.
func (m *Machine) Reboot(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.CanReboot() {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot reboot from %s", ErrInvalidTransition, m.state)
	}
	m.setState(StateRestarting)
	m.mu.Unlock()

	if halter, ok := m.backend.(GuestSSHHalter); ok {
		if err := halter.HaltGuestSSH(ctx); err != nil {
			m.log.WithError(err).Warn("guest SSH halt before reboot failed, proceeding anyway")
		}
	}

	if err := m.backend.Reboot(ctx); err != nil {
		m.mu.Lock()
		m.setState(StateUnknown)
		m.mu.Unlock()
		return fmt.Errorf("vmstate: reboot %s: %w", m.name, err)
	}

	m.mu.Lock()
	m.setState(StateRunning)
	m.mu.Unlock()
	return nil
}

// ForceStop transitions any state directly to stopped, bypassing graceful
// shutdown negotiation with the guest.
func (m *Machine) ForceStop(ctx context.Context) error {
	m.mu.Lock()
	m.clearTimerLocked()
	m.shutdownArmed = false
	m.setState(StateStopped)
	m.mu.Unlock()

	if err := m.backend.ForceStop(ctx); err != nil {
		return fmt.Errorf("vmstate: force stop %s: %w", m.name, err)
	}
	return nil
}
