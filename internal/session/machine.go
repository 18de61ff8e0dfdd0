package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Machine is the session/profile state machine. It consumes two external
// events, AuthChanged and ProfileSaved, and exposes its current State
// synchronously. How events are transported (push, polling, HTTP handlers)
// is the caller's concern.
//
// Events that touch the profile store are processed strictly in arrival
// order: only one read or write is in flight at a time and later events
// queue behind it. Sign-out is the exception: it takes effect immediately
// and bumps the session epoch so the result of any in-flight store
// operation is discarded when it completes.
type Machine struct {
	store ProfileStore

	// evMu serializes the suspending events (sign-in reads, profile writes).
	evMu sync.Mutex

	mu    sync.RWMutex
	state State
	epoch uint64
}

func NewMachine(store ProfileStore) *Machine {
	return &Machine{
		store: store,
		state: State{Phase: PhaseSignedOut},
	}
}

// State returns a snapshot of the current machine state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// AuthChanged handles an authentication-change notification from the
// identity provider. An empty uid is a sign-out and is applied immediately,
// even while a profile operation for the previous uid is still pending.
//
// For a sign-in the profile record is fetched: no record or an incomplete
// one yields PhaseIncomplete, a complete one yields PhaseComplete. If the
// store is unreachable the machine stays in PhaseLoading and the error is
// surfaced so the caller can render a retry, not a signed-out screen.
func (m *Machine) AuthChanged(ctx context.Context, uid string) error {
	if uid == "" {
		m.mu.Lock()
		m.epoch++
		m.state = State{Phase: PhaseSignedOut}
		m.mu.Unlock()
		slog.InfoContext(ctx, "Session signed out")
		return nil
	}

	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.state = State{Phase: PhaseLoading, UID: uid}
	m.mu.Unlock()

	profile, err := m.store.ReadProfile(ctx, uid)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// Signed out (or superseded) while the read was in flight.
		slog.InfoContext(ctx, "Discarding stale profile read", "uid", uid)
		return nil
	}
	switch {
	case errors.Is(err, ErrProfileNotFound):
		m.state = State{Phase: PhaseIncomplete, UID: uid}
	case err != nil:
		// Keep PhaseLoading: an unreachable store must not look signed out.
		return fmt.Errorf("%w: read profile for %s: %v", ErrProfileStoreUnavailable, uid, err)
	case profile.Complete():
		m.state = State{Phase: PhaseComplete, UID: uid, Profile: profile}
	default:
		m.state = State{Phase: PhaseIncomplete, UID: uid, Profile: profile}
	}
	slog.InfoContext(ctx, "Session signed in", "uid", uid, "phase", string(m.state.Phase))
	return nil
}

// ProfileSaved merges a partial profile update into the current profile,
// persists it, and re-evaluates completeness. It is valid only while
// signed in; from SignedOut (or Loading) it fails with
// ErrInvalidTransition and leaves the state unchanged.
func (m *Machine) ProfileSaved(ctx context.Context, updates ProfileUpdate) error {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	if m.state.Phase != PhaseIncomplete && m.state.Phase != PhaseComplete {
		m.mu.Unlock()
		return fmt.Errorf("%w: profile saved in phase %s", ErrInvalidTransition, m.state.Phase)
	}
	epoch := m.epoch
	uid := m.state.UID
	merged := m.state.Profile.Merge(updates)
	m.mu.Unlock()

	if err := m.store.WriteProfile(ctx, uid, updates); err != nil {
		return fmt.Errorf("%w: write profile for %s: %v", ErrProfileStoreUnavailable, uid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		slog.InfoContext(ctx, "Discarding stale profile write", "uid", uid)
		return nil
	}
	if merged.Complete() {
		m.state = State{Phase: PhaseComplete, UID: uid, Profile: merged}
	} else {
		m.state = State{Phase: PhaseIncomplete, UID: uid, Profile: merged}
	}
	slog.InfoContext(ctx, "Profile saved", "uid", uid, "phase", string(m.state.Phase))
	return nil
}
