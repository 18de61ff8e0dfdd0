package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papi/internal/core"
)

// fakeStore is an in-memory ProfileStore with failure injection and an
// optional gate that blocks reads until released.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	readErr  error
	writeErr error
	readGate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]Profile)}
}

func (s *fakeStore) ReadProfile(ctx context.Context, uid string) (Profile, error) {
	if s.readGate != nil {
		<-s.readGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return Profile{}, s.readErr
	}
	p, ok := s.profiles[uid]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeStore) WriteProfile(ctx context.Context, uid string, updates ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.profiles[uid] = s.profiles[uid].Merge(updates)
	return nil
}

func str(s string) *string { return &s }

func date(d core.Date) *core.Date { return &d }

func completeProfile() Profile {
	return Profile{
		Name:         "A",
		PlaceOfBirth: "B",
		DateOfBirth:  core.NewDate(1990, 1, 2),
		Gender:       "F",
	}
}

func TestProfileComplete(t *testing.T) {
	if !completeProfile().Complete() {
		t.Fatal("expected complete profile")
	}
	cases := []struct {
		name string
		mut  func(*Profile)
	}{
		{"missing name", func(p *Profile) { p.Name = "" }},
		{"blank name", func(p *Profile) { p.Name = "   " }},
		{"missing place", func(p *Profile) { p.PlaceOfBirth = "" }},
		{"missing dob", func(p *Profile) { p.DateOfBirth = core.Date{} }},
		{"missing gender", func(p *Profile) { p.Gender = "" }},
	}
	for _, tc := range cases {
		p := completeProfile()
		tc.mut(&p)
		if p.Complete() {
			t.Errorf("%s: expected incomplete", tc.name)
		}
	}
}

func TestProfileMerge(t *testing.T) {
	p := Profile{Name: "old", Gender: "F"}
	merged := p.Merge(ProfileUpdate{Name: str("new"), PlaceOfBirth: str("town")})
	if merged.Name != "new" || merged.PlaceOfBirth != "town" || merged.Gender != "F" {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestAuthChangedSignOut(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = completeProfile()
	m := NewMachine(store)
	ctx := context.Background()

	// Sign-out always yields SignedOut regardless of prior state.
	if err := m.AuthChanged(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := m.AuthChanged(ctx, ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if st := m.State(); st.Phase != PhaseSignedOut || st.UID != "" {
		t.Fatalf("state = %+v, want signed out", st)
	}
}

func TestAuthChangedCompleteness(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*fakeStore)
		phase Phase
	}{
		{"no record", func(s *fakeStore) {}, PhaseIncomplete},
		{"complete profile", func(s *fakeStore) { s.profiles["u1"] = completeProfile() }, PhaseComplete},
		{"missing name", func(s *fakeStore) {
			p := completeProfile()
			p.Name = ""
			s.profiles["u1"] = p
		}, PhaseIncomplete},
		{"missing dob", func(s *fakeStore) {
			p := completeProfile()
			p.DateOfBirth = core.Date{}
			s.profiles["u1"] = p
		}, PhaseIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			tc.setup(store)
			m := NewMachine(store)
			if err := m.AuthChanged(ctx, "u1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			st := m.State()
			if st.Phase != tc.phase {
				t.Fatalf("phase = %s, want %s", st.Phase, tc.phase)
			}
			if st.UID != "u1" {
				t.Errorf("uid = %q, want u1", st.UID)
			}
		})
	}
}

func TestAuthChangedStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("timeout")
	m := NewMachine(store)

	err := m.AuthChanged(context.Background(), "u1")
	if !errors.Is(err, ErrProfileStoreUnavailable) {
		t.Fatalf("error = %v, want ErrProfileStoreUnavailable", err)
	}
	// An unreachable store must read as loading, never as signed out.
	if st := m.State(); st.Phase != PhaseLoading {
		t.Fatalf("phase = %s, want loading", st.Phase)
	}
}

func TestProfileSavedWithoutSession(t *testing.T) {
	m := NewMachine(newFakeStore())
	err := m.ProfileSaved(context.Background(), ProfileUpdate{Name: str("A")})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if st := m.State(); st.Phase != PhaseSignedOut {
		t.Fatalf("phase = %s, state must not change", st.Phase)
	}
}

func TestProfileSavedCompletesOnboarding(t *testing.T) {
	store := newFakeStore()
	m := NewMachine(store)
	ctx := context.Background()

	if err := m.AuthChanged(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if st := m.State(); st.Phase != PhaseIncomplete {
		t.Fatalf("phase = %s, want incomplete", st.Phase)
	}

	// Partial save keeps the session incomplete.
	if err := m.ProfileSaved(ctx, ProfileUpdate{Name: str("A"), PlaceOfBirth: str("B")}); err != nil {
		t.Fatalf("partial save: %v", err)
	}
	if st := m.State(); st.Phase != PhaseIncomplete {
		t.Fatalf("phase = %s, want incomplete after partial save", st.Phase)
	}

	// Filling the remaining fields completes onboarding.
	if err := m.ProfileSaved(ctx, ProfileUpdate{
		DateOfBirth: date(core.NewDate(1990, 1, 2)),
		Gender:      str("F"),
	}); err != nil {
		t.Fatalf("final save: %v", err)
	}
	st := m.State()
	if st.Phase != PhaseComplete {
		t.Fatalf("phase = %s, want complete", st.Phase)
	}
	if st.Profile.Name != "A" || st.Profile.Gender != "F" {
		t.Errorf("profile = %+v, earlier fields must be retained", st.Profile)
	}
	// The store saw the merged writes too.
	if !store.profiles["u1"].Complete() {
		t.Error("persisted profile should be complete")
	}
}

func TestProfileSavedWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = completeProfile()
	m := NewMachine(store)
	ctx := context.Background()

	if err := m.AuthChanged(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	store.writeErr = errors.New("write timeout")
	err := m.ProfileSaved(ctx, ProfileUpdate{Name: str("changed")})
	if !errors.Is(err, ErrProfileStoreUnavailable) {
		t.Fatalf("error = %v, want ErrProfileStoreUnavailable", err)
	}
	if st := m.State(); st.Profile.Name != "A" {
		t.Fatalf("profile = %+v, state must not change on failed write", st.Profile)
	}
}

func TestPendingReadDiscardedAfterSignOut(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = completeProfile()
	store.readGate = make(chan struct{})
	m := NewMachine(store)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.AuthChanged(ctx, "u1") }()

	// Wait for the read to be in flight, then sign out underneath it.
	waitForPhase(t, m, PhaseLoading)
	if err := m.AuthChanged(ctx, ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	close(store.readGate)
	if err := <-done; err != nil {
		t.Fatalf("pending sign in: %v", err)
	}

	// The completed read must not move the machine away from SignedOut.
	if st := m.State(); st.Phase != PhaseSignedOut {
		t.Fatalf("phase = %s, want signed out after stale read", st.Phase)
	}
}

func TestProfileSavedQueuesBehindInFlightRead(t *testing.T) {
	store := newFakeStore()
	store.readGate = make(chan struct{})
	m := NewMachine(store)
	ctx := context.Background()

	signIn := make(chan error, 1)
	go func() { signIn <- m.AuthChanged(ctx, "u1") }()
	waitForPhase(t, m, PhaseLoading)

	// A save arriving while the sign-in read is in flight must wait for it
	// and then see the signed-in session, rather than interleaving and
	// failing against the loading phase.
	saved := make(chan error, 1)
	go func() { saved <- m.ProfileSaved(ctx, ProfileUpdate{Name: str("A")}) }()

	select {
	case err := <-saved:
		t.Fatalf("save completed before the read: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.readGate)
	if err := <-signIn; err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := <-saved; err != nil {
		t.Fatalf("queued save: %v", err)
	}

	st := m.State()
	if st.Phase != PhaseIncomplete || st.UID != "u1" {
		t.Fatalf("state = %+v, want incomplete session for u1", st)
	}
	if st.Profile.Name != "A" {
		t.Errorf("profile = %+v, queued save must have been applied", st.Profile)
	}
	if store.profiles["u1"].Name != "A" {
		t.Errorf("persisted profile = %+v, want the queued write", store.profiles["u1"])
	}
}

func waitForPhase(t *testing.T, m *Machine, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Phase == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s (current %s)", want, m.State().Phase)
}
