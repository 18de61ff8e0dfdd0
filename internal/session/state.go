// Package session owns the authentication/profile state machine: it turns
// auth-change and profile-save events into one of four application phases
// the UI layer can render directly.
package session

import (
	"context"
	"errors"
	"strings"

	"papi/internal/core"
)

// Phase is the application phase derived from auth state and profile
// completeness.
const (
	// PhaseSignedOut is the initial phase; no authenticated identity.
	PhaseSignedOut Phase = "signed_out"
	// PhaseLoading means an identity is known but the profile state is not:
	// either a fetch is in flight or the profile store was unreachable.
	// Callers must treat this as "loading", never as signed out.
	PhaseLoading Phase = "loading"
	// PhaseIncomplete means signed in with a missing or incomplete profile;
	// the user still has to finish registration.
	PhaseIncomplete Phase = "incomplete_profile"
	// PhaseComplete means signed in and fully onboarded.
	PhaseComplete Phase = "complete"
)

type (
	Phase string

	// Profile is the four-field personal record required for onboarding.
	Profile struct {
		Name         string
		PlaceOfBirth string
		DateOfBirth  core.Date
		Gender       string
	}

	// ProfileUpdate is a partial profile write; nil fields are retained.
	ProfileUpdate struct {
		Name         *string
		PlaceOfBirth *string
		DateOfBirth  *core.Date
		Gender       *string
	}

	// State is a snapshot of the machine. UID is set for every phase except
	// SignedOut; Profile is meaningful for Incomplete and Complete.
	State struct {
		Phase   Phase
		UID     string
		Profile Profile
	}
)

var (
	// ErrProfileStoreUnavailable reports a failed profile read or write. The
	// machine stays where it was; the operation is retried only by the next
	// explicit event.
	ErrProfileStoreUnavailable = errors.New("profile store unavailable")
	// ErrInvalidTransition reports an event that is not valid in the current
	// state, such as a profile save with no active session.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrProfileNotFound is returned by ProfileStore.ReadProfile when no
	// record exists for the uid. Not an error for the machine: it maps to
	// the incomplete-profile phase.
	ErrProfileNotFound = errors.New("profile not found")
)

// ProfileStore is the outbound port to the profile record store. It is a
// merge-on-write key-value store; both calls may suspend and may fail.
type ProfileStore interface {
	ReadProfile(ctx context.Context, uid string) (Profile, error)
	WriteProfile(ctx context.Context, uid string, updates ProfileUpdate) error
}

// Complete reports whether all four profile fields are present: string
// fields non-empty after trimming, date non-zero. This is the single
// completeness predicate shared by every transition.
func (p Profile) Complete() bool {
	return strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.PlaceOfBirth) != "" &&
		!p.DateOfBirth.IsZero() &&
		strings.TrimSpace(p.Gender) != ""
}

// Merge applies a partial update field-wise, leaving nil fields untouched.
func (p Profile) Merge(u ProfileUpdate) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.PlaceOfBirth != nil {
		p.PlaceOfBirth = *u.PlaceOfBirth
	}
	if u.DateOfBirth != nil {
		p.DateOfBirth = *u.DateOfBirth
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	return p
}
