// Package identity verifies Google Sign-In ID tokens and resolves them to
// a stable user ID.
package identity

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Verifier resolves an ID token to the user ID it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// GoogleVerifier validates Google-issued ID tokens against a configured
// OAuth client ID (the audience) and returns the token's subject claim.
type GoogleVerifier struct {
	audience string
}

func NewGoogleVerifier(audience string) *GoogleVerifier {
	return &GoogleVerifier{audience: audience}
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	payload, err := idtoken.Validate(ctx, token, v.audience)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if payload.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return payload.Subject, nil
}
