package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hyperdash/streamhub"
)

var (
	// ErrMissingToken is returned when the handshake carries no token.
	ErrMissingToken = errors.New("authentication required")

	// ErrInvalidToken is returned for tokens that fail signature or claim
	// validation.
	ErrInvalidToken = errors.New("authentication failed")
)

// Claims is the JWT claim set issued by the API layer. Subject carries the
// user id; Profile carries arbitrary user data the hub passes through
// unvalidated.
type Claims struct {
	Profile map[string]any `json:"profile,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed bearer tokens issued by the API layer
// and resolves them into identities. It implements streamhub.Verifier.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with the given
// shared secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

var _ streamhub.Verifier = (*TokenVerifier)(nil)

// Verify parses and validates token, returning the identity it encodes.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (streamhub.Identity, error) {
	if token == "" {
		return streamhub.Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return streamhub.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return streamhub.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return streamhub.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return streamhub.Identity{
		UserID:  claims.Subject,
		Profile: claims.Profile,
	}, nil
}
