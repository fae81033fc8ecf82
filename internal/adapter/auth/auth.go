// Package auth verifies bearer tokens presented to the HTTP API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cwygoda/extractd/internal/domain"
)

var (
	// ErrTokenExpired is returned for a well-formed token past its exp claim.
	ErrTokenExpired = fmt.Errorf("%w: token has expired", domain.ErrUnauthorized)
	// ErrInvalidToken covers every other verification failure.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
)

// Claims are the verified token claims.
type Claims map[string]any

// Subject returns the sub claim, or "" if absent.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// JWKSVerifier validates RS256 tokens against a JSON Web Key Set with a
// pinned issuer and audience.
type JWKSVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	logger  *slog.Logger
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed
// in the background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, audience string, logger *slog.Logger) (*JWKSVerifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("load jwks from %s: %w", jwksURL, err)
	}
	logger.Info("jwks loaded", "url", jwksURL)
	return newVerifier(k.Keyfunc, issuer, audience, logger), nil
}

func newVerifier(kf jwt.Keyfunc, issuer, audience string, logger *slog.Logger) *JWKSVerifier {
	return &JWKSVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
		),
		logger: logger,
	}
}

// Verify parses token and checks signature, issuer, audience and expiry.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		v.logger.DebugContext(ctx, "token rejected", "err", err)
		return nil, ErrInvalidToken
	}
	return Claims(claims), nil
}
