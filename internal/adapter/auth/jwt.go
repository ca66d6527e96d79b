// Package auth verifies connection credentials issued by the marketplace's auth service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/jobpulse/internal/domain"
)

const clockSkewLeeway = 30 * time.Second

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// JWTVerifier checks HMAC-signed JWTs and extracts the user identity from "sub",
// falling back to a "userId" claim.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var _ domain.TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier returns a verifier for secret. A non-empty issuer is enforced on every token.
func NewJWTVerifier(secret []byte, issuer string, clock clockwork.Clock) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacMethods),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithTimeFunc(clock.Now),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{secret: secret, parser: jwt.NewParser(opts...)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.UserID, error) {
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, simplify(err))
	}
	if !parsed.Valid {
		return "", domain.ErrInvalidToken
	}

	userID, err := subject(claims)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return userID, nil
}

func subject(claims jwt.MapClaims) (domain.UserID, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return domain.UserID(sub), nil
	}
	switch id := claims["userId"].(type) {
	case string:
		if id != "" {
			return domain.UserID(id), nil
		}
	case float64:
		return domain.UserID(fmt.Sprintf("%.0f", id)), nil
	}
	return "", errors.New("token carries no subject")
}

// simplify keeps the most specific cause so close reasons stay short.
func simplify(err error) error {
	for _, known := range []error{
		jwt.ErrTokenExpired,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenRequiredClaimMissing,
		jwt.ErrTokenUnverifiable,
	} {
		if errors.Is(err, known) {
			return known
		}
	}
	return err
}
