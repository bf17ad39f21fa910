// Package auth verifies bearer tokens and decides whether an identity may
// call a path.
//
// Token verification happens only here. Downstream services receive the
// result as X-User-ID / X-User-Role headers and trust them, which means they
// must only be reachable through the gateway.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthcare-gateway/middleware/requestctx"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the auth service.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a raw bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (requestctx.Identity, error)
}

// Verifier checks HMAC-signed tokens against one shared secret and one fixed
// algorithm. It holds no mutable state.
type Verifier struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
	parser *jwt.Parser
}

type VerifierOption func(*Verifier)

func WithTimeFunc(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier accepts HS256, HS384 or HS512.
func NewVerifier(secret, algorithm string, opts ...VerifierOption) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported algorithm %q", algorithm)
	}

	v := &Verifier{
		secret: []byte(secret),
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	return v, nil
}

func (v *Verifier) Algorithm() string { return v.method.Alg() }

// Verify validates signature, algorithm, expiry and subject. Every failure
// wraps ErrInvalidToken; the wrapped reason is for logs only.
func (v *Verifier) Verify(raw string) (requestctx.Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return requestctx.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return requestctx.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return requestctx.Identity{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}

	// tokens minted before roles existed belong to patients
	role := requestctx.RolePatient
	if r := strings.ToLower(strings.TrimSpace(claims.Role)); r != "" {
		role = requestctx.Role(r)
	}

	return requestctx.Identity{
		UserID:   userID,
		Username: claims.Username,
		Role:     role,
	}, nil
}

// Issue signs a token for id valid for ttl. The gateway never issues tokens
// for clients; this serves tests and local tooling.
func (v *Verifier) Issue(id requestctx.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Username: id.Username,
		Role:     string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserIDString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(v.method, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
