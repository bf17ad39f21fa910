// Package requestctx carries the per-request state shared by the middleware
// chain: correlation id, start time and the authenticated identity.
//
// The correlation middleware installs a *State at the top of the chain.
// Inner stages fill it in, and because they share the pointer the outer
// logger sees what they set once the handler returns.
package requestctx

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Identity is derived from a verified token. It lives for one request.
type Identity struct {
	UserID   int64
	Username string
	Role     Role
}

func (id Identity) UserIDString() string { return strconv.FormatInt(id.UserID, 10) }

type State struct {
	CorrelationID string
	Start         time.Time

	mu       sync.Mutex
	identity *Identity
}

func (s *State) SetIdentity(id Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
}

// Identity returns the authenticated identity, if any.
func (s *State) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

type ctxKey struct{}

func With(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the request state, or nil outside the middleware chain.
func From(ctx context.Context) *State {
	s, _ := ctx.Value(ctxKey{}).(*State)
	return s
}

// CorrelationID returns the request's correlation id or "".
func CorrelationID(ctx context.Context) string {
	if s := From(ctx); s != nil {
		return s.CorrelationID
	}
	return ""
}

// IdentityFrom returns the identity established for the request.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if s := From(ctx); s != nil {
		return s.Identity()
	}
	return Identity{}, false
}
