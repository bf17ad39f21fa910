package domain

import (
	"context"
	"strings"
	"time"
)

// StatsEvent is one rate-limit decision.
//
// Route is a bounded label (the downstream service, "gateway" or "unknown"),
// never a raw path: stores keep one counter per Method and Route, and ids in
// paths would grow that set without limit.
type StatsEvent struct {
	Key     Key
	Allowed bool

	Method string
	Route  string

	At time.Time
}

// RouteField is the "<METHOD> <route>" counter name, empty when both are.
func (ev StatsEvent) RouteField() string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Route))
}

// StatsStore persists decision statistics. Callers treat errors as best
// effort and never fail a request because of them.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
