package wsrelay

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"healthcare-gateway/middleware/auth"
	"healthcare-gateway/middleware/requestctx"
	"healthcare-gateway/proxy"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "relay-test-secret-with-32-plus-characters"

type downstream struct {
	srv     *httptest.Server
	dials   atomic.Int32
	mu      sync.Mutex
	headers http.Header
}

func (d *downstream) lastHeaders() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers
}

// newDownstream serves /ws/{user_id} and hands each accepted socket to fn.
func newDownstream(t *testing.T, fn func(ctx context.Context, c *websocket.Conn, userID string)) *downstream {
	t.Helper()
	d := &downstream{}
	r := chi.NewRouter()
	r.Get("/ws/{user_id}", func(w http.ResponseWriter, req *http.Request) {
		d.dials.Add(1)
		d.mu.Lock()
		d.headers = req.Header.Clone()
		d.mu.Unlock()
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		fn(req.Context(), c, chi.URLParam(req, "user_id"))
	})
	d.srv = httptest.NewServer(r)
	t.Cleanup(d.srv.Close)
	return d
}

func echo(ctx context.Context, c *websocket.Conn, _ string) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if err := c.Write(ctx, typ, append([]byte("echo:"), data...)); err != nil {
			return
		}
	}
}

type states struct {
	mu  sync.Mutex
	got []State
}

func (s *states) record(_ string, st State) {
	s.mu.Lock()
	s.got = append(s.got, st)
	s.mu.Unlock()
}

func (s *states) snapshot() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.got...)
}

type gatewayFixture struct {
	srv      *httptest.Server
	verifier *auth.Verifier
	states   *states
}

func newGateway(t *testing.T, downstreamURL string, mutate func(*Options)) *gatewayFixture {
	t.Helper()
	v, err := auth.NewVerifier(testSecret, "HS256")
	require.NoError(t, err)

	base, err := url.Parse(downstreamURL)
	require.NoError(t, err)

	st := &states{}
	opts := Options{Verifier: v, Downstream: base, OnStateChange: st.record}
	if mutate != nil {
		mutate(&opts)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestctx.With(req.Context(), &requestctx.State{CorrelationID: "ws-corr"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/ws/notifications/{user_id}", New(opts).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &gatewayFixture{srv: srv, verifier: v, states: st}
}

func (g *gatewayFixture) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := g.verifier.Issue(requestctx.Identity{UserID: userID, Role: requestctx.RolePatient}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (g *gatewayFixture) dial(t *testing.T, userID, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/notifications/" + userID
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readCloseStatus(t *testing.T, c *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	return websocket.CloseStatus(err)
}

func TestRelay_RelaysBothDirections(t *testing.T) {
	ds := newDownstream(t, echo)
	gw := newGateway(t, ds.srv.URL, nil)

	c := gw.dial(t, "42", gw.token(t, 42))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("ping")))
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, "echo:ping", string(data))

	h := ds.lastHeaders()
	assert.Equal(t, "42", h.Get(proxy.HeaderUserID))
	assert.Equal(t, "patient", h.Get(proxy.HeaderUserRole))
	assert.Equal(t, "ws-corr", h.Get(proxy.HeaderCorrelationID))

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		got := gw.states.snapshot()
		return len(got) > 0 && got[len(got)-1] == StateClosed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateAuthenticating, StateRelaying, StateClosed}, gw.states.snapshot())
}

func TestRelay_RejectsMissingOrInvalidToken(t *testing.T) {
	ds := newDownstream(t, echo)
	gw := newGateway(t, ds.srv.URL, nil)

	for _, tok := range []string{"", "not-a-jwt"} {
		c := gw.dial(t, "42", tok)
		assert.Equal(t, websocket.StatusPolicyViolation, readCloseStatus(t, c), "token %q", tok)
	}
	assert.Zero(t, ds.dials.Load())
}

func TestRelay_RejectsSubjectMismatch(t *testing.T) {
	ds := newDownstream(t, echo)
	gw := newGateway(t, ds.srv.URL, nil)

	c := gw.dial(t, "8", gw.token(t, 7))

	assert.Equal(t, websocket.StatusPolicyViolation, readCloseStatus(t, c))
	assert.Zero(t, ds.dials.Load())
	assert.NotContains(t, gw.states.snapshot(), StateRelaying)
}

func TestRelay_DownstreamUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	gw := newGateway(t, "http://"+addr, func(o *Options) { o.DialTimeout = time.Second })
	c := gw.dial(t, "5", gw.token(t, 5))

	assert.Equal(t, websocket.StatusInternalError, readCloseStatus(t, c))
}

func TestRelay_ForwardsDownstreamCloseStatus(t *testing.T) {
	ds := newDownstream(t, func(ctx context.Context, c *websocket.Conn, userID string) {
		_ = c.Write(ctx, websocket.MessageText, []byte("hello "+userID))
		_ = c.Close(websocket.StatusCode(4000), "bye")
	})
	gw := newGateway(t, ds.srv.URL, nil)

	c := gw.dial(t, "3", gw.token(t, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello 3", string(data))

	assert.Equal(t, websocket.StatusCode(4000), readCloseStatus(t, c))
}

func TestRelay_IdleTimeout(t *testing.T) {
	ds := newDownstream(t, echo)
	gw := newGateway(t, ds.srv.URL, func(o *Options) { o.IdleTimeout = 100 * time.Millisecond })

	c := gw.dial(t, "9", gw.token(t, 9))

	assert.Equal(t, websocket.StatusGoingAway, readCloseStatus(t, c))
}

func TestDownstreamURL(t *testing.T) {
	cases := map[string]string{
		"http://notification-service:8006":   "ws://notification-service:8006/ws/12",
		"https://notify.internal/base/":      "wss://notify.internal/base/ws/12",
		"http://localhost:8006?ignored=true": "ws://localhost:8006/ws/12",
	}
	for in, want := range cases {
		u, err := url.Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, DownstreamURL(u, "12"), in)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "relaying", StateRelaying.String())
	assert.Equal(t, "unknown", State(99).String())
}
