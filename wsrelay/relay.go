// Package wsrelay authenticates a client WebSocket and relays frames to the
// notifications service until either side goes away.
package wsrelay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"healthcare-gateway/middleware/auth"
	"healthcare-gateway/middleware/requestctx"
	"healthcare-gateway/proxy"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionRecorder observes relay sessions.
type SessionRecorder interface {
	WSSessionStarted()
	WSSessionEnded()
	RecordWSFrame(direction string)
}

const (
	toDownstream = "client_to_downstream"
	toClient     = "downstream_to_client"
)

type Options struct {
	Verifier auth.TokenVerifier
	// Downstream is the notifications service base URL. Sessions dial
	// {Downstream}/ws/{user_id}.
	Downstream *url.URL

	// OriginPatterns restricts browser origins. Empty accepts any origin.
	OriginPatterns []string
	// IdleTimeout closes a session with no frames in either direction.
	// Zero keeps sessions open until a side disconnects.
	IdleTimeout time.Duration
	ReadLimit   int64
	DialTimeout time.Duration

	Logger  *zap.Logger
	Metrics SessionRecorder
	// OnStateChange is called on every transition.
	OnStateChange func(userID string, s State)
}

type Relay struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	return &Relay{opts: opts, log: opts.Logger.Named("wsrelay")}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		userID = path.Base(r.URL.Path)
	}
	s := &session{relay: rl, userID: userID, corr: requestctx.CorrelationID(r.Context())}
	s.transition(StateConnecting)

	// the server's per-request deadlines would otherwise cut the session
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     rl.opts.OriginPatterns,
		InsecureSkipVerify: len(rl.opts.OriginPatterns) == 0,
	})
	if err != nil {
		rl.log.Info("websocket accept failed", zap.String("user_id", userID),
			zap.String("correlation_id", s.corr), zap.Error(err))
		s.transition(StateClosed)
		return
	}
	client.SetReadLimit(rl.opts.ReadLimit)

	s.transition(StateAuthenticating)
	id, ok := rl.authenticate(r, userID)
	if !ok {
		_ = client.Close(websocket.StatusPolicyViolation, "unauthorized")
		s.transition(StateClosed)
		return
	}
	if st := requestctx.From(r.Context()); st != nil {
		st.SetIdentity(id)
	}

	ctx := r.Context()
	downstream, err := rl.dial(ctx, userID, s.corr, id)
	if err != nil {
		rl.log.Error("downstream websocket dial failed", zap.String("user_id", userID),
			zap.String("correlation_id", s.corr), zap.Error(err))
		_ = client.Close(websocket.StatusInternalError, "notification service unavailable")
		s.transition(StateClosed)
		return
	}
	downstream.SetReadLimit(rl.opts.ReadLimit)

	s.transition(StateRelaying)
	if rl.opts.Metrics != nil {
		rl.opts.Metrics.WSSessionStarted()
		defer rl.opts.Metrics.WSSessionEnded()
	}
	s.run(ctx, client, downstream)
	s.transition(StateClosed)
}

func (rl *Relay) authenticate(r *http.Request, userID string) (requestctx.Identity, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return requestctx.Identity{}, false
	}
	id, err := rl.opts.Verifier.Verify(token)
	if err != nil {
		rl.log.Info("websocket token rejected", zap.String("user_id", userID), zap.Error(err))
		return requestctx.Identity{}, false
	}
	if id.UserIDString() != userID {
		rl.log.Warn("websocket subject mismatch",
			zap.String("user_id", userID), zap.Int64("token_user_id", id.UserID))
		return requestctx.Identity{}, false
	}
	return id, true
}

func (rl *Relay) dial(ctx context.Context, userID, corr string, id requestctx.Identity) (*websocket.Conn, error) {
	if rl.opts.Downstream == nil {
		return nil, errors.New("wsrelay: no downstream configured")
	}
	ctx, cancel := context.WithTimeout(ctx, rl.opts.DialTimeout)
	defer cancel()

	h := http.Header{}
	if corr != "" {
		h.Set(proxy.HeaderCorrelationID, corr)
	}
	h.Set(proxy.HeaderUserID, id.UserIDString())
	h.Set(proxy.HeaderUserRole, string(id.Role))

	conn, _, err := websocket.Dial(ctx, DownstreamURL(rl.opts.Downstream, userID), &websocket.DialOptions{HTTPHeader: h})
	return conn, err
}

// DownstreamURL builds the ws(s) URL of a user's notification socket.
func DownstreamURL(base *url.URL, userID string) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(userID)
	u.RawQuery = ""
	return u.String()
}

type session struct {
	relay  *Relay
	userID string
	corr   string
	last   atomic.Int64
}

func (s *session) transition(to State) {
	s.relay.log.Debug("websocket session state",
		zap.String("user_id", s.userID), zap.String("state", to.String()),
		zap.String("correlation_id", s.corr))
	if f := s.relay.opts.OnStateChange; f != nil {
		f(s.userID, to)
	}
}

type pumpExit struct {
	from *websocket.Conn
	to   *websocket.Conn
	err  error
}

// run runs both pumps. The first pump to stop decides the close status the
// other side receives.
func (s *session) run(parent context.Context, client, downstream *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.last.Store(time.Now().UnixNano())
	exits := make(chan pumpExit, 2)
	go s.pump(ctx, downstream, client, toDownstream, exits)
	go s.pump(ctx, client, downstream, toClient, exits)

	var idle <-chan time.Time
	if s.relay.opts.IdleTimeout > 0 {
		t := time.NewTicker(idleCheckEvery(s.relay.opts.IdleTimeout))
		defer t.Stop()
		idle = t.C
	}

	for {
		select {
		case ex := <-exits:
			s.teardown(ex)
			cancel()
			<-exits
			return
		case <-idle:
			since := time.Since(time.Unix(0, s.last.Load()))
			if since < s.relay.opts.IdleTimeout {
				continue
			}
			s.relay.log.Info("websocket session idle", zap.String("user_id", s.userID),
				zap.Duration("idle", since), zap.String("correlation_id", s.corr))
			_ = client.Close(websocket.StatusGoingAway, "idle timeout")
			_ = downstream.Close(websocket.StatusGoingAway, "idle timeout")
			cancel()
			<-exits
			<-exits
			return
		}
	}
}

func (s *session) pump(ctx context.Context, dst, src *websocket.Conn, direction string, exits chan<- pumpExit) {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			exits <- pumpExit{from: src, to: dst, err: err}
			return
		}
		s.last.Store(time.Now().UnixNano())
		if err := dst.Write(ctx, typ, data); err != nil {
			exits <- pumpExit{from: dst, to: src, err: err}
			return
		}
		if m := s.relay.opts.Metrics; m != nil {
			m.RecordWSFrame(direction)
		}
	}
}

// teardown forwards the close status seen on the failed side to its peer.
// Without a close frame the peer is told the other end went away.
func (s *session) teardown(ex pumpExit) {
	code := websocket.StatusGoingAway
	reason := ""
	var ce websocket.CloseError
	if errors.As(ex.err, &ce) {
		code, reason = ce.Code, ce.Reason
	}
	if code == websocket.StatusNoStatusRcvd || code == websocket.StatusAbnormalClosure {
		code = websocket.StatusGoingAway
	}

	s.relay.log.Debug("websocket session ending", zap.String("user_id", s.userID),
		zap.Int("close_code", int(code)), zap.String("correlation_id", s.corr), zap.Error(ex.err))

	_ = ex.to.Close(code, reason)
	_ = ex.from.CloseNow()
}

func idleCheckEvery(idle time.Duration) time.Duration {
	every := idle / 4
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	return every
}
