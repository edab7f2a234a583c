// Package session implements the per-connection pipeline: authentication,
// rate limiting, security checks, conflict resolution, CRDT application,
// journaling, storage persistence, and broadcast, driven by frames decoded
// from internal/wire.
package session

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/apperrors"
	"github.com/maxiokv/dkvd/internal/security"
	"github.com/maxiokv/dkvd/internal/wire"
)

// State is a session's position in its lifecycle state machine.
type State int32

const (
	StateNew State = iota
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transport is the minimal send/close surface a session drives. A
// coalesce.Writer wrapping the real connection, or a fake in tests,
// satisfies it.
type Transport interface {
	Write(f wire.Frame, flushImmediately bool) error
	Close() error
}

// Authenticator validates a bearer token and resolves it to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (security.Principal, error)
}

// ConnectionLimiter is the subset of ratelimit.ConnectionRateLimiter a
// session's rate-limited stage needs.
type ConnectionLimiter interface {
	ShouldAccept() bool
}

// Session is one authenticated (or authenticating) client connection. All
// exported methods are safe for concurrent use; HandleFrame is expected to
// be called from a single reader goroutine per connection.
type Session struct {
	ID         string
	RemoteAddr string

	transport Transport
	auth      Authenticator
	pipeline  *Pipeline
	log       *logrus.Entry

	state     atomic.Int32
	principal atomic.Pointer[security.Principal]
}

// New constructs a Session in StateNew, awaiting AUTH.
func New(remoteAddr string, transport Transport, auth Authenticator, pipeline *Pipeline, logger *logrus.Logger) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		transport:  transport,
		auth:       auth,
		pipeline:   pipeline,
	}
	s.log = logger.WithFields(logrus.Fields{"component": "session", "session_id": s.ID})
	s.state.Store(int32(StateNew))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Principal returns the authenticated principal, or nil pre-auth.
func (s *Session) Principal() *security.Principal { return s.principal.Load() }

// Transport returns the session's underlying frame transport, for callers
// (the broadcast hub) that need to write to it directly.
func (s *Session) Transport() Transport { return s.transport }

// Authenticate marks the session authenticated as principal without going
// through the AUTH frame handshake; used for synthetic sessions that replay
// an already-authorized op (forwarded cluster writes).
func (s *Session) Authenticate(principal security.Principal) {
	s.principal.Store(&principal)
	s.state.Store(int32(StateAuthenticated))
}

// HandleFrame dispatches one decoded frame through the session's state
// machine, writing any resulting response frames to the transport.
func (s *Session) HandleFrame(ctx context.Context, f wire.Frame) error {
	if s.State() == StateClosed {
		return apperrors.ErrSessionClosed
	}

	switch f.Type {
	case wire.TypeAuth:
		return s.handleAuth(ctx, f)
	case wire.TypeClientOp:
		return s.handleClientOp(ctx, f)
	case wire.TypeHeartbeat:
		return s.handleHeartbeat(f)
	default:
		if s.State() != StateAuthenticated {
			return s.sendError(apperrors.New(apperrors.CodeAuthError, "session not authenticated"))
		}
		return s.pipeline.HandleOther(ctx, s, f)
	}
}

func (s *Session) handleAuth(ctx context.Context, f wire.Frame) error {
	msg, err := wire.UnmarshalAuth(f.Payload)
	if err != nil {
		return s.sendError(apperrors.Wrap(apperrors.CodeProtocolError, "malformed AUTH frame", err))
	}
	principal, err := s.auth.Authenticate(ctx, msg.Token)
	if err != nil {
		return s.sendError(apperrors.Wrap(apperrors.CodeAuthError, "authentication failed", err))
	}
	s.principal.Store(&principal)
	s.state.Store(int32(StateAuthenticated))
	return s.transport.Write(wire.Frame{
		Type: wire.TypeAuthOK,
		Payload: wire.AuthOKMsg{UserID: principal.UserID, Roles: principal.Roles}.Marshal(),
	}, true)
}

func (s *Session) handleClientOp(ctx context.Context, f wire.Frame) error {
	if s.State() != StateAuthenticated {
		return s.sendError(apperrors.New(apperrors.CodeAuthError, "session not authenticated"))
	}
	op, err := wire.UnmarshalClientOp(f.Payload)
	if err != nil {
		return s.sendError(apperrors.Wrap(apperrors.CodeProtocolError, "malformed CLIENT_OP frame", err))
	}
	return s.pipeline.HandleClientOp(ctx, s, op)
}

func (s *Session) handleHeartbeat(f wire.Frame) error {
	msg, err := wire.UnmarshalHeartbeat(f.Payload)
	if err != nil {
		return s.sendError(apperrors.Wrap(apperrors.CodeProtocolError, "malformed HEARTBEAT frame", err))
	}
	return s.transport.Write(wire.Frame{Type: wire.TypeHeartbeatAck, Payload: msg.Marshal()}, true)
}

// sendError writes an ERROR frame derived from err and returns err
// unchanged, so callers can both notify the client and report the failure.
// A failure to write the ERROR frame itself is ignored.
func (s *Session) sendError(err error) error {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.New(apperrors.CodeProtocolError, err.Error())
	}
	s.log.WithError(err).Warn("session error")
	_ = s.transport.Write(wire.Frame{
		Type:    wire.TypeError,
		Payload: wire.ErrorMsg{Code: appErr.Code.WireStatus(), Message: appErr.Message}.Marshal(),
	}, true)
	return err
}

// Close transitions the session to CLOSED and closes its transport. Safe to
// call more than once.
func (s *Session) Close() error {
	prev := State(s.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}
	return s.transport.Close()
}
