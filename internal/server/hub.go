package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/security"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/wire"
)

// sessionHub is the in-process session.Broadcaster: it fans a committed
// event out to every live session's transport except the one that caused it.
// It also implements cluster.ClusterOpHandler, applying an op forwarded by a
// peer node directly against this node's pipeline.
type sessionHub struct {
	log *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*session.Session

	pipeline *session.Pipeline
}

func newSessionHub(logger *logrus.Logger) *sessionHub {
	return &sessionHub{
		log:      logger.WithField("component", "hub"),
		sessions: make(map[string]*session.Session),
	}
}

// bindPipeline wires the hub to the pipeline that forwarded cluster ops are
// replayed against; done after construction to break the hub/pipeline
// initialization cycle (the pipeline needs the hub as its Broadcaster).
func (h *sessionHub) bindPipeline(p *session.Pipeline) { h.pipeline = p }

func (h *sessionHub) add(sess *session.Session) {
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()
}

func (h *sessionHub) remove(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// Broadcast implements session.Broadcaster.
func (h *sessionHub) Broadcast(mapName string, evt wire.ServerEventMsg, excludeSessionID string) {
	h.mu.RLock()
	targets := make([]*session.Session, 0, len(h.sessions))
	for id, sess := range h.sessions {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	frame := wire.Frame{Type: wire.TypeServerEvent, Payload: evt.Marshal()}
	for _, sess := range targets {
		if err := sess.Transport().Write(frame, false); err != nil {
			h.log.WithError(err).WithField("session_id", sess.ID).Warn("failed to deliver broadcast event")
		}
	}
}

// clusterPrincipal is the fixed, all-access principal forwarded cluster ops
// are authorized as; cluster forwarding happens after the originating node
// already authorized the op against the client that issued it.
var clusterPrincipal = security.Principal{UserID: "cluster", Roles: []string{"cluster"}}

// discardTransport satisfies session.Transport for the synthetic session
// used to replay a forwarded cluster op; its ACK is not sent anywhere.
type discardTransport struct{}

func (discardTransport) Write(wire.Frame, bool) error { return nil }
func (discardTransport) Close() error                 { return nil }

// HandleClusterOpFrame implements cluster.ClusterOpHandler: it decodes the
// forwarded CLIENT_OP frame from the request body and runs it through this
// node's pipeline as if it were a local write, tagged with its origin so the
// pipeline's broadcast does not loop it back across the cluster.
func (h *sessionHub) HandleClusterOpFrame(r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(wire.MaxFrameLength)))
	if err != nil {
		return err
	}
	var envelope struct {
		Op []byte `json:"op"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	op, err := wire.UnmarshalClientOp(envelope.Op)
	if err != nil {
		return err
	}

	sess := session.New("cluster-forward", discardTransport{}, nil, h.pipeline, logrus.StandardLogger())
	sess.Authenticate(clusterPrincipal)
	return h.pipeline.HandleClientOp(context.Background(), sess, op)
}
