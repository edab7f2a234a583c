package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/apperrors"
	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/maxiokv/dkvd/internal/crdt"
	"github.com/maxiokv/dkvd/internal/journal"
	"github.com/maxiokv/dkvd/internal/security"
	"github.com/maxiokv/dkvd/internal/storageadapter"
	"github.com/maxiokv/dkvd/internal/wire"
)

// MapRegistry resolves a map name to its live CRDT state. A map is backed by
// exactly one of LWW or OR-set semantics, chosen at creation.
type MapRegistry interface {
	LWWMap(name string) (*crdt.LWWMap, bool)
	ORSetMap(name string) (*crdt.ORSetMap, bool)
}

// Broadcaster fans a committed event out to other subscribed sessions.
type Broadcaster interface {
	Broadcast(mapName string, evt wire.ServerEventMsg, excludeSessionID string)
}

// ConflictResolver may veto an otherwise-winning write. Implementations run
// user-supplied logic (internal/resolver); the default AllowAll accepts
// everything and leaves CRDT merge semantics as the sole arbiter.
type ConflictResolver interface {
	Resolve(ctx context.Context, mapName string, op wire.ClientOpMsg) (accept bool, reason string)
}

// AllowAll is the zero-configuration resolver: every write is accepted, so
// LWW/OR-set merge rules alone decide the outcome.
type AllowAll struct{}

func (AllowAll) Resolve(context.Context, string, wire.ClientOpMsg) (bool, string) { return true, "" }

// Interceptor runs before security and conflict resolution, for cross-cutting
// concerns (request logging, per-op metrics) that should not be able to
// change a write's outcome by returning an error — interceptors may only
// observe. Replication of onAfterOp hooks uses the same shape post-commit.
type Interceptor func(ctx context.Context, sess *Session, op wire.ClientOpMsg)

// Pipeline is the shared per-node machinery every session's client ops run
// through: rate limit, interceptors, authorization, conflict resolution,
// CRDT apply, journal append, storage persist, broadcast.
type Pipeline struct {
	NodeID string

	Clock       *clock.Clock
	Maps        MapRegistry
	Storage     storageadapter.Adapter
	Journal     *journal.Journal
	Security    *security.Engine
	Resolver    ConflictResolver
	Broadcaster Broadcaster
	WriteConcernTracker *WriteConcernTracker
	Regulator   *Regulator
	Interceptors []Interceptor
	OnAfterOp    []Interceptor

	log *logrus.Entry
}

// NewPipeline wires a Pipeline from its dependencies; nil Resolver defaults
// to AllowAll.
func NewPipeline(nodeID string, clk *clock.Clock, maps MapRegistry, storage storageadapter.Adapter,
	j *journal.Journal, sec *security.Engine, resolver ConflictResolver, bc Broadcaster,
	tracker *WriteConcernTracker, regulator *Regulator, logger *logrus.Logger) *Pipeline {
	if resolver == nil {
		resolver = AllowAll{}
	}
	return &Pipeline{
		NodeID: nodeID, Clock: clk, Maps: maps, Storage: storage, Journal: j,
		Security: sec, Resolver: resolver, Broadcaster: bc,
		WriteConcernTracker: tracker, Regulator: regulator,
		log: logger.WithField("component", "pipeline"),
	}
}

// HandleOther handles any authenticated-only frame type this pipeline does
// not special-case in Session itself (query subscriptions etc.); by default
// it rejects unknown types as a protocol error.
func (p *Pipeline) HandleOther(ctx context.Context, sess *Session, f wire.Frame) error {
	return sess.sendError(apperrors.New(apperrors.CodeProtocolError, "unsupported frame type"))
}

// HandleClientOp runs a decoded CLIENT_OP through the full pipeline and
// writes the resulting ACK or ERROR frame.
func (p *Pipeline) HandleClientOp(ctx context.Context, sess *Session, op wire.ClientOpMsg) error {
	principal := sess.Principal()
	if principal == nil {
		return sess.sendError(apperrors.New(apperrors.CodeAuthError, "missing principal"))
	}

	if p.Regulator != nil {
		if err := p.Regulator.WaitForCapacity(ctx); err != nil {
			return sess.sendError(apperrors.Wrap(apperrors.CodeRateLimited, "write capacity exhausted", err))
		}
		defer p.Regulator.RecordOp()
	}

	for _, ic := range p.Interceptors {
		ic(ctx, sess, op)
	}

	action := security.ActionForOp(op.OpType)
	if p.Security != nil && !p.Security.Authorize(*principal, op.MapName, action, fieldsTouched(op)) {
		return sess.sendError(apperrors.New(apperrors.CodePermissionDenied, "not authorized for "+op.MapName))
	}

	if accept, reason := p.Resolver.Resolve(ctx, op.MapName, op); !accept {
		return sess.sendError(apperrors.New(apperrors.CodeMergeRejected, reason))
	}

	ts := op.Timestamp
	if ts.Zero() {
		ts = p.Clock.Now()
	}
	op.Timestamp = ts

	if err := p.applyAndPersist(ctx, op); err != nil {
		return sess.sendError(err)
	}

	p.appendJournal(op)
	p.broadcast(op, sess.ID)

	for _, hook := range p.OnAfterOp {
		hook(ctx, sess, op)
	}

	if op.WriteConcern != wire.ConcernLocal && p.WriteConcernTracker != nil {
		if err := p.WriteConcernTracker.AwaitAcks(ctx, op); err != nil {
			return sess.sendError(apperrors.Wrap(apperrors.CodeWriteTimeout, "write concern not satisfied", err))
		}
	}

	return sess.transport.Write(wire.Frame{Type: wire.TypeAck, Payload: wire.AckMsg{OpID: op.OpID}.Marshal()}, false)
}

func (p *Pipeline) applyAndPersist(ctx context.Context, op wire.ClientOpMsg) error {
	switch op.OpType {
	case wire.OpPut, wire.OpRemove:
		m, ok := p.Maps.LWWMap(op.MapName)
		if !ok {
			return apperrors.ErrMapNotFound
		}
		var rec crdt.LWWRecord
		if op.OpType == wire.OpPut {
			if err := m.Set(op.Key, op.Value, op.Timestamp, op.TTLMs); err != nil {
				return err
			}
			rec = crdt.LWWRecord{Value: op.Value, Timestamp: op.Timestamp, TTLMs: op.TTLMs}
		} else {
			if err := m.Remove(op.Key, op.Timestamp); err != nil {
				return err
			}
			rec = crdt.LWWRecord{Value: nil, Timestamp: op.Timestamp}
		}
		if p.Storage == nil {
			return nil
		}
		return p.Storage.Store(ctx, op.MapName, op.Key, storageadapter.Value{Kind: storageadapter.KindLWWRecord, LWW: &rec})

	case wire.OpOrAdd, wire.OpOrRemove:
		m, ok := p.Maps.ORSetMap(op.MapName)
		if !ok {
			return apperrors.ErrMapNotFound
		}
		if op.OpType == wire.OpOrAdd {
			if err := m.OrAdd(op.Key, op.Value, op.Timestamp, op.Tag); err != nil {
				return err
			}
		} else {
			if err := m.OrRemove(op.Key, op.Tag, op.Timestamp); err != nil {
				return err
			}
		}
		if p.Storage == nil {
			return nil
		}
		recs := m.GetRecordsMap(op.Key)
		recordsSlice := make([]crdt.ORRecord, 0, len(recs))
		for _, r := range recs {
			recordsSlice = append(recordsSlice, r)
		}
		return p.Storage.Store(ctx, op.MapName, op.Key, storageadapter.Value{Kind: storageadapter.KindORMapValue, ORRecords: recordsSlice})

	default:
		return apperrors.New(apperrors.CodeProtocolError, "unknown op type")
	}
}

func (p *Pipeline) appendJournal(op wire.ClientOpMsg) {
	if p.Journal == nil {
		return
	}
	var evtType journal.EventType
	switch op.OpType {
	case wire.OpPut, wire.OpOrAdd:
		evtType = journal.EventPut
	case wire.OpRemove, wire.OpOrRemove:
		evtType = journal.EventDelete
	}
	p.Journal.Append(journal.Event{
		Type:      evtType,
		MapName:   op.MapName,
		Key:       op.Key,
		Value:     op.Value,
		Timestamp: op.Timestamp,
		NodeID:    p.NodeID,
	})
}

func (p *Pipeline) broadcast(op wire.ClientOpMsg, excludeSessionID string) {
	if p.Broadcaster == nil {
		return
	}
	var et wire.ServerEventType
	switch op.OpType {
	case wire.OpPut:
		et = wire.EventPut
	case wire.OpRemove:
		et = wire.EventRemove
	case wire.OpOrAdd:
		et = wire.EventOrAdd
	case wire.OpOrRemove:
		et = wire.EventOrRemove
	}
	p.Broadcaster.Broadcast(op.MapName, wire.ServerEventMsg{
		MapName: op.MapName, EventType: et, Key: op.Key, Value: op.Value, Tag: op.Tag, Timestamp: op.Timestamp,
	}, excludeSessionID)
}

func fieldsTouched(op wire.ClientOpMsg) []string {
	// Whole-value writes touch no sub-field paths; field-level ACLs are
	// evaluated against the map/action pair only for these op types.
	return nil
}

// defaultAckTimeout bounds AwaitAcks when a caller's context carries no
// deadline.
const defaultAckTimeout = 5 * time.Second
