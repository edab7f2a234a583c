package wire

import (
	"github.com/maxiokv/dkvd/internal/clock"
)

// OpType enumerates CLIENT_OP/CLUSTER_OP operation kinds.
type OpType uint8

const (
	OpPut OpType = iota + 1
	OpRemove
	OpOrAdd
	OpOrRemove
)

// WriteConcern is the durability level requested for a ClientOp.
type WriteConcern uint8

const (
	ConcernLocal WriteConcern = iota
	ConcernQuorum
	ConcernAll
)

func putTimestamp(e *encoder, ts clock.Timestamp) {
	e.putUint64(ts.Physical)
	e.putUint32(ts.Counter)
	e.putString(ts.NodeID)
}

func getTimestamp(d *decoder) (clock.Timestamp, error) {
	p, err := d.getUint64()
	if err != nil {
		return clock.Timestamp{}, err
	}
	c, err := d.getUint32()
	if err != nil {
		return clock.Timestamp{}, err
	}
	n, err := d.getString()
	if err != nil {
		return clock.Timestamp{}, err
	}
	return clock.Timestamp{Physical: p, Counter: c, NodeID: n}, nil
}

// AuthMsg is the AUTH{token} client hello.
type AuthMsg struct {
	Token string
}

func (m AuthMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.Token)
	return e.bytes()
}

func UnmarshalAuth(b []byte) (AuthMsg, error) {
	d := newDecoder(b)
	tok, err := d.getString()
	if err != nil {
		return AuthMsg{}, err
	}
	return AuthMsg{Token: tok}, d.done()
}

// AuthOKMsg acknowledges a successful AUTH.
type AuthOKMsg struct {
	UserID string
	Roles  []string
}

func (m AuthOKMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.UserID)
	e.putUint32(uint32(len(m.Roles)))
	for _, r := range m.Roles {
		e.putString(r)
	}
	return e.bytes()
}

func UnmarshalAuthOK(b []byte) (AuthOKMsg, error) {
	d := newDecoder(b)
	uid, err := d.getString()
	if err != nil {
		return AuthOKMsg{}, err
	}
	n, err := d.getUint32()
	if err != nil {
		return AuthOKMsg{}, err
	}
	roles := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		r, err := d.getString()
		if err != nil {
			return AuthOKMsg{}, err
		}
		roles = append(roles, r)
	}
	return AuthOKMsg{UserID: uid, Roles: roles}, d.done()
}

// ErrorMsg is the generic ERROR frame.
type ErrorMsg struct {
	Code    int
	Message string
}

func (m ErrorMsg) Marshal() []byte {
	e := newEncoder()
	e.putUint32(uint32(m.Code))
	e.putString(m.Message)
	return e.bytes()
}

func UnmarshalError(b []byte) (ErrorMsg, error) {
	d := newDecoder(b)
	code, err := d.getUint32()
	if err != nil {
		return ErrorMsg{}, err
	}
	msg, err := d.getString()
	if err != nil {
		return ErrorMsg{}, err
	}
	return ErrorMsg{Code: int(code), Message: msg}, d.done()
}

// ClientOpMsg is CLIENT_OP / the body shared with CLUSTER_OP.
type ClientOpMsg struct {
	OpID         string
	MapName      string
	Key          string
	OpType       OpType
	Value        []byte // PUT/OR_ADD value, nil for REMOVE
	TTLMs        uint32 // 0 = no TTL
	Tag          string // OR_ADD/OR_REMOVE tag
	Timestamp    clock.Timestamp
	WriteConcern WriteConcern
	OriginNodeID string // set on CLUSTER_OP forwards; empty on direct client ops
}

func (m ClientOpMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.OpID)
	e.putString(m.MapName)
	e.putString(m.Key)
	e.putUint8(uint8(m.OpType))
	e.putBytes(m.Value)
	e.putUint32(m.TTLMs)
	e.putString(m.Tag)
	putTimestamp(e, m.Timestamp)
	e.putUint8(uint8(m.WriteConcern))
	e.putString(m.OriginNodeID)
	return e.bytes()
}

func UnmarshalClientOp(b []byte) (ClientOpMsg, error) {
	d := newDecoder(b)
	var m ClientOpMsg
	var err error
	if m.OpID, err = d.getString(); err != nil {
		return m, err
	}
	if m.MapName, err = d.getString(); err != nil {
		return m, err
	}
	if m.Key, err = d.getString(); err != nil {
		return m, err
	}
	ot, err := d.getUint8()
	if err != nil {
		return m, err
	}
	m.OpType = OpType(ot)
	if m.Value, err = d.getBytes(); err != nil {
		return m, err
	}
	if m.TTLMs, err = d.getUint32(); err != nil {
		return m, err
	}
	if m.Tag, err = d.getString(); err != nil {
		return m, err
	}
	if m.Timestamp, err = getTimestamp(d); err != nil {
		return m, err
	}
	wc, err := d.getUint8()
	if err != nil {
		return m, err
	}
	m.WriteConcern = WriteConcern(wc)
	if m.OriginNodeID, err = d.getString(); err != nil {
		return m, err
	}
	return m, d.done()
}

// AckMsg acknowledges a ClientOp.
type AckMsg struct {
	OpID string
}

func (m AckMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.OpID)
	return e.bytes()
}

func UnmarshalAck(b []byte) (AckMsg, error) {
	d := newDecoder(b)
	id, err := d.getString()
	if err != nil {
		return AckMsg{}, err
	}
	return AckMsg{OpID: id}, d.done()
}

// MergeRejectionMsg reports a conflict-resolver rejection.
type MergeRejectionMsg struct {
	MapName        string
	Key            string
	Reason         string
	AttemptedValue []byte
}

func (m MergeRejectionMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	e.putString(m.Key)
	e.putString(m.Reason)
	e.putBytes(m.AttemptedValue)
	return e.bytes()
}

func UnmarshalMergeRejection(b []byte) (MergeRejectionMsg, error) {
	d := newDecoder(b)
	var m MergeRejectionMsg
	var err error
	if m.MapName, err = d.getString(); err != nil {
		return m, err
	}
	if m.Key, err = d.getString(); err != nil {
		return m, err
	}
	if m.Reason, err = d.getString(); err != nil {
		return m, err
	}
	if m.AttemptedValue, err = d.getBytes(); err != nil {
		return m, err
	}
	return m, d.done()
}

// ServerEventType distinguishes broadcast event kinds.
type ServerEventType uint8

const (
	EventPut ServerEventType = iota + 1
	EventRemove
	EventOrAdd
	EventOrRemove
)

// ServerEventMsg is the SERVER_EVENT broadcast to map subscribers.
type ServerEventMsg struct {
	MapName   string
	EventType ServerEventType
	Key       string
	Value     []byte
	Tag       string
	Timestamp clock.Timestamp
}

func (m ServerEventMsg) Marshal() []byte {
	e := newEncoder()
	e.putString(m.MapName)
	e.putUint8(uint8(m.EventType))
	e.putString(m.Key)
	e.putBytes(m.Value)
	e.putString(m.Tag)
	putTimestamp(e, m.Timestamp)
	return e.bytes()
}

func UnmarshalServerEvent(b []byte) (ServerEventMsg, error) {
	d := newDecoder(b)
	var m ServerEventMsg
	var err error
	if m.MapName, err = d.getString(); err != nil {
		return m, err
	}
	et, err := d.getUint8()
	if err != nil {
		return m, err
	}
	m.EventType = ServerEventType(et)
	if m.Key, err = d.getString(); err != nil {
		return m, err
	}
	if m.Value, err = d.getBytes(); err != nil {
		return m, err
	}
	if m.Tag, err = d.getString(); err != nil {
		return m, err
	}
	if m.Timestamp, err = getTimestamp(d); err != nil {
		return m, err
	}
	return m, d.done()
}

// HeartbeatMsg carries a sender timestamp, echoed by HeartbeatAckMsg.
type HeartbeatMsg struct {
	SentAtMillis uint64
}

func (m HeartbeatMsg) Marshal() []byte {
	e := newEncoder()
	e.putUint64(m.SentAtMillis)
	return e.bytes()
}

func UnmarshalHeartbeat(b []byte) (HeartbeatMsg, error) {
	d := newDecoder(b)
	v, err := d.getUint64()
	if err != nil {
		return HeartbeatMsg{}, err
	}
	return HeartbeatMsg{SentAtMillis: v}, d.done()
}
