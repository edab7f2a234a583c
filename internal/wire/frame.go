// Package wire implements the length-prefixed binary frame protocol:
// every frame is `u32 length | u8 type | payload`, where the
// payload is the canonical encoding of a typed record.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/maxiokv/dkvd/internal/apperrors"
)

// Type enumerates the wire message kinds.
type Type uint8

const (
	TypeAuth Type = iota + 1
	TypeAuthOK
	TypeError
	TypeClientOp
	TypeAck
	TypeMergeRejection
	TypeQuerySub
	TypeQueryUnsub
	TypeQueryPage
	TypeServerEvent
	TypeSyncInit
	TypeSyncRespRoot
	TypeSyncResetRequired
	TypeSyncReqBucket
	TypeSyncRespBuckets
	TypeSyncRespLeaf
	TypeSyncPushDiff
	TypeSyncDiffRequest
	TypeSyncDiffResponse
	TypeHeartbeat
	TypeHeartbeatAck
	TypeClusterOp
	TypeMemberJoin
	TypeMemberLeave
	TypePartitionMapAnnounce
)

// MaxFrameLength bounds a single frame's payload to guard against a hostile
// or malformed peer claiming an unbounded length (ProtocolError).
const MaxFrameLength = 64 << 20 // 64 MiB

// Frame is a decoded wire message: a type tag plus its raw payload bytes.
// Higher layers (internal/session, internal/antientropy) decode Payload into
// the concrete typed record for Type.
type Frame struct {
	Type    Type
	Payload []byte
}

// Encode writes length-prefixed bytes for f to w.
func Encode(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameLength {
		return apperrors.New(apperrors.CodeProtocolError, fmt.Sprintf("payload too large: %d bytes", len(f.Payload)))
	}
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(f.Payload)+1))
	header[4] = byte(f.Type)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// Decode reads one frame from r, blocking until it is fully available.
func Decode(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, apperrors.New(apperrors.CodeProtocolError, "zero-length frame")
	}
	if n > MaxFrameLength {
		return Frame{}, apperrors.New(apperrors.CodeProtocolError, fmt.Sprintf("frame too large: %d bytes", n))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Type: Type(body[0]), Payload: body[1:]}, nil
}

// EncodeToBytes is a convenience for tests and in-process transport fakes.
func EncodeToBytes(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
