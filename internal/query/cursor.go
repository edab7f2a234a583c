package query

import (
	"encoding/base64"
	"encoding/json"
)

// Direction controls cursor iteration order.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionBackward Direction = "backward"
)

// Cursor is the opaque pagination token: the predicate signature it was
// issued for, the last row's sort key and primary key, and the direction.
type Cursor struct {
	PredicateHash  string
	LastSortValues []any
	LastKey        string
	Direction      Direction
}

// Encode renders the cursor as an opaque base64 token.
func (c Cursor) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// DecodeCursor parses a token produced by Cursor.Encode. If the token's
// predicate hash does not match expectedHash, ok is false and the caller
// should restart iteration from the beginning rather than error out.
func DecodeCursor(token, expectedHash string) (c Cursor, ok bool) {
	if token == "" {
		return Cursor{}, false
	}
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, false
	}
	if c.PredicateHash != expectedHash {
		return Cursor{}, false
	}
	return c, true
}
