// Package clock implements a hybrid logical clock: monotonically increasing,
// total-ordered timestamps that merge with remote timestamps while staying
// close to wall-clock time.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxiokv/dkvd/internal/apperrors"
)

// Timestamp is the HLC value: {physicalMillis, counter, nodeId} with total
// order physical, then counter, then nodeId (lexicographic).
type Timestamp struct {
	Physical uint64
	Counter  uint32
	NodeID   string
}

// Compare returns -1, 0, or 1 ordering first by physical time, then counter,
// then nodeId.
func (t Timestamp) Compare(o Timestamp) int {
	if t.Physical != o.Physical {
		if t.Physical < o.Physical {
			return -1
		}
		return 1
	}
	if t.Counter != o.Counter {
		if t.Counter < o.Counter {
			return -1
		}
		return 1
	}
	if t.NodeID == o.NodeID {
		return 0
	}
	if t.NodeID < o.NodeID {
		return -1
	}
	return 1
}

// Less reports whether t happened-before o in HLC order.
func (t Timestamp) Less(o Timestamp) bool { return t.Compare(o) < 0 }

// Zero reports whether this is the unset timestamp.
func (t Timestamp) Zero() bool { return t.Physical == 0 && t.Counter == 0 && t.NodeID == "" }

// String renders the wire string form "physical:counter:nodeId".
func (t Timestamp) String() string {
	return fmt.Sprintf("%d:%d:%s", t.Physical, t.Counter, t.NodeID)
}

// Parse is the inverse of String. It returns apperrors.CodeProtocolError-coded
// errors on malformed input so pipeline callers can translate consistently.
func Parse(s string) (Timestamp, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Timestamp{}, apperrors.New(apperrors.CodeProtocolError, "malformed timestamp: "+s)
	}
	p, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, apperrors.Wrap(apperrors.CodeProtocolError, "malformed timestamp physical", err)
	}
	c, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Timestamp{}, apperrors.Wrap(apperrors.CodeProtocolError, "malformed timestamp counter", err)
	}
	return Timestamp{Physical: p, Counter: uint32(c), NodeID: parts[2]}, nil
}

// ValidateNodeID rejects node IDs containing the wire delimiter, per the
// invariant that node IDs must not contain the wire field delimiter.
func ValidateNodeID(nodeID string) error {
	if strings.Contains(nodeID, ":") {
		return apperrors.New(apperrors.CodeProtocolError, "nodeId must not contain ':'")
	}
	return nil
}

// DriftMode controls behavior when a remote timestamp's physical component
// outruns the local wall clock by more than MaxDrift.
type DriftMode int

const (
	// DriftLenient logs and accepts timestamps beyond MaxDrift.
	DriftLenient DriftMode = iota
	// DriftStrict fails update() with ClockSkew when MaxDrift is exceeded.
	DriftStrict
)

// WallClock abstracts time.Now for deterministic tests.
type WallClock func() time.Time

// DriftLogger receives a notice when a remote timestamp exceeds MaxDrift and
// is being accepted anyway (lenient mode). Kept minimal so callers can plug
// in the rate-limited logger (internal/logging) without an import cycle.
type DriftLogger func(remote Timestamp, aheadBy time.Duration)

// Clock is a single node's hybrid logical clock. Safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	nodeID   string
	physical uint64
	counter  uint32

	wall      WallClock
	mode      DriftMode
	maxDrift  time.Duration
	onDrift   DriftLogger
}

// Option configures a Clock at construction.
type Option func(*Clock)

// WithWallClock overrides the wall-clock source (tests).
func WithWallClock(w WallClock) Option { return func(c *Clock) { c.wall = w } }

// WithDriftMode sets strict vs lenient drift handling.
func WithDriftMode(m DriftMode) Option { return func(c *Clock) { c.mode = m } }

// WithMaxDrift sets the allowed remote-ahead-of-wall-clock window.
func WithMaxDrift(d time.Duration) Option { return func(c *Clock) { c.maxDrift = d } }

// WithDriftLogger installs a callback invoked when a drifted remote
// timestamp is accepted under DriftLenient.
func WithDriftLogger(fn DriftLogger) Option { return func(c *Clock) { c.onDrift = fn } }

// New constructs a Clock for nodeID. nodeID must not contain ':'.
func New(nodeID string, opts ...Option) (*Clock, error) {
	if err := ValidateNodeID(nodeID); err != nil {
		return nil, err
	}
	c := &Clock{
		nodeID:   nodeID,
		wall:     time.Now,
		mode:     DriftLenient,
		maxDrift: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func millis(t time.Time) uint64 { return uint64(t.UnixMilli()) }

// Now produces the next locally-issued timestamp; guaranteed strictly
// greater than every previous output of Now/Update on this Clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallNow := millis(c.wall())
	p := c.physical
	if wallNow > p {
		p = wallNow
	}
	if p == c.physical {
		c.counter++
	} else {
		c.physical = p
		c.counter = 0
	}
	return Timestamp{Physical: c.physical, Counter: c.counter, NodeID: c.nodeID}
}

// Update merges a remote timestamp into the local clock state and returns the
// resulting local timestamp, choosing the max of local physical, remote
// physical, and wall-clock time, then bumping the counter when physical time
// does not advance.
func (c *Clock) Update(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallNow := millis(c.wall())
	if c.maxDrift > 0 && remote.Physical > wallNow {
		ahead := time.Duration(remote.Physical-wallNow) * time.Millisecond
		if ahead > c.maxDrift {
			if c.mode == DriftStrict {
				return Timestamp{}, apperrors.New(apperrors.CodeClockSkew,
					fmt.Sprintf("remote clock %s ahead of wall clock by %s exceeds max drift %s", remote.NodeID, ahead, c.maxDrift))
			}
			if c.onDrift != nil {
				c.onDrift(remote, ahead)
			}
		}
	}

	p := c.physical
	if remote.Physical > p {
		p = remote.Physical
	}
	if wallNow > p {
		p = wallNow
	}

	switch {
	case p == c.physical && p == remote.Physical:
		if remote.Counter > c.counter {
			c.counter = remote.Counter
		}
		c.counter++
	case p == c.physical:
		c.counter++
	case p == remote.Physical:
		c.counter = remote.Counter + 1
	default:
		c.counter = 0
	}
	c.physical = p

	return Timestamp{Physical: c.physical, Counter: c.counter, NodeID: c.nodeID}, nil
}
