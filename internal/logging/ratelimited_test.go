package logging

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestLimiterEmitsFirstMessageImmediately(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := NewLimiter(logrus.NewEntry(base), time.Minute)

	l.Warnf("client-1", "bad frame from %s", "client-1")
	assert.Len(t, hook.Entries, 1)
}

func TestLimiterSuppressesWithinWindow(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := NewLimiter(logrus.NewEntry(base), time.Minute)

	for i := 0; i < 5; i++ {
		l.Warnf("client-1", "bad frame")
	}
	assert.Len(t, hook.Entries, 1)
}

func TestLimiterFlushesSuppressionSummaryOnNextWindow(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := NewLimiter(logrus.NewEntry(base), 10*time.Millisecond)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	l.Warnf("client-1", "bad frame")
	l.Warnf("client-1", "bad frame")
	l.Warnf("client-1", "bad frame")
	assert.Len(t, hook.Entries, 1)

	fixed = fixed.Add(20 * time.Millisecond)
	l.Warnf("client-1", "bad frame")
	assert.Len(t, hook.Entries, 3) // first message, suppression summary, new message
}

func TestLimiterTracksKeysIndependently(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := NewLimiter(logrus.NewEntry(base), time.Minute)

	l.Warnf("client-1", "bad frame")
	l.Warnf("client-2", "bad frame")
	assert.Len(t, hook.Entries, 2)
}
