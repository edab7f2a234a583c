// Package logging provides rate-limited logging on top of logrus, so a
// hostile or malfunctioning client can't flood the logs: repeated messages
// under the same key are throttled and replaced with a periodic suppression
// summary.
package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limiter throttles log calls sharing a key to at most one per window, with
// a suppression count emitted when the window rolls over.
type Limiter struct {
	log    *logrus.Entry
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*windowState
}

type windowState struct {
	start      time.Time
	suppressed int
}

// NewLimiter constructs a Limiter that logs through base at most once per
// window for each distinct key.
func NewLimiter(base *logrus.Entry, window time.Duration) *Limiter {
	return &Limiter{
		log:     base,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*windowState),
	}
}

// Warnf logs at Warn level for key, throttled to once per window. Calls
// within the same window increment a suppression counter that is flushed
// as a summary line the next time the window rolls over.
func (l *Limiter) Warnf(key, format string, args ...any) {
	l.emit(logrus.WarnLevel, key, format, args...)
}

// Errorf logs at Error level for key, throttled to once per window.
func (l *Limiter) Errorf(key, format string, args ...any) {
	l.emit(logrus.ErrorLevel, key, format, args...)
}

func (l *Limiter) emit(level logrus.Level, key, format string, args ...any) {
	l.mu.Lock()
	now := l.now()
	st, ok := l.windows[key]
	if !ok || now.Sub(st.start) >= l.window {
		if ok && st.suppressed > 0 {
			l.log.WithField("key", key).WithField("suppressed", st.suppressed).Log(level, "previous messages suppressed")
		}
		st = &windowState{start: now}
		l.windows[key] = st
		l.mu.Unlock()
		l.log.WithField("key", key).Logf(level, format, args...)
		return
	}
	st.suppressed++
	l.mu.Unlock()
}
