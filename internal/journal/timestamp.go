package journal

import "github.com/maxiokv/dkvd/internal/clock"

func parseTimestamp(s string) (clock.Timestamp, error) {
	return clock.Parse(s)
}
