package server

import (
	"context"

	"github.com/maxiokv/dkvd/internal/metrics"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/wire"
)

// opsCounterInterceptor returns a session.Interceptor that counts every op
// admitted into the pipeline, registered on Pipeline.Interceptors so it runs
// before authorization/conflict resolution and counts attempts regardless of
// whether they are ultimately accepted.
func opsCounterInterceptor(m *metrics.Metrics) session.Interceptor {
	return func(ctx context.Context, sess *session.Session, op wire.ClientOpMsg) {
		m.RecordOp(opTypeName(op.OpType))
	}
}

func opTypeName(t wire.OpType) string {
	switch t {
	case wire.OpPut:
		return "PUT"
	case wire.OpRemove:
		return "REMOVE"
	case wire.OpOrAdd:
		return "OR_ADD"
	case wire.OpOrRemove:
		return "OR_REMOVE"
	default:
		return "UNKNOWN"
	}
}
