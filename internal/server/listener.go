package server

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/coalesce"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/wire"
)

// connTransport adapts a net.Conn to coalesce.FlushFunc, writing a batch as
// consecutive frames on one syscall-minimizing burst.
type connTransport struct {
	conn net.Conn
}

func (t connTransport) flush(frames []wire.Frame) error {
	for _, f := range frames {
		if err := wire.Encode(t.conn, f); err != nil {
			return err
		}
	}
	return nil
}

// acceptLoop accepts client connections on s.clientListener until ctx is
// cancelled or the listener is closed by shutdown, admitting each through
// the connection rate limiter before spinning up its session.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.clientListener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.WithError(err).Warn("accept failed")
			return
		}

		if !s.connRate.ShouldAccept() {
			s.log.WithField("remote_addr", conn.RemoteAddr().String()).Warn("rejecting connection: rate limit exceeded")
			_ = conn.Close()
			continue
		}

		go s.serveConn(ctx, conn)
	}
}

// serveConn drives one accepted connection until it closes or ctx is done.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	defer conn.Close()

	ct := connTransport{conn: conn}
	writer := coalesce.New(coalesce.LimitsForPreset(coalesce.PresetBalanced), ct.flush)
	defer writer.Close()

	sess := session.New(remoteAddr, writer, s.auth, s.pipeline, logrus.StandardLogger())
	s.hub.add(sess)
	s.connRate.Established()
	defer s.hub.remove(sess.ID)
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := wire.Decode(conn)
		if err != nil {
			return
		}
		if err := sess.HandleFrame(ctx, frame); err != nil {
			return
		}
	}
}
