package sink

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/ingest"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

// GenericTCP writes reading JSON to raw TCP socket and waits for single byte reply,
// same protocol as ingest.Server with Reply option.
// Reply must be exactly one byte: ACK -> success, NACK or anything else -> drop.
// Silence, timeout or network error -> retry later.
// Peer closing connection without reply counts as success.
type GenericTCP struct {
	log     *log2.Log
	timeout time.Duration
}

func NewGenericTCP(opt Options) *GenericTCP {
	opt.defaults()
	return &GenericTCP{
		log:     opt.Log.Tagged(config.TypeGenericTCP),
		timeout: opt.NetworkTimeout,
	}
}

func (s *GenericTCP) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done forward.CompleteFunc) {
	if d.IP == "" {
		s.log.Errorf("config error: missing ip field")
		done(forward.Error)
		return
	}
	if d.Port == 0 {
		s.log.Errorf("config error: missing port field")
		done(forward.Error)
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		s.log.Error(errors.Annotate(err, "json"))
		done(forward.Error)
		return
	}

	s.log.Infof("forwarding to generic TCP server %s", d.Addr())
	go func() { done(s.exchange(ctx, d.Addr(), b)) }()
}

func (s *GenericTCP) exchange(ctx context.Context, addr string, b []byte) forward.Outcome {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.log.Errorf("error connecting to %s: %v", addr, err)
		return forward.Buffer
	}
	defer conn.Close()

	// idle timeout, extended on every successful IO
	_ = conn.SetDeadline(time.Now().Add(s.timeout))
	if err = helpers.WriteAll(conn, b); err != nil {
		s.log.Errorf("write %s: %v", addr, err)
		return forward.Buffer
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// end of message for peers that read until EOF
		_ = tc.CloseWrite()
	}
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	// reply is valid only as single byte chunk
	var buf [16]byte
	n, err := conn.Read(buf[:])
	reply := buf[:n]
	switch {
	case n == 1 && reply[0] == ingest.ACK:
		s.log.Infof("received ACK")
		return forward.Success
	case n == 1 && reply[0] == ingest.NACK:
		s.log.Errorf("received NACK, dropping data")
		return forward.Error
	case n > 0:
		s.log.Errorf("invalid reply received from generic TCP server: % x", reply)
		return forward.Error
	case err == io.EOF:
		s.log.Infof("socket closed")
		return forward.Success
	case isTimeout(err):
		s.log.Errorf("timeout waiting for reply")
		return forward.Buffer
	default:
		s.log.Errorf("read %s: %v", addr, err)
		return forward.Buffer
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
