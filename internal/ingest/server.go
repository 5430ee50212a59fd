// Package ingest is the inbound side: TCP listener accepting one JSON
// reading per connection, message ends when peer closes (or half-closes)
// the connection.
package ingest

import (
	"expvar"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

const (
	ACK  byte = 0x06
	NACK byte = 0x15

	DefaultIdleTimeout = 60 * time.Second
)

const (
	ResultOK            = "ok"
	ResultInvalid       = "invalid"
	ResultUnknownDevice = "unknown-device"
	ResultRejected      = "rejected"
	ResultTooLarge      = "too-large"
	ResultReadError     = "read-error"
)

var ErrClosing = fmt.Errorf("closing")

// HandlerFunc receives every valid reading.
// errors.NotFound means reading has no destinations.
type HandlerFunc func(*reading.Reading) error

type Options struct {
	Log     *log2.Log
	Handler HandlerFunc
	Metrics *forward.Metrics

	ReadLimit   int
	IdleTimeout time.Duration
	// Reply ACK to accepted message, NACK otherwise.
	// Devices close connection right after sending, relays and test tools wait for reply.
	Reply bool
}

type Stat struct {
	Conn     expvar.Int
	Bytes    expvar.Int
	Accepted expvar.Int
	Rejected expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"conn":%d,"bytes":%d,"accepted":%d,"rejected":%d}`,
		s.Conn.Value(), s.Bytes.Value(), s.Accepted.Value(), s.Rejected.Value())
}

type Server struct {
	alive *alive.Alive
	conns struct {
		sync.Mutex
		m map[net.Conn]struct{}
	}
	listens struct {
		sync.Mutex
		m map[string]net.Listener
	}
	log  *log2.Log
	opt  Options
	stat Stat
	now  func() time.Time
}

func NewServer(opt Options) *Server {
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = config.DefaultReadLimit
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = DefaultIdleTimeout
	}
	s := &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
		now:   time.Now,
	}
	s.conns.m = make(map[net.Conn]struct{})
	s.listens.m = make(map[string]net.Listener)
	return s
}

func (s *Server) Stat() *Stat { return &s.stat }

func (s *Server) Addrs() []string {
	s.listens.Lock()
	defer s.listens.Unlock()
	addrs := make([]string, 0, len(s.listens.m))
	for _, l := range s.listens.m {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

// Listen starts accept loop on TCP address, e.g. ":9502".
func (s *Server) Listen(addr string) error {
	if !s.alive.Add(1) {
		return errors.Annotatef(ErrClosing, "listen %s", addr)
	}
	ll, err := net.Listen("tcp", addr)
	if err != nil {
		s.alive.Done()
		return errors.Annotatef(err, "listen %s", addr)
	}
	helpers.WithLock(&s.listens, func() { s.listens.m[ll.Addr().String()] = ll })
	s.log.Infof("listening on %s", ll.Addr().String())
	go s.acceptLoop(ll)
	return nil
}

// Close stops listeners and drops connections in progress.
func (s *Server) Close() error {
	s.alive.Stop()
	errs := make([]error, 0)
	helpers.WithLock(&s.listens, func() {
		for key, ll := range s.listens.m {
			if err := ll.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(s.listens.m, key)
		}
	})
	helpers.WithLock(&s.conns, func() {
		for conn := range s.conns.m {
			_ = conn.Close()
		}
	})
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

func (s *Server) acceptLoop(ll net.Listener) {
	defer s.alive.Done() // one alive subtask for each listener
	for {
		conn, err := ll.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				s.log.Errorf("accept listen=%s err=%v", ll.Addr().String(), err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			s.log.Error(errors.Annotatef(err, "accept listen=%s", ll.Addr().String()))
			return
		}

		if !s.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		helpers.WithLock(&s.conns, func() { s.conns.m[conn] = struct{}{} })
		go s.processConn(conn)
	}
}

func (s *Server) processConn(conn net.Conn) {
	defer s.alive.Done()
	defer func() {
		helpers.WithLock(&s.conns, func() { delete(s.conns.m, conn) })
		_ = conn.Close()
	}()
	s.stat.Conn.Add(1)
	addr := conn.RemoteAddr().String()
	s.log.Debugf("new connection from %s", addr)

	result := s.receive(conn, addr)
	s.opt.Metrics.Ingest(result)
	if result == ResultOK {
		s.stat.Accepted.Add(1)
	} else {
		s.stat.Rejected.Add(1)
	}
	if s.opt.Reply && result != ResultReadError {
		reply := NACK
		if result == ResultOK {
			reply = ACK
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.opt.IdleTimeout))
		if err := helpers.WriteAll(conn, []byte{reply}); err != nil {
			s.log.Debugf("reply addr=%s err=%v", addr, err)
		}
	}
}

func (s *Server) receive(conn net.Conn, addr string) string {
	limit := s.opt.ReadLimit
	r := io.LimitReader(deadlineReader{conn, s.opt.IdleTimeout}, int64(limit)+1)
	b, err := ioutil.ReadAll(helpers.NewStatReader(r, &s.stat.Bytes, 0))
	if err != nil {
		s.log.Errorf("read addr=%s err=%v", addr, err)
		return ResultReadError
	}
	if len(b) > limit {
		s.log.Errorf("message from %s exceeds limit=%d, dropped", addr, limit)
		// unread input makes close send RST before the reply
		_, _ = io.Copy(ioutil.Discard, io.LimitReader(deadlineReader{conn, s.opt.IdleTimeout}, int64(limit)*16))
		return ResultTooLarge
	}

	rd, err := reading.Decode(b, s.now())
	if err != nil {
		s.log.Errorf("from %s: %v", addr, err)
		return ResultInvalid
	}
	if err = rd.TimestampError(); err != nil {
		s.log.Errorf("from %s: %v, using receipt time", addr, err)
	}
	s.log.Infof("got data from %s %s", addr, b)
	if s.opt.Handler == nil {
		return ResultOK
	}
	switch err = s.opt.Handler(rd); {
	case err == nil:
		return ResultOK
	case errors.IsNotFound(err):
		return ResultUnknownDevice
	default:
		s.log.Errorf("from %s: %v", addr, err)
		return ResultRejected
	}
}

// deadlineReader extends read deadline before every read.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (d deadlineReader) Read(p []byte) (int, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.conn.Read(p)
}
