// Send one reading to relay, for manual testing.
package send

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/subcmd"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/ingest"
	"github.com/temoto/hydrorelay/internal/reading"
)

var Mod = subcmd.Mod{
	Name:     "send",
	Usage:    "[-addr host:port] [-reply] [json], send one reading, stdin if no json argument",
	NoConfig: true,
	Main:     Main,
}

func Main(ctx context.Context, _ *config.Config, args []string) error {
	log := subcmd.GetLog(ctx)
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	addr := fs.String("addr", fmt.Sprintf("127.0.0.1:%d", config.DefaultPort), "relay address")
	wantReply := fs.Bool("reply", false, "wait for ACK/NACK")
	timeout := fs.Duration("timeout", config.DefaultNetworkTimeout, "network timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var msg []byte
	if fs.NArg() > 0 {
		msg = []byte(strings.Join(fs.Args(), " "))
	} else {
		var err error
		if msg, err = ioutil.ReadAll(os.Stdin); err != nil {
			return errors.Annotate(err, "stdin")
		}
	}
	if _, err := reading.Decode(msg, time.Now()); err != nil {
		return err
	}

	reply, err := Send(ctx, *addr, msg, *wantReply, *timeout)
	if err != nil {
		return err
	}
	switch {
	case !*wantReply:
		log.Infof("sent %d bytes to %s", len(msg), *addr)
	case reply == ingest.ACK:
		log.Infof("received ACK")
	case reply == ingest.NACK:
		return errors.Errorf("received NACK")
	default:
		return errors.Errorf("unexpected reply=%#02x", reply)
	}
	return nil
}

// Send writes message and closes write side.
// With wantReply, waits for single byte answer.
func Send(ctx context.Context, addr string, msg []byte, wantReply bool, timeout time.Duration) (byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, errors.Annotatef(err, "dial %s", addr)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if err = helpers.WriteAll(conn, msg); err != nil {
		return 0, errors.Annotatef(err, "write %s", addr)
	}
	if !wantReply {
		return 0, nil
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	var reply [1]byte
	if _, err = io.ReadFull(conn, reply[:]); err != nil {
		return 0, errors.Annotatef(err, "read reply %s", addr)
	}
	return reply[0], nil
}
