// Raw TCP sink for testing generic-tcp destinations:
// logs every received reading and answers ACK, or NACK in -nack mode.
package testsink

import (
	"context"
	"flag"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/subcmd"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/ingest"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

const DefaultPort = 9501

var Mod = subcmd.Mod{
	Name:     "testsink",
	Usage:    "[-listen addr] [-nack], receive readings like generic-tcp destination",
	NoConfig: true,
	Main:     Main,
}

func Main(ctx context.Context, _ *config.Config, args []string) error {
	fs := flag.NewFlagSet("testsink", flag.ContinueOnError)
	listen := fs.String("listen", fmt.Sprintf(":%d", DefaultPort), "listen address")
	nack := fs.Bool("nack", false, "reject every reading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := Start(subcmd.GetLog(ctx), *listen, *nack)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

func Start(log *log2.Log, listen string, nack bool) (*ingest.Server, error) {
	s := ingest.NewServer(ingest.Options{
		Log:   log,
		Reply: true,
		Handler: func(r *reading.Reading) error {
			b, _ := r.MarshalJSON()
			log.Infof("got data %s", b)
			if nack {
				return errors.Errorf("nack mode")
			}
			return nil
		},
	})
	if err := s.Listen(listen); err != nil {
		return nil, err
	}
	log.Infof("testsink listening on %v nack=%t", s.Addrs(), nack)
	return s, nil
}
