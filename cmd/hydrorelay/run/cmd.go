// Main mode of operation: receive readings and forward them until signal.
package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/subcmd"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/relay"
)

var Mod = subcmd.Mod{Name: "run", Usage: "receive and forward readings (default)", Main: Main}

func Main(ctx context.Context, config *config.Config, args []string) error {
	log := subcmd.GetLog(ctx)
	r, err := relay.New(relay.Options{Log: log, Config: config})
	if err != nil {
		return err
	}
	if err = r.Start(); err != nil {
		return errors.Annotate(err, "start")
	}
	subcmd.SdNotify(log, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
		log.Infof("stopping")
	case <-r.StopChan():
	}
	subcmd.SdNotify(log, daemon.SdNotifyStopping)
	r.Stop()
	r.Wait()
	return nil
}
