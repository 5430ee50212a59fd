// Validate config and print resolved device map.
package check

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/temoto/hydrorelay/cmd/hydrorelay/subcmd"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/sink"
	"github.com/temoto/hydrorelay/log2"
)

var Mod = subcmd.Mod{Name: "check", Usage: "validate config, print devices and destinations", Main: Main}

func Main(ctx context.Context, config *config.Config, args []string) error {
	return Check(os.Stdout, subcmd.GetLog(ctx), config)
}

func Check(w io.Writer, log *log2.Log, c *config.Config) error {
	e := forward.NewEngine(forward.Options{Log: log, RetryDelay: c.RetryDelay()})
	defer e.Stop()
	closeSinks := sink.Register(e, sink.Options{Log: log})
	defer closeSinks()
	err := e.Load(c)

	fmt.Fprintf(w, "listen %s\n", c.ListenAddr())
	if c.MetricsListen != "" {
		fmt.Fprintf(w, "metrics %s\n", c.MetricsListen)
	}
	for _, d := range e.AllDestinations() {
		mark := ""
		if e.Sink(d.Config.Type) == nil {
			mark = " (unsupported)"
		}
		fmt.Fprintf(w, "%s%s\n", d.String(), mark)
	}
	return err
}
