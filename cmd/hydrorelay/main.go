package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/check"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/run"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/send"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/subcmd"
	"github.com/temoto/hydrorelay/cmd/hydrorelay/testsink"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/log2"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	run.Mod,
	check.Mod,
	send.Mod,
	testsink.Mod,
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [command [args]]\n\ncommands:\n%s\n\nflags:\n",
			os.Args[0], subcmd.Usage(modules))
		flag.PrintDefaults()
	}
	flagConfig := flag.String("config", "hydrorelay.hcl", "config file, HCL or JSON")
	flagDebug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if subcmd.SdNotify(log, "STATUS=starting") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}

	command := flag.Arg(0)
	args := []string{}
	if flag.NArg() > 1 {
		args = flag.Args()[1:]
	}
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	var c *config.Config
	if !mod.NoConfig {
		if c, err = config.ReadFile(log, *flagConfig); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if c.LogDebug {
			log.SetLevel(log2.LDebug)
		}
		log.Debugf("config %s", c.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = subcmd.ContextWithLog(ctx, log)
	if err := mod.Main(ctx, c, args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
