// Support sub-commands in hydrorelay application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/log2"
)

type Mod struct {
	Name  string
	Usage string
	// NoConfig modules run without reading config file
	NoConfig bool
	Main     func(ctx context.Context, config *config.Config, args []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

// Usage lists modules, sorted by name.
func Usage(modules []Mod) string {
	lines := make([]string, 0, len(modules))
	for _, m := range modules {
		lines = append(lines, fmt.Sprintf("  %-10s %s", m.Name, m.Usage))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// SdNotify returns true when running under systemd.
func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

type contextKey string

const logContextKey contextKey = "log"

func ContextWithLog(ctx context.Context, log *log2.Log) context.Context {
	return context.WithValue(ctx, logContextKey, log)
}

// GetLog returns logger from context, nil (discard) if absent.
func GetLog(ctx context.Context) *log2.Log {
	log, _ := ctx.Value(logContextKey).(*log2.Log)
	return log
}
