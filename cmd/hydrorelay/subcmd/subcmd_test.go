package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/log2"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *config.Config, []string) error { return nil }
	mods := []Mod{
		{Name: "run", Usage: "serve", Main: noop},
		{Name: "check", Usage: "validate config", Main: noop},
	}

	cases := []struct {
		command   string
		expect    string
		expectErr string
	}{
		{"run", "run", ""},
		{"check", "check", ""},
		{"", "", "empty command"},
		{"serve", "", "unknown command='serve'"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.command, func(t *testing.T) {
			m, err := Parse(c.command, mods)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Name)
		})
	}

	assert.Equal(t, "  check      validate config\n  run        serve", Usage(mods))
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}

func TestContextLog(t *testing.T) {
	t.Parallel()
	assert.Nil(t, GetLog(context.Background()))
	log := log2.NewTest(t, log2.LDebug)
	assert.Equal(t, log, GetLog(ContextWithLog(context.Background(), log)))
}
