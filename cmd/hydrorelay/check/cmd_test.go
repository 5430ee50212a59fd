package check

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/log2"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		input     string
		expect    string
		expectErr string
	}{
		{"empty", ``, "listen :9502\n", ""},
		{"devices", `
port = 9000
metrics_listen = "127.0.0.1:9100"
devices "b" { forwarders = [{ type = "ubidots" token = "x" }] }
devices "a" { forwarders = [{ type = "generic-tcp" ip = "10.0.0.1" port = 9501 }, { type = "craftbeerpi3" ip = "10.0.0.2" }] }`,
			"listen :9000\nmetrics 127.0.0.1:9100\na/0:generic-tcp@10.0.0.1:9501\na/1:craftbeerpi3@10.0.0.2\nb/0:ubidots\n", ""},
		{"unsupported", `devices "a" { forwarders = [{ type = "fax" }] }`,
			"listen :9502\na/0:fax (unsupported)\n", "fax"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := config.ReadConfig(log, config.MapReader{"main": c.input}, "main")
			require.NoError(t, err)
			buf := bytes.NewBuffer(nil)
			err = Check(buf, log, cfg)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, c.expect, buf.String())
		})
	}
}
