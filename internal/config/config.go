// Package config reads relay configuration: listener parameters and the
// static map of devices to their forwarding destinations.
// HCL v1 also accepts JSON, so both `relay.hcl` and `config.json` work.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/log2"
)

const (
	DefaultPort           = 9502
	DefaultRetryDelay     = 3 * time.Second
	DefaultNetworkTimeout = 5 * time.Second
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultReadLimit      = 64 << 10
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Port              int    `hcl:"port"`
	Listen            string `hcl:"listen"`
	MetricsListen     string `hcl:"metrics_listen"`
	LogDebug          bool   `hcl:"log_debug"`
	RetryDelayMs      int    `hcl:"retry_delay_ms"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	HTTPTimeoutSec    int    `hcl:"http_timeout_sec"`
	ReadLimit         int    `hcl:"read_limit"`
	// answer ACK/NACK to inbound messages, for chained relays
	IngestReply bool `hcl:"ingest_reply"`

	// raw forwarder parameters collected from all sources, use Devices()
	deviceParams map[string][]map[string]interface{}
	devices      map[string][]Destination
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) ListenAddr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Listen, strconv.Itoa(port))
}

func (c *Config) RetryDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.RetryDelayMs, DefaultRetryDelay)
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout)
}

func (c *Config) HTTPTimeout() time.Duration {
	return helpers.IntSecondDefault(c.HTTPTimeoutSec, DefaultHTTPTimeout)
}

func (c *Config) ReadLimitBytes() int {
	if c.ReadLimit <= 0 {
		return DefaultReadLimit
	}
	return c.ReadLimit
}

// Devices maps device name to its destinations, in configured order.
func (c *Config) Devices() map[string][]Destination { return c.devices }

// DeviceNames returns sorted device names, for stable output.
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	file, err := hcl.ParseBytes(bs)
	if err != nil {
		err = errors.Annotatef(err, "config parse source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}
	if err = hcl.DecodeObject(c, file); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}
	if err = c.readDevices(file); err != nil {
		err = errors.Annotatef(err, "config devices source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func (c *Config) finish(errs *[]error) {
	c.devices = make(map[string][]Destination, len(c.deviceParams))
	for name, forwarders := range c.deviceParams {
		ds := make([]Destination, 0, len(forwarders))
		for i, params := range forwarders {
			d, err := ParseDestination(params)
			if err != nil {
				*errs = append(*errs, errors.Annotatef(err, "device=%s forwarder=%d", name, i))
				continue
			}
			ds = append(ds, d)
		}
		c.devices[name] = ds
	}
	c.deviceParams = nil
	if c.Port < 0 || c.Port > 65535 {
		*errs = append(*errs, errors.NotValidf("port=%d", c.Port))
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if dr, ok := fs.(*DirReader); ok {
		dir, name := filepath.Split(names[0])
		dr.Chdir(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen:  make(map[string]struct{}),
		deviceParams: make(map[string][]map[string]interface{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	c.finish(&errs)
	return c, helpers.FoldErrors(errs)
}

// ReadFile reads config from OS path, relative includes resolve next to it.
func ReadFile(log *log2.Log, path string) (*Config, error) {
	fs, err := NewDirReader(".")
	if err != nil {
		return nil, err
	}
	return ReadConfig(log, fs, path)
}

func (c *Config) String() string {
	return fmt.Sprintf("listen=%s devices=%d retry=%v", c.ListenAddr(), len(c.devices), c.RetryDelay())
}
