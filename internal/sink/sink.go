// Package sink implements delivery to concrete destination types:
// HTTP device and time-series APIs, raw TCP with ACK/NACK reply, MQTT.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/log2"
)

const responseBodyLimit = 4 << 10

type Options struct {
	Log            *log2.Log
	HTTPClient     *http.Client
	HTTPTimeout    time.Duration
	NetworkTimeout time.Duration

	// test code replaces MQTT client constructor
	newMQTTClient func(*mqttOptions) mqttClient
}

func (opt *Options) defaults() {
	if opt.HTTPTimeout == 0 {
		opt.HTTPTimeout = config.DefaultHTTPTimeout
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = config.DefaultNetworkTimeout
	}
	if opt.HTTPClient == nil {
		opt.HTTPClient = &http.Client{Timeout: opt.HTTPTimeout}
	}
}

// Register binds all known destination types in engine.
// Returned func releases long lived connections.
func Register(e *forward.Engine, opt Options) (close func()) {
	opt.defaults()
	m := NewMQTT(opt)
	e.RegisterSink(config.TypeCraftbeerpi3, NewCraftbeerpi3(opt))
	e.RegisterSink(config.TypeUbidots, NewUbidots(opt))
	e.RegisterSink(config.TypeGenericTCP, NewGenericTCP(opt))
	e.RegisterSink(config.TypeThingspeak, NewThingspeak(opt))
	e.RegisterSink(config.TypeMQTT, m)
	return m.Close
}

type httpSink struct {
	client *http.Client
	log    *log2.Log
}

func newHTTPSink(opt Options, kind string) httpSink {
	opt.defaults()
	return httpSink{client: opt.HTTPClient, log: opt.Log.Tagged(kind)}
}

// do performs request, returns status and beginning of response body.
func (h httpSink) do(req *http.Request) (int, []byte, error) {
	response, err := h.client.Do(req)
	if err != nil {
		if ue, ok := err.(*url.Error); ok {
			err = &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
		}
		return 0, nil, errors.Annotatef(err, "%s %s", req.Method, redactURL(req.URL.String()))
	}
	defer response.Body.Close()
	body, err := ioutil.ReadAll(io.LimitReader(response.Body, responseBodyLimit))
	if err != nil {
		return response.StatusCode, body, errors.Annotate(err, "read response")
	}
	return response.StatusCode, body, nil
}

func (h httpSink) postJSON(ctx context.Context, u string, v interface{}) (int, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, nil, errors.Annotate(err, "json")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return 0, nil, errors.NotValidf("request url=%s", redactURL(u))
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

// redactURL drops query and password, query carries API tokens.
func redactURL(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if u, err := url.Parse(s); err == nil {
		return u.Redacted()
	}
	return s
}

func statusOK(code int) bool { return code >= 200 && code < 300 }
