// Package relay assembles the service: configuration, forwarding engine
// with all sink types, inbound listener and optional metrics endpoint.
package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/ingest"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/internal/sink"
	"github.com/temoto/hydrorelay/log2"
)

type Options struct {
	Log    *log2.Log
	Config *config.Config

	// override config listen addresses, tests use "127.0.0.1:0"
	ListenAddr        string
	MetricsListenAddr string
	HTTPClient        *http.Client
}

type Relay struct {
	alive      *alive.Alive
	log        *log2.Log
	config     *config.Config
	registry   *prometheus.Registry
	metrics    *forward.Metrics
	engine     *forward.Engine
	server     *ingest.Server
	closeSinks func()

	listenAddr        string
	metricsListenAddr string
	metricsServer     *http.Server
	metricsAddr       string
}

func New(opt Options) (*Relay, error) {
	if opt.Config == nil {
		return nil, errors.Errorf("code error relay.New() without config")
	}
	c := opt.Config
	r := &Relay{
		alive:             alive.NewAlive(),
		log:               opt.Log,
		config:            c,
		registry:          prometheus.NewRegistry(),
		listenAddr:        opt.ListenAddr,
		metricsListenAddr: opt.MetricsListenAddr,
	}
	if r.listenAddr == "" {
		r.listenAddr = c.ListenAddr()
	}
	if r.metricsListenAddr == "" {
		r.metricsListenAddr = c.MetricsListen
	}
	r.registry.MustRegister(prometheus.NewGoCollector())
	r.metrics = forward.NewMetrics(r.registry)

	r.engine = forward.NewEngine(forward.Options{
		Log:        r.log.Tagged("forward"),
		RetryDelay: c.RetryDelay(),
		Metrics:    r.metrics,
	})
	sink.MQTTLogger(r.log, c.LogDebug)
	r.closeSinks = sink.Register(r.engine, sink.Options{
		Log:            r.log,
		HTTPClient:     opt.HTTPClient,
		HTTPTimeout:    c.HTTPTimeout(),
		NetworkTimeout: c.NetworkTimeout(),
	})
	if err := r.engine.Load(c); err != nil {
		if helpers.AnyError(err, errors.IsNotSupported) {
			r.log.Errorf("supported destination types: %s", strings.Join(r.engine.SinkKinds(), " "))
		}
		r.engine.Stop()
		r.closeSinks()
		return nil, errors.Annotate(err, "relay")
	}

	r.server = ingest.NewServer(ingest.Options{
		Log:       r.log.Tagged("ingest"),
		Handler:   r.accept,
		Metrics:   r.metrics,
		ReadLimit: c.ReadLimitBytes(),
		Reply:     c.IngestReply,
	})
	return r, nil
}

func (r *Relay) Engine() *forward.Engine       { return r.engine }
func (r *Relay) Server() *ingest.Server        { return r.server }
func (r *Relay) Config() *config.Config        { return r.config }
func (r *Relay) Registry() prometheus.Gatherer { return r.registry }

// MetricsAddr is actual metrics listen address, empty if disabled.
func (r *Relay) MetricsAddr() string { return r.metricsAddr }

func (r *Relay) accept(rd *reading.Reading) error {
	if r.engine.Route(rd) == 0 {
		return errors.NotFoundf("forwarders for device=%s", rd.Name)
	}
	return nil
}

// Start opens listeners. On error everything started is stopped.
func (r *Relay) Start() error {
	if err := r.server.Listen(r.listenAddr); err != nil {
		r.Stop()
		return errors.Annotate(err, "ingest")
	}
	if r.metricsListenAddr != "" {
		if err := r.startMetrics(); err != nil {
			r.Stop()
			return errors.Annotate(err, "metrics")
		}
	}
	r.log.Infof("relay started %s", r.config.String())
	return nil
}

func (r *Relay) startMetrics() error {
	ll, err := net.Listen("tcp", r.metricsListenAddr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", r.metricsListenAddr)
	}
	if !r.alive.Add(1) {
		_ = ll.Close()
		return errors.Errorf("start after stop")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{ErrorLog: r.log}))
	r.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	r.metricsAddr = ll.Addr().String()
	r.log.Infof("metrics on http://%s/metrics", r.metricsAddr)
	go func() {
		defer r.alive.Done()
		if err := r.metricsServer.Serve(ll); err != nil && err != http.ErrServerClosed {
			r.log.Error(errors.Annotate(err, "metrics serve"))
		}
	}()
	return nil
}

// Stop closes listener first, so no new readings arrive, then stops
// delivery. Pending readings are lost.
func (r *Relay) Stop() {
	if !r.alive.IsRunning() {
		return
	}
	r.alive.Stop()
	errs := make([]error, 0)
	if err := r.server.Close(); err != nil {
		errs = append(errs, errors.Annotate(err, "ingest close"))
	}
	if r.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := r.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Annotate(err, "metrics close"))
		}
		cancel()
	}
	for _, d := range r.engine.AllDestinations() {
		if n := d.Len(); n != 0 {
			r.log.Infof("%s dropping %d pending readings", d.String(), n)
		}
	}
	r.engine.Stop()
	r.closeSinks()
	if err := helpers.FoldErrors(errs); err != nil {
		r.log.Error(err)
	}
}

// Wait blocks until Stop and all in flight attempts finish.
func (r *Relay) Wait() {
	r.alive.Wait()
	r.engine.Wait()
}

func (r *Relay) StopChan() <-chan struct{} { return r.alive.StopChan() }
