package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrains prometheus.Gauge

	Activations *prometheus.CounterVec // source label: backend|local
	Fallbacks   *prometheus.CounterVec // reason label: disabled|unhealthy|create_failed|run_failed|state_failed

	Snaps *prometheus.CounterVec // result label: snapped|unsnapped

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	QueryDuration   prometheus.Histogram
	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, publishInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_trains",
			Help: "Number of trains in the active simulation.",
		}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_activations_total",
			Help: "Simulations activated, by source.",
		}, []string{"source"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_fallback_total",
			Help: "Times the local simulation replaced the backend.",
		}, []string{"reason"}),
		Snaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_snaps_total",
			Help: "Train snap attempts, by result.",
		}, []string{"result"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_bbox_cache_hits_total",
			Help: "Track bounding-box cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_bbox_cache_misses_total",
			Help: "Track bounding-box cache misses.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_state_query_duration_seconds",
			Help:    "Duration of simulation state queries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of streamer tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_speed_multiplier",
			Help: "Current speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrains,
		c.Activations, c.Fallbacks, c.Snaps,
		c.CacheHits, c.CacheMisses,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.QueryDuration, c.TickDuration, c.PublishDuration,
		c.SpeedMultiplier, c.PublishInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// The methods below let the collector satisfy the small metric interfaces
// declared by publisher and bbox. All are safe on a nil receiver.

func (c *Collector) NATSPublishedInc() {
	if c != nil {
		c.NATSPublished.Inc()
	}
}

func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c != nil {
		c.PublishDuration.Observe(d.Seconds())
	}
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) CacheHit() {
	if c != nil {
		c.CacheHits.Inc()
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.CacheMisses.Inc()
	}
}
