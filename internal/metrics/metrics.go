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

	ActiveRoutes prometheus.Gauge

	RoutesDispatched  prometheus.Counter
	StationsPurchased prometheus.Counter

	Projections        prometheus.Counter
	ProjectionDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // route and status labels
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railnet_active_routes",
			Help: "Number of dispatched routes below 100% completion at the last listing.",
		}),
		RoutesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railnet_routes_dispatched_total",
			Help: "Total trains dispatched.",
		}),
		StationsPurchased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railnet_stations_purchased_total",
			Help: "Total stations purchased.",
		}),
		Projections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railnet_progress_projections_total",
			Help: "Total route progress computations.",
		}),
		ProjectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railnet_projection_duration_seconds",
			Help:    "Duration of route progress computations.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railnet_nats_published_total",
			Help: "Total NATS position messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railnet_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railnet_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railnet_nats_publish_duration_seconds",
			Help:    "Duration of NATS publish calls.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railnet_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		c.ActiveRoutes,
		c.RoutesDispatched, c.StationsPurchased,
		c.Projections, c.ProjectionDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveProjection records one engine invocation.
func (c *Collector) ObserveProjection(d time.Duration) {
	c.Projections.Inc()
	c.ProjectionDuration.Observe(d.Seconds())
}

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
