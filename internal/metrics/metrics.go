package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Provisioning operations and outcomes used as label values.
const (
	OpCreateTenant    = "create_tenant"
	OpCreateExtension = "create_extension"

	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Recorder holds event counters incremented by the call path and the
// provisioning workflows. A nil *Recorder is valid and records nothing.
type Recorder struct {
	decisions      *prometheus.CounterVec
	provisioning   *prometheus.CounterVec
	reloadFailures prometheus.Counter
}

// NewRecorder creates the event counters and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantpbx_call_decisions_total",
			Help: "Call authorization decisions by classification",
		}, []string{"classification", "allowed"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantpbx_provisioning_total",
			Help: "Provisioning operations by outcome",
		}, []string{"operation", "outcome"}),
		reloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantpbx_reload_failures_total",
			Help: "Dialplan reloads that failed after a tenant was provisioned",
		}),
	}
	reg.MustRegister(r.decisions, r.provisioning, r.reloadFailures)
	return r
}

// CallDecision counts one published authorization decision. An empty
// classification (missing session arguments) is recorded as "NONE".
func (r *Recorder) CallDecision(classification string, allowed bool) {
	if r == nil {
		return
	}
	if classification == "" {
		classification = "NONE"
	}
	r.decisions.WithLabelValues(classification, strconv.FormatBool(allowed)).Inc()
}

// Provisioning counts one provisioning attempt.
func (r *Recorder) Provisioning(operation, outcome string) {
	if r == nil {
		return
	}
	r.provisioning.WithLabelValues(operation, outcome).Inc()
}

// ReloadFailed counts one failed routing engine reload.
func (r *Recorder) ReloadFailed() {
	if r == nil {
		return
	}
	r.reloadFailures.Inc()
}

// Counter returns a row count from the store.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// ActiveSessionsProvider exposes the number of in-flight AGI sessions.
type ActiveSessionsProvider interface {
	ActiveSessions() int
}

// Collector is a prometheus.Collector that gathers state gauges at scrape
// time. Any provider may be nil if unavailable.
type Collector struct {
	tenants   Counter
	endpoints Counter
	sessions  ActiveSessionsProvider
	startTime time.Time

	tenantsDesc   *prometheus.Desc
	endpointsDesc *prometheus.Desc
	sessionsDesc  *prometheus.Desc
	uptimeDesc    *prometheus.Desc
}

// NewCollector creates a new scrape-time collector.
func NewCollector(tenants, endpoints Counter, sessions ActiveSessionsProvider, startTime time.Time) *Collector {
	return &Collector{
		tenants:   tenants,
		endpoints: endpoints,
		sessions:  sessions,
		startTime: startTime,

		tenantsDesc: prometheus.NewDesc(
			"tenantpbx_tenants",
			"Number of provisioned tenants",
			nil, nil,
		),
		endpointsDesc: prometheus.NewDesc(
			"tenantpbx_endpoints",
			"Number of provisioned PJSIP endpoints across all tenants",
			nil, nil,
		),
		sessionsDesc: prometheus.NewDesc(
			"tenantpbx_agi_sessions_active",
			"Number of in-flight FastAGI authorization sessions",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"tenantpbx_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tenantsDesc
	ch <- c.endpointsDesc
	ch <- c.sessionsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.tenants != nil {
		count, err := c.tenants.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count tenants", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.tenantsDesc, prometheus.GaugeValue, float64(count))
		}
	}

	if c.endpoints != nil {
		count, err := c.endpoints.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count endpoints", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.endpointsDesc, prometheus.GaugeValue, float64(count))
		}
	}

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.sessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessions()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
