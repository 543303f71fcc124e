package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

const namespace = "woushbot"

// Metrics holds the daemon's Prometheus collectors on a private registry.
// It observes both managers, the bridge and the ledger mirror.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	resourcesCreated  prometheus.Counter
	resourcesFinished *prometheus.CounterVec
	resourcesActive   prometheus.Gauge

	punishmentsApplied *prometheus.CounterVec
	punishmentsEnded   *prometheus.CounterVec
	warningsRecorded   prometheus.Counter
	escalations        prometheus.Counter

	bridgeSubmissions *prometheus.CounterVec
	bridgeTimeouts    *prometheus.CounterVec
	ledgerFailures    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),

		resourcesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rooms", Name: "created_total",
			Help: "Ephemeral rooms created.",
		}),
		resourcesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rooms", Name: "finished_total",
			Help: "Ephemeral rooms that reached a terminal status.",
		}, []string{"status"}),
		resourcesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rooms", Name: "active",
			Help: "Ephemeral rooms currently active.",
		}),

		punishmentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "moderation", Name: "punishments_applied_total",
			Help: "Punishments applied, manual and automatic.",
		}, []string{"kind"}),
		punishmentsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "moderation", Name: "punishments_ended_total",
			Help: "Punishments lifted or expired.",
		}, []string{"kind", "status"}),
		warningsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "moderation", Name: "warnings_total",
			Help: "Warnings recorded.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "moderation", Name: "escalations_total",
			Help: "Automatic bans triggered by the warning threshold.",
		}),

		bridgeSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "submissions_total",
			Help: "Operations submitted to the session loop.",
		}, []string{"op"}),
		bridgeTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "timeouts_total",
			Help: "Bridge waits that gave up before the operation finished.",
		}, []string{"op"}),
		ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "failures_total",
			Help: "Ledger calls that failed and were skipped.",
		}, []string{"sheet", "op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Daemon uptime in seconds.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
		m.resourcesCreated, m.resourcesFinished, m.resourcesActive,
		m.punishmentsApplied, m.punishmentsEnded, m.warningsRecorded, m.escalations,
		m.bridgeSubmissions, m.bridgeTimeouts, m.ledgerFailures,
	)
	return m
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ResourceCreated() { m.resourcesCreated.Inc() }

func (m *Metrics) ResourceFinished(status model.ResourceStatus) {
	m.resourcesFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ActiveResources(n int) { m.resourcesActive.Set(float64(n)) }

func (m *Metrics) PunishmentApplied(kind model.PunishmentKind) {
	m.punishmentsApplied.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) PunishmentEnded(kind model.PunishmentKind, status model.PunishmentStatus) {
	m.punishmentsEnded.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) WarningRecorded() { m.warningsRecorded.Inc() }

func (m *Metrics) Escalated() { m.escalations.Inc() }

func (m *Metrics) BridgeSubmitted(op string) { m.bridgeSubmissions.WithLabelValues(op).Inc() }

func (m *Metrics) BridgeTimedOut(op string) { m.bridgeTimeouts.WithLabelValues(op).Inc() }

func (m *Metrics) LedgerFailed(sheet ledger.Sheet, op string) {
	m.ledgerFailures.WithLabelValues(string(sheet), op).Inc()
}
