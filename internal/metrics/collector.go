package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats provides the metrics collector access to daemon state.
type LiveStats interface {
	// SessionState returns "idle", "recording" or "transcribing".
	SessionState() string
	SSESubscriberCount() int
}

var sessionStates = []string{"idle", "recording", "transcribing"}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	db    *sql.DB
	stats LiveStats

	sessionState   *prometheus.Desc
	sseSubscribers *prometheus.Desc
	dbOpenConns    *prometheus.Desc
	dbInUseConns   *prometheus.Desc
	dbWaitCount    *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// db may be nil (metrics will report 0). stats may be nil before the machine
// is running.
func NewCollector(db *sql.DB, stats LiveStats) *Collector {
	return &Collector{
		db:    db,
		stats: stats,
		sessionState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "state"),
			"1 for the current dictation session state, 0 otherwise.",
			[]string{"state"}, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbOpenConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "open_conns"),
			"Open history database connections.",
			nil, nil,
		),
		dbInUseConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "in_use_conns"),
			"History database connections currently in use.",
			nil, nil,
		),
		dbWaitCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "wait_count_total"),
			"Total waits for a history database connection.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionState
	ch <- c.sseSubscribers
	ch <- c.dbOpenConns
	ch <- c.dbInUseConns
	ch <- c.dbWaitCount
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	current := ""
	subs := 0
	if c.stats != nil {
		current = c.stats.SessionState()
		subs = c.stats.SSESubscriberCount()
	}
	for _, st := range sessionStates {
		v := 0.0
		if st == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.sessionState, prometheus.GaugeValue, v, st)
	}
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(subs))

	var stat sql.DBStats
	if c.db != nil {
		stat = c.db.Stats()
	}
	ch <- prometheus.MustNewConstMetric(c.dbOpenConns, prometheus.GaugeValue, float64(stat.OpenConnections))
	ch <- prometheus.MustNewConstMetric(c.dbInUseConns, prometheus.GaugeValue, float64(stat.InUse))
	ch <- prometheus.MustNewConstMetric(c.dbWaitCount, prometheus.CounterValue, float64(stat.WaitCount))
}
