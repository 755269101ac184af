// Package metrics exposes buffer pool and lock manager counters through
// prometheus, grounded on sushant-115-gojodb's telemetry wiring
// (internal/telemetry, pkg/telemetry) which registers client_golang
// collectors against an explicit registry rather than the global default
// one, so multiple latchdb instances in the same test binary don't collide.
package metrics

import (
	"net/http"

	"github.com/dustin/go-humanize"
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter and histogram latchdb's storage layer
// reports to.
type Registry struct {
	reg *prometheus.Registry

	BufferPoolHits      prometheus.Counter
	BufferPoolMisses    prometheus.Counter
	BufferPoolEvictions prometheus.Counter
	BufferPoolFlushes   prometheus.Counter

	LockWaitSeconds prometheus.Histogram
	LockWounds      prometheus.Counter
}

// NewRegistry builds and registers a fresh Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		BufferPoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchdb_buffer_pool_hits_total",
			Help: "Pages found already resident in the buffer pool on fetch.",
		}),
		BufferPoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchdb_buffer_pool_misses_total",
			Help: "Pages that required a disk read on fetch.",
		}),
		BufferPoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchdb_buffer_pool_evictions_total",
			Help: "Frames reclaimed from the LRU replacer to satisfy new_page/fetch_page.",
		}),
		BufferPoolFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchdb_buffer_pool_flushes_total",
			Help: "Dirty pages written back to disk.",
		}),
		LockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "latchdb_lock_wait_seconds",
			Help:    "Time a lock request spent queued before being granted or aborted.",
			Buckets: prometheus.DefBuckets,
		}),
		LockWounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchdb_lock_wounds_total",
			Help: "Transactions aborted by wound-wait deadlock prevention.",
		}),
	}
	reg.MustRegister(
		r.BufferPoolHits, r.BufferPoolMisses, r.BufferPoolEvictions, r.BufferPoolFlushes,
		r.LockWaitSeconds, r.LockWounds,
	)
	return r
}

// Handler returns an http.Handler an operator can scrape.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Summary renders the buffer pool counters as a human-readable line, the way
// DaemonDB's bufferpool.GetStats output is meant to be logged.
func (r *Registry) Summary() string {
	hits := counterValue(r.BufferPoolHits)
	misses := counterValue(r.BufferPoolMisses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = hits / total * 100
	}
	return "buffer pool: " + humanize.Comma(int64(total)) + " fetches, " +
		humanize.FormatFloat("#.##", hitRate) + "% hit rate, " +
		humanize.Comma(int64(counterValue(r.BufferPoolEvictions))) + " evictions"
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
