// Package metrics exposes the operational counters used by the STATUS_GET
// response text and an optional Prometheus /metrics endpoint. Grounded on
// cuemby-warren's pkg/metrics package: a set of package-level collectors
// registered once, plus small typed helpers the rest of the code calls
// instead of touching prometheus directly.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors for the cache's operational counters.
var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whiplru_cache_hits_total",
		Help: "Total number of GET requests served from the local cache.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whiplru_cache_misses_total",
		Help: "Total number of GET requests that fell through to the remote provider.",
	})
	BytesPut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whiplru_bytes_put_total",
		Help: "Total number of asset bytes written to the local cache.",
	})
	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whiplru_evictions_total",
		Help: "Total number of assets evicted from the local cache.",
	})
	EvictedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whiplru_evicted_bytes_total",
		Help: "Total number of asset bytes evicted from the local cache.",
	})
	JournalOccupied = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whiplru_journal_occupied_slots",
		Help: "Number of write-journal slots currently occupied by an in-flight remote PUT.",
	})
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whiplru_active_connections",
		Help: "Number of currently connected clients, counted from accept.",
	})
)

// Registry is the Prometheus registry the /metrics HTTP handler serves.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CacheHits, CacheMisses, BytesPut, Evictions, EvictedBytes,
		JournalOccupied, ActiveConnections,
	)
}

// Recorder is the narrow interface StorageManager and Server depend on, so
// they can be tested without a live Prometheus registry.
type Recorder interface {
	Hit()
	Miss()
	Put(bytes int64)
	Evicted(count int, bytes int64)
	JournalOccupancy(n int)
	ConnectionOpened()
	ConnectionClosed()
	ActiveConnectionCount() int64
	HitCount() int64
	MissCount() int64
	JournalOccupancyCount() int64
}

// Collector is the default Recorder, backed by the package-level
// Prometheus collectors above plus local atomic counters for connections,
// hits, misses and journal occupancy (so they can be read synchronously for
// STATUS_GET, per
// cuemby-warren's pattern of pairing a Prometheus gauge with a plain
// in-process counter for anything read back by application code).
type Collector struct {
	active          int64
	hits            int64
	misses          int64
	journalOccupied int64
}

// NewCollector returns the default Recorder implementation.
func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Hit() {
	atomic.AddInt64(&c.hits, 1)
	CacheHits.Inc()
}

func (c *Collector) Miss() {
	atomic.AddInt64(&c.misses, 1)
	CacheMisses.Inc()
}

func (c *Collector) Put(bytes int64) {
	BytesPut.Add(float64(bytes))
}

func (c *Collector) Evicted(count int, bytes int64) {
	Evictions.Add(float64(count))
	EvictedBytes.Add(float64(bytes))
}

func (c *Collector) JournalOccupancy(n int) {
	atomic.StoreInt64(&c.journalOccupied, int64(n))
	JournalOccupied.Set(float64(n))
}

func (c *Collector) HitCount() int64 { return atomic.LoadInt64(&c.hits) }

func (c *Collector) MissCount() int64 { return atomic.LoadInt64(&c.misses) }

func (c *Collector) JournalOccupancyCount() int64 { return atomic.LoadInt64(&c.journalOccupied) }

func (c *Collector) ConnectionOpened() {
	n := atomic.AddInt64(&c.active, 1)
	ActiveConnections.Set(float64(n))
}

func (c *Collector) ConnectionClosed() {
	n := atomic.AddInt64(&c.active, -1)
	ActiveConnections.Set(float64(n))
}

func (c *Collector) ActiveConnectionCount() int64 {
	return atomic.LoadInt64(&c.active)
}
