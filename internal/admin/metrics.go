package admin

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/cloudnbd/pkg/cache"
	"github.com/marmos91/cloudnbd/pkg/nbd"
	"github.com/marmos91/cloudnbd/pkg/provider/remote"
)

// cacheMetrics is the Prometheus-backed implementation of cache.Metrics.
type cacheMetrics struct {
	readBytes  prometheus.Histogram
	writeBytes prometheus.Histogram
	readTime   prometheus.Histogram
	writeTime  prometheus.Histogram
	hits       prometheus.Counter
	misses     prometheus.Counter
	evictions  prometheus.Counter
	evictFails *prometheus.CounterVec
}

// NewCacheMetrics registers the cache counters/histograms on reg and
// returns a cache.Metrics implementation backed by them.
func NewCacheMetrics(reg *prometheus.Registry, export string) cache.Metrics {
	labels := prometheus.Labels{"export": export}
	return &cacheMetrics{
		readBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_cache_read_bytes",
			Help:        "Distribution of bytes read through the block cache.",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 10),
			ConstLabels: labels,
		}),
		writeBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_cache_write_bytes",
			Help:        "Distribution of bytes written through the block cache.",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 10),
			ConstLabels: labels,
		}),
		readTime: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_cache_read_duration_seconds",
			Help:        "Duration of cache read operations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		writeTime: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_cache_write_duration_seconds",
			Help:        "Duration of cache write operations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		hits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "cloudnbd_cache_hits_total",
			Help:        "Total cache hits.",
			ConstLabels: labels,
		}),
		misses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "cloudnbd_cache_misses_total",
			Help:        "Total cache misses.",
			ConstLabels: labels,
		}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "cloudnbd_cache_evictions_total",
			Help:        "Total entries evicted from the cache.",
			ConstLabels: labels,
		}),
		evictFails: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudnbd_cache_eviction_writeback_failures_total",
			Help:        "Evictions whose dirty block failed to write back to the lower provider.",
			ConstLabels: labels,
		}, []string{"block_offset"}),
	}
}

func (m *cacheMetrics) ObserveRead(bytes int64, d time.Duration) {
	m.readBytes.Observe(float64(bytes))
	m.readTime.Observe(d.Seconds())
}

func (m *cacheMetrics) ObserveWrite(bytes int64, d time.Duration) {
	m.writeBytes.Observe(float64(bytes))
	m.writeTime.Observe(d.Seconds())
}

func (m *cacheMetrics) RecordHit()      { m.hits.Inc() }
func (m *cacheMetrics) RecordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) RecordEviction() { m.evictions.Inc() }
func (m *cacheMetrics) RecordEvictionWritebackFailure(blockOffset int64) {
	m.evictFails.WithLabelValues(strconv.FormatInt(blockOffset, 10)).Inc()
}

var _ cache.Metrics = (*cacheMetrics)(nil)

// remoteMetrics is the Prometheus-backed implementation of remote.Metrics.
type remoteMetrics struct {
	fetchBytes   prometheus.Histogram
	uploadBytes  prometheus.Histogram
	fetchErrors  prometheus.Counter
	uploadErrors prometheus.Counter
}

// NewRemoteMetrics registers the remote-backend counters/histograms on reg
// and returns a remote.Metrics implementation backed by them.
func NewRemoteMetrics(reg *prometheus.Registry, export string) remote.Metrics {
	labels := prometheus.Labels{"export": export}
	return &remoteMetrics{
		fetchBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_remote_fetch_bytes",
			Help:        "Distribution of bytes fetched from a remote backend.",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 10),
			ConstLabels: labels,
		}),
		uploadBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "cloudnbd_remote_upload_bytes",
			Help:        "Distribution of bytes uploaded to a remote backend.",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 10),
			ConstLabels: labels,
		}),
		fetchErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "cloudnbd_remote_fetch_errors_total",
			Help:        "Total fetch calls that failed after retry exhaustion.",
			ConstLabels: labels,
		}),
		uploadErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "cloudnbd_remote_upload_errors_total",
			Help:        "Total upload calls that failed after retry exhaustion.",
			ConstLabels: labels,
		}),
	}
}

func (m *remoteMetrics) ObserveFetch(bytes int64)  { m.fetchBytes.Observe(float64(bytes)) }
func (m *remoteMetrics) ObserveUpload(bytes int64) { m.uploadBytes.Observe(float64(bytes)) }
func (m *remoteMetrics) RecordFetchError()         { m.fetchErrors.Inc() }
func (m *remoteMetrics) RecordUploadError()        { m.uploadErrors.Inc() }

var _ remote.Metrics = (*remoteMetrics)(nil)

// nbdMetrics is the Prometheus-backed implementation of nbd.Metrics.
type nbdMetrics struct {
	requestBytes *prometheus.HistogramVec
	errors       *prometheus.CounterVec
}

// NewNBDMetrics registers the per-command NBD counters/histograms on reg
// and returns an nbd.Metrics implementation backed by them.
func NewNBDMetrics(reg *prometheus.Registry) nbd.Metrics {
	return &nbdMetrics{
		requestBytes: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudnbd_nbd_request_bytes",
			Help:    "Distribution of request payload sizes by command.",
			Buckets: prometheus.ExponentialBuckets(512, 2, 10),
		}, []string{"command"}),
		errors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cloudnbd_nbd_request_errors_total",
			Help: "Total requests that resulted in a non-zero NBD reply error, by command.",
		}, []string{"command"}),
	}
}

func (m *nbdMetrics) ObserveRequest(command string, bytes int64) {
	m.requestBytes.WithLabelValues(command).Observe(float64(bytes))
}

func (m *nbdMetrics) RecordError(command string) {
	m.errors.WithLabelValues(command).Inc()
}

var _ nbd.Metrics = (*nbdMetrics)(nil)
