package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SSDP results
const (
	SSDPAnswered = "answered"
	SSDPIgnored  = "ignored"
	SSDPFiltered = "filtered"
	SSDPError    = "error"
)

// Upload statuses
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusFailed   = "failed"
)

var (
	// Discovery datagrams by outcome
	SSDPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autobackup",
			Subsystem: "ssdp",
			Name:      "requests_total",
			Help:      "Total SSDP datagrams received, by result",
		},
		[]string{"result"},
	)

	// SOAP actions on the ContentDirectory control URL
	SOAPActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autobackup",
			Subsystem: "soap",
			Name:      "actions_total",
			Help:      "Total ContentDirectory SOAP actions",
		},
		[]string{"action", "status"},
	)

	// Upload counters
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autobackup",
			Subsystem: "backup",
			Name:      "uploads_total",
			Help:      "Total object uploads",
		},
		[]string{"content_type", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autobackup",
			Subsystem: "backup",
			Name:      "upload_bytes_total",
			Help:      "Total bytes written to backup storage",
		},
		[]string{"content_type"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autobackup",
			Subsystem: "backup",
			Name:      "upload_duration_seconds",
			Help:      "Time spent receiving and storing one object",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	PendingObjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autobackup",
			Subsystem: "backup",
			Name:      "pending_objects",
			Help:      "Objects announced by CreateObject and not yet uploaded",
		},
	)

	ExpiredObjectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autobackup",
			Subsystem: "backup",
			Name:      "expired_objects_total",
			Help:      "Pending objects dropped because no upload arrived in time",
		},
	)
)

// RecordSSDP records the outcome of one discovery datagram
func RecordSSDP(result string) {
	SSDPRequestsTotal.WithLabelValues(result).Inc()
}

// RecordAction records a SOAP action
func RecordAction(action, status string) {
	SOAPActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordUpload records an object upload
func RecordUpload(contentType, status string, bytes int64, durationSec float64) {
	UploadsTotal.WithLabelValues(contentType, status).Inc()
	if status == StatusSuccess {
		UploadBytesTotal.WithLabelValues(contentType).Add(float64(bytes))
		UploadDuration.Observe(durationSec)
	}
}

// SetPending publishes the current pending object count
func SetPending(n int) {
	PendingObjects.Set(float64(n))
}

// RecordExpired counts reaped pending objects
func RecordExpired(n int) {
	ExpiredObjectsTotal.Add(float64(n))
}
