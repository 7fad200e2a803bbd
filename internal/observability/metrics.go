package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon, grounded on the
// teacher's internal/observability/metrics.go: the connection/crypto/FEC
// metric families carry over renamed to this protocol's vocabulary, and
// the QUIC-stream and BoltDB/bitmap-persistence families are dropped since
// neither exists here (control channel is TLS-over-TCP, no on-disk index).
type Metrics struct {
	// Session metrics
	SessionsTotal        *prometheus.CounterVec
	SessionsActive       prometheus.Gauge
	SessionDuration      prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	SegmentsSentTotal     prometheus.Counter
	SegmentsReceivedTotal prometheus.Counter
	SegmentsRetransmitted *prometheus.CounterVec

	// Control channel metrics
	ControlChannelsTotal   *prometheus.CounterVec
	ControlChannelsActive  prometheus.Gauge
	ReceiverLossRate       prometheus.Gauge
	FECEnabled             prometheus.Gauge
	FECReconstructionsTotal       prometheus.Counter
	FECReconstructionFailuresTotal prometheus.Counter
	FECParityShardsSentTotal       prometheus.Counter

	// Crypto metrics
	CryptoOperationsTotal    *prometheus.CounterVec
	CryptoOperationDuration  prometheus.Histogram
	MerkleVerificationsTotal *prometheus.CounterVec

	activeSessions int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_sessions_total",
				Help: "Total sessions initiated",
			},
			[]string{"status"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcastxfer_sessions_active",
				Help: "Currently active sessions",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcastxfer_session_duration_seconds",
				Help:    "Session completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_bytes_transferred_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),

		SegmentsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mcastxfer_segments_sent_total",
				Help: "Total multicast segments sent",
			},
		),

		SegmentsReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mcastxfer_segments_received_total",
				Help: "Total multicast segments received",
			},
		),

		SegmentsRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_segments_retransmitted_total",
				Help: "Segments requiring retransmission, by reason",
			},
			[]string{"reason"},
		),

		ControlChannelsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_control_channels_total",
				Help: "Control channel handshake attempts",
			},
			[]string{"result"},
		),

		ControlChannelsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcastxfer_control_channels_active",
				Help: "Active receiver control channels",
			},
		),

		ReceiverLossRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcastxfer_receiver_loss_rate",
				Help: "Observed aggregate receiver segment loss rate (0.0-1.0)",
			},
		),

		FECEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcastxfer_fec_enabled",
				Help: "Adaptive FEC currently enabled (0/1)",
			},
		),

		FECReconstructionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mcastxfer_fec_reconstructions_total",
				Help: "Segments reconstructed via FEC",
			},
		),

		FECReconstructionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mcastxfer_fec_reconstruction_failures_total",
				Help: "Failed FEC reconstructions",
			},
		),

		FECParityShardsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mcastxfer_fec_parity_shards_sent_total",
				Help: "Parity shards transmitted",
			},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcastxfer_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		MerkleVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcastxfer_merkle_verifications_total",
				Help: "Whole-payload Merkle root verifications",
			},
			[]string{"result"},
		),
	}

	return m
}

// RecordSessionStart increments active session counters.
func (m *Metrics) RecordSessionStart() {
	atomic.AddInt64(&m.activeSessions, 1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))
}

// RecordSessionComplete records session completion metrics.
func (m *Metrics) RecordSessionComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeSessions, -1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSegmentSent updates metrics for a sent segment.
func (m *Metrics) RecordSegmentSent(bytes int) {
	m.SegmentsSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordSegmentReceived updates metrics for a received segment.
func (m *Metrics) RecordSegmentReceived(bytes int) {
	m.SegmentsReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordSegmentRetransmit increments retransmit counters.
func (m *Metrics) RecordSegmentRetransmit(reason string) {
	m.SegmentsRetransmitted.WithLabelValues(reason).Inc()
}

// RecordControlChannel logs control channel handshake attempts.
func (m *Metrics) RecordControlChannel(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ControlChannelsTotal.WithLabelValues(result).Inc()

	if success {
		m.ControlChannelsActive.Inc()
	}
}

// RecordControlChannelClose decrements the active control channel gauge.
func (m *Metrics) RecordControlChannelClose() {
	m.ControlChannelsActive.Dec()
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordMerkleVerification increments Merkle verification counters.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordFECReconstruction updates FEC reconstruction counters.
func (m *Metrics) RecordFECReconstruction(success bool) {
	if success {
		m.FECReconstructionsTotal.Inc()
	} else {
		m.FECReconstructionFailuresTotal.Inc()
	}
}

// SetFECEnabled sets the FEC enabled flag.
func (m *Metrics) SetFECEnabled(enabled bool) {
	if enabled {
		m.FECEnabled.Set(1)
	} else {
		m.FECEnabled.Set(0)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
