package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging, grounded on the teacher's
// internal/observability/logger.go: same With*/leveled-method shape, with
// the event helpers renamed from transfer/chunk/QUIC vocabulary to this
// protocol's session/wave/receiver vocabulary.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithReceiver adds receiver_id context to logger.
func (l *Logger) WithReceiver(receiverID string) *Logger {
	return &Logger{logger: l.logger.With().Str("receiver_id", receiverID).Logger()}
}

// WithWave adds wave_number context to logger.
func (l *Logger) WithWave(waveNumber int64) *Logger {
	return &Logger{logger: l.logger.With().Int64("wave_number", waveNumber).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// SessionJoined logs a receiver successfully joining a session.
func (l *Logger) SessionJoined(sessionID, receiverID string, fileCount int, totalBytes int64) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("receiver_id", receiverID).
		Int("file_count", fileCount).
		Int64("total_bytes", totalBytes).
		Msg("receiver joined session")
}

// WaveStarted logs the sender beginning a new wave.
func (l *Logger) WaveStarted(sessionID string, waveNumber int64, segmentCount int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("wave_number", waveNumber).
		Int("segment_count", segmentCount).
		Msg("wave started")
}

// SegmentSent logs a multicast segment transmission.
func (l *Logger) SegmentSent(sessionID string, segmentID int64, byteLength int) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Int64("segment_id", segmentID).
		Int("byte_length", byteLength).
		Msg("segment sent")
}

// WaveProgress logs a receiver's completion fraction partway through a
// wave.
func (l *Logger) WaveProgress(sessionID, receiverID string, waveNumber int64, bytesLeft, totalBytes int64) {
	progress := 0.0
	if totalBytes > 0 {
		progress = float64(totalBytes-bytesLeft) / float64(totalBytes) * 100.0
	}
	l.logger.Info().
		Str("session_id", sessionID).
		Str("receiver_id", receiverID).
		Int64("wave_number", waveNumber).
		Float64("progress_percent", progress).
		Msg("wave progress")
}

// WaveCompleted logs the scheduler closing a wave.
func (l *Logger) WaveCompleted(sessionID string, waveNumber int64, duration time.Duration, retransmittedSegments int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("wave_number", waveNumber).
		Float64("duration_seconds", duration.Seconds()).
		Int("retransmitted_segments", retransmittedSegments).
		Msg("wave completed")
}

// SessionCompleted logs a receiver finishing and verifying a session.
func (l *Logger) SessionCompleted(sessionID, receiverID string, totalBytes int64, duration time.Duration, merkleVerified bool) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("receiver_id", receiverID).
		Int64("total_bytes", totalBytes).
		Float64("duration_seconds", duration.Seconds()).
		Bool("merkle_verified", merkleVerified).
		Msg("session completed")
}

// SegmentDecryptFailed logs an AEAD open failure on a received segment.
func (l *Logger) SegmentDecryptFailed(sessionID string, segmentID int64, err error) {
	l.logger.Error().
		Str("session_id", sessionID).
		Int64("segment_id", segmentID).
		Err(err).
		Msg("segment decryption failed")
}

// ControlChannelEstablished logs a receiver's control channel coming up.
func (l *Logger) ControlChannelEstablished(remoteAddr string, sessionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("session_id", sessionID).
		Msg("control channel established")
}

// ControlChannelFailed logs a control channel handshake or I/O failure.
func (l *Logger) ControlChannelFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("control channel failed")
}

// ReceiverEvicted logs the scheduler dropping a receiver from a session.
func (l *Logger) ReceiverEvicted(sessionID, receiverID string, reason string) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Str("receiver_id", receiverID).
		Str("reason", reason).
		Msg("receiver evicted")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
