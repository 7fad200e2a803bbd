// Command daemon runs the mcastxfer sending server: it accepts control
// channel connections, runs the handshake/admission sequence of spec.md
// §4.2, and drives one WaveScheduler per live payload path. Grounded on the
// teacher's daemon/main.go (flag parsing, observability bring-up, a single
// admin HTTP listener, signal-driven graceful shutdown), generalized from a
// gRPC/REST/QUIC daemon to a plain TCP control listener plus the multicast
// data plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantarax/mcastxfer/daemon/config"
	"github.com/quantarax/mcastxfer/daemon/server"
	"github.com/quantarax/mcastxfer/internal/events"
	"github.com/quantarax/mcastxfer/internal/observability"
)

func main() {
	controlAddr := flag.String("control-addr", "0.0.0.0:7000", "control channel listen address")
	adminAddr := flag.String("admin-addr", "127.0.0.1:9090", "admin (/healthz, /metrics) listen address")
	rootFolder := flag.String("root", ".", "payload root folder; session paths resolve under it")
	mtu := flag.Int("mtu", 1500, "path MTU used to derive the multicast block size")
	ipv6 := flag.Bool("ipv6", false, "derive block size for IPv6 header overhead")
	multicastAddr := flag.String("multicast-address", "239.1.1.1", "base multicast group address")
	multicastStartPort := flag.Int("multicast-start-port", 30000, "multicast_port = start_port + session_id")
	multicastBurst := flag.Int("multicast-burst", 64, "datagrams enqueued per burst before yielding")
	multicastTTL := flag.Int("multicast-ttl", 1, "multicast TTL")
	maxSessions := flag.Int("max-sessions", 4, "maximum concurrently live sessions")
	maxConnsPerSession := flag.Int("max-connections-per-session", 64, "maximum admitted receivers per session")
	iface := flag.String("interface", "", "multicast interface name (OS default if empty)")
	passphrase := flag.String("passphrase", "", "PSK pass-phrase; empty disables TLS (the challenge and segments are still sealed under keys derived from the empty pass-phrase)")
	passphraseEncoding := flag.String("passphrase-encoding", "utf16le", "utf16le or utf8")
	fecEnabled := flag.Bool("fec", false, "enable optional adaptive Reed-Solomon parity shards")
	readTimeout := flag.Duration("read-timeout", 10*time.Minute, "control channel receive timeout")
	idleGrace := flag.Duration("idle-grace", 60*time.Second, "idle grace before an empty session is torn down")
	flag.Parse()

	logger := observability.NewLogger("mcastxfer-server", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("1.0.0")
	if shutdown, err := observability.InitTracing(context.Background(), "mcastxfer-server"); err == nil {
		defer shutdown(context.Background())
	}

	cfg := config.DefaultServerConfig()
	cfg.Mtu = *mtu
	cfg.IPv6 = *ipv6
	cfg.MaxConnectionsPerSession = *maxConnsPerSession
	cfg.MaxSessions = *maxSessions
	cfg.MulticastAddress = *multicastAddr
	cfg.MulticastStartPort = *multicastStartPort
	cfg.MulticastBurstLength = *multicastBurst
	cfg.MulticastTTL = *multicastTTL
	cfg.RootFolder = *rootFolder
	cfg.InterfaceName = *iface
	cfg.Passphrase = *passphrase
	cfg.PassphraseEncoding = *passphraseEncoding
	cfg.FECEnabled = *fecEnabled
	cfg.ReadTimeout = *readTimeout
	cfg.IdleSessionGrace = *idleGrace
	cfg.AdminAddress = *adminAddr

	if err := cfg.Validate(); err != nil {
		logger.Fatal(err, "invalid configuration")
	}

	health.RegisterCheck("control_listener", observability.ControlListenerCheck(*controlAddr))

	pub := events.NewPublisher(256)
	srv := server.NewServer(cfg, logger, pub)

	ln, err := net.Listen("tcp", *controlAddr)
	if err != nil {
		logger.Fatal(err, "failed to bind control listener")
	}
	logger.Info(fmt.Sprintf("control channel listening on %s", *controlAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startAdminServer(*adminAddr, metrics, health, logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	logger.Info("mcastxfer server running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error(err, "control listener stopped")
		}
	}

	cancel()
	logger.Info("mcastxfer server stopped")
}

func startAdminServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info(fmt.Sprintf("admin listener on %s (/healthz, /metrics, /debug/pprof)", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "admin listener error")
	}
}
