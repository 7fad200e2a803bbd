// Command receiver joins a multicast payload session over an mc:// or
// mcs:// URI and drives it to completion, reconnecting on transport loss
// per spec.md §7. Grounded on the teacher's cmd/quic_recv (flag parsing,
// tracing bring-up, output-directory handling), generalized from a
// single-chunk QUIC demo to the full ReceiverSession handshake/reception
// loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantarax/mcastxfer/daemon/client"
	"github.com/quantarax/mcastxfer/daemon/config"
	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/mcurl"
	"github.com/quantarax/mcastxfer/internal/observability"
)

const reconnectDelay = 30 * time.Second

func main() {
	uri := flag.String("url", "", "mc://host:port/path or mcs://host:port/path")
	passphrase := flag.String("passphrase", "", "PSK pass-phrase; required for mcs:// URIs")
	passphraseEncoding := flag.String("passphrase-encoding", "utf16le", "utf16le or utf8")
	outputDir := flag.String("output-dir", "./received", "directory to write received files into")
	defaultPort := flag.Int("default-port", 7000, "control channel port used when the URL omits one")
	flag.Parse()

	logger := observability.NewLogger("mcastxfer-receiver", "1.0.0", os.Stdout)
	if shutdown, err := observability.InitTracing(context.Background(), "mcastxfer-receiver"); err == nil {
		defer shutdown(context.Background())
	}

	if *uri == "" {
		fmt.Fprintln(os.Stderr, "Usage: receiver -url mc://host:port/path [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	parsed, err := mcurl.Parse(*uri)
	if err != nil {
		logger.Fatal(err, "invalid session URL")
	}
	if parsed.Secure && *passphrase == "" {
		logger.Fatal(fmt.Errorf("mcs:// requires -passphrase"), "invalid configuration")
	}

	port := parsed.Port
	if port == 0 {
		port = *defaultPort
	}
	serverAddr := fmt.Sprintf("%s:%d", parsed.Host, port)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal(err, "failed to create output directory")
	}

	cfg := config.DefaultClientConfig()
	cfg.Passphrase = *passphrase
	cfg.PassphraseEncoding = *passphraseEncoding
	cfg.RootFolder = *outputDir
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err, "invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("cancelling")
		cancel()
	}()

	if err := runWithReconnect(ctx, serverAddr, parsed.Path, cfg, logger); err != nil {
		logger.Fatal(err, "transfer aborted")
	}
	logger.Info("transfer complete")
}

// runWithReconnect drives spec.md §7's propagation rule: a fresh Join/Run
// failing with a retryable error (anything but AuthFailed, PayloadMismatch,
// Cancelled) is retried after ReconnectDelay; any other error is fatal and
// surfaced to the caller.
func runWithReconnect(ctx context.Context, serverAddr, path string, cfg *config.ClientConfig, logger *observability.Logger) error {
	var state int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sess, err := client.Join(serverAddr, path, state, cfg, logger)
		if err != nil {
			if !errs.CanReconnect(err) {
				return fmt.Errorf("join: %w", err)
			}
			logger.Warn(fmt.Sprintf("join failed, retrying in %s: %v", reconnectDelay, err))
			if !sleepOrDone(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		err = sess.Run(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || !errs.CanReconnect(err) {
			return err
		}

		logger.Warn(fmt.Sprintf("transfer lost, reconnecting in %s: %v", reconnectDelay, err))
		if !sleepOrDone(ctx, reconnectDelay) {
			return ctx.Err()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
