package client

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"net"

	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/observability"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"

	"github.com/quantarax/mcastxfer/daemon/config"
)

// Join performs spec.md §4.2 steps 1-8 against serverAddr for the given
// payload path and returns an established ReceiverSession ready to Run.
// state is the receiver's locally persisted progress marker from a prior
// attempt at this path (0 on a first join), carried in SessionJoinRequest.
func Join(serverAddr, path string, state int64, cfg *config.ClientConfig, logger *observability.Logger) (*ReceiverSession, error) {
	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", serverAddr, err)
	}

	passBytes, err := secure.EncodePassphrase(cfg.Passphrase, secure.Encoding(cfg.PassphraseEncoding))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode passphrase: %w", err)
	}
	psk := secure.DerivePSK(passBytes)

	// br buffers the raw connection from the very first read. The
	// plaintext branch below hands this same reader to the wireChannel it
	// builds, so any bytes Decode buffered past the Challenge frame are
	// not lost to a second, independent bufio.Reader over the same conn.
	br := bufio.NewReader(conn)
	challengeMsg, err := wire.Decode(br)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("receive challenge: %w", err)
	}
	challenge, ok := challengeMsg.(*wire.Challenge)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: expected Challenge", errs.ErrMalformedFrame)
	}

	nonce, err := secure.OpenChallenge(psk, challenge.ChallengeKey)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: open challenge: %v", errs.ErrAuthFailed, err)
	}

	var channel ControlChannel
	if cfg.Passphrase != "" {
		priv := secure.DeriveIdentity(nonce)
		pub := priv.Public().(ed25519.PublicKey)
		tlsCfg, err := secure.ClientTLSConfig(priv, pub)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("build client tls config: %w", err)
		}
		tlsChannel, err := secure.WrapClient(conn, tlsCfg)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: tls handshake: %v", errs.ErrAuthFailed, err)
		}
		channel = newWireChannel(tlsChannel)
	} else {
		channel = newWireChannelFromReader(conn, br)
	}

	responseKey, err := secure.SealChallengeResponse(psk)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seal challenge response: %w", err)
	}
	if err := channel.Send(&wire.ChallengeResponse{ChallengeKey: responseKey}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send challenge response: %w", err)
	}

	if err := channel.Send(&wire.SessionJoinRequest{Path: path, State: state}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send session join request: %w", err)
	}

	joinRespMsg, err := channel.Receive()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("receive session join response: %w", err)
	}

	switch m := joinRespMsg.(type) {
	case *wire.Response:
		conn.Close()
		return nil, classifyResponse(m.Status, m.ErrorMessage)
	case *wire.SessionJoinResponse:
		if m.Status != wire.StatusOk {
			conn.Close()
			return nil, classifyResponse(m.Status, m.ErrorMessage)
		}
		if logger != nil {
			logger.ControlChannelEstablished(remoteAddrOf(conn), path)
		}
		return newReceiverSession(channel, m, psk, cfg, logger)
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: unexpected join response type", errs.ErrMalformedFrame)
	}
}

func classifyResponse(status wire.ResponseStatus, msg string) error {
	switch status {
	case wire.StatusAuthFailed:
		return fmt.Errorf("%w: %s", errs.ErrAuthFailed, msg)
	case wire.StatusPayloadMismatch:
		return fmt.Errorf("%w: %s", errs.ErrPayloadMismatch, msg)
	default:
		return fmt.Errorf("%w: %s", errs.ErrRefused, msg)
	}
}

// hashWireHeaders reproduces daemon/server's hashHeaders over the wire-typed
// FileHeader list the server actually sent, so both sides derive the same
// HKDF salt for DeriveSessionKeys.
func hashWireHeaders(headers []wire.FileHeader) []byte {
	h := sha256.New()
	for _, hdr := range headers {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", hdr.Name, hdr.Length, hdr.Ordinal)
	}
	return h.Sum(nil)
}

func toFilesetHeaders(headers []wire.FileHeader) []fileset.FileHeader {
	out := make([]fileset.FileHeader, len(headers))
	for i, h := range headers {
		out[i] = fileset.FileHeader{Name: h.Name, Length: h.Length, Ordinal: int(h.Ordinal)}
	}
	return out
}
