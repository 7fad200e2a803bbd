package server

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/quantarax/mcastxfer/internal/bitvector"
	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/events"
	"github.com/quantarax/mcastxfer/internal/fec"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/mcast"
	"github.com/quantarax/mcastxfer/internal/observability"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"

	"github.com/quantarax/mcastxfer/daemon/config"
)

// Server accepts control-channel connections, runs the handshake/admission
// sequence of spec.md §4.2, and drives one WaveScheduler per live session.
// Grounded on the teacher's cmd/quic_send accept loop, generalized from a
// single always-on QUIC listener to a plain TCP listener optionally
// TLS-wrapped per connection.
type Server struct {
	cfg    *config.ServerConfig
	store  *Store
	logger *observability.Logger
	events *events.Publisher

	mu       sync.Mutex
	running  map[int]context.CancelFunc
}

// NewServer builds a Server bound to cfg. cfg.Validate() must have already
// succeeded.
func NewServer(cfg *config.ServerConfig, logger *observability.Logger, pub *events.Publisher) *Server {
	return &Server{
		cfg:     cfg,
		store:   NewStore(cfg.MaxSessions),
		logger:  logger,
		events:  pub,
		running: make(map[int]context.CancelFunc),
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if err := s.runHandshake(ctx, conn); err != nil && s.logger != nil {
		s.logger.ControlChannelFailed(remoteAddrOf(conn), err)
	}
}

// runHandshake performs spec.md §4.2 steps 2-8 for one incoming connection,
// then hands the receiver off to the per-session message loop.
func (s *Server) runHandshake(ctx context.Context, conn net.Conn) error {
	psk, err := s.derivePSK()
	if err != nil {
		conn.Close()
		return fmt.Errorf("derive psk: %w", err)
	}

	nonce, challengeKey, err := secure.NewChallenge(psk)
	if err != nil {
		conn.Close()
		return fmt.Errorf("build challenge: %w", err)
	}
	if err := wire.Encode(conn, &wire.Challenge{ChallengeKey: challengeKey}); err != nil {
		conn.Close()
		return fmt.Errorf("send challenge: %w", err)
	}

	var channel ControlChannel
	if s.cfg.Passphrase != "" {
		priv := secure.DeriveIdentity(nonce)
		pub := priv.Public().(ed25519.PublicKey)
		tlsCfg, err := secure.ServerTLSConfig(priv, pub)
		if err != nil {
			conn.Close()
			return fmt.Errorf("build server tls config: %w", err)
		}
		tlsChannel, err := secure.WrapServer(conn, tlsCfg)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: tls handshake: %v", errs.ErrAuthFailed, err)
		}
		channel = newWireChannel(tlsChannel, remoteAddrOf(conn))
	} else {
		channel = newWireChannel(conn, remoteAddrOf(conn))
	}

	respMsg, err := channel.Receive()
	if err != nil {
		conn.Close()
		return fmt.Errorf("receive challenge response: %w", err)
	}
	cr, ok := respMsg.(*wire.ChallengeResponse)
	if !ok {
		conn.Close()
		return fmt.Errorf("%w: expected ChallengeResponse", errs.ErrMalformedFrame)
	}
	if !secure.VerifyChallengeResponse(psk, cr.ChallengeKey) {
		_ = channel.Send(&wire.Response{Status: wire.StatusAuthFailed, ErrorMessage: "passphrase mismatch"})
		conn.Close()
		return errs.ErrAuthFailed
	}

	joinMsg, err := channel.Receive()
	if err != nil {
		conn.Close()
		return fmt.Errorf("receive session join request: %w", err)
	}
	join, ok := joinMsg.(*wire.SessionJoinRequest)
	if !ok {
		conn.Close()
		return fmt.Errorf("%w: expected SessionJoinRequest", errs.ErrMalformedFrame)
	}

	sess, receiver, err := s.admit(join.Path, channel)
	if err != nil {
		status := wire.StatusRefused
		if errors.Is(err, errs.ErrPayloadMismatch) {
			status = wire.StatusPayloadMismatch
		}
		_ = channel.Send(&wire.Response{Status: status, ErrorMessage: err.Error()})
		conn.Close()
		return err
	}

	resp := &wire.SessionJoinResponse{
		Response:         wire.Response{Status: wire.StatusOk},
		Files:            toWireHeaders(sess.Files),
		MulticastAddress: sess.MulticastAddress,
		MulticastPort:    int64(sess.MulticastPort),
		WaveNumber:       sess.Wave,
		BlockSize:        sess.BlockSize,
		MerkleRoot:       []byte(sess.MerkleRoot),
	}
	if err := channel.Send(resp); err != nil {
		sess.Remove(receiver.ID)
		conn.Close()
		return fmt.Errorf("send session join response: %w", err)
	}

	if s.logger != nil {
		s.logger.SessionJoined(strconv.Itoa(sess.ID), receiver.ID, len(sess.Files), totalBytes(sess.Files))
	}
	if s.events != nil {
		s.events.PublishReceiverJoined(strconv.Itoa(sess.ID), receiver.ID, len(sess.Files))
	}

	s.ensureScheduler(ctx, sess)
	return s.serveReceiver(ctx, sess, receiver, channel)
}

// serveReceiver runs the per-connection message loop for an admitted
// receiver: PacketStatusUpdate/WaveStatusUpdate in, the matching Response
// variant out, until the channel fails or the receiver leaves.
func (s *Server) serveReceiver(ctx context.Context, sess *Session, receiver *Receiver, channel ControlChannel) error {
	defer func() {
		sess.Remove(receiver.ID)
		_ = channel.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := channel.Receive()
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransportLost, err)
		}

		switch m := msg.(type) {
		case *wire.PacketStatusUpdate:
			receiver.BytesLeftReported = m.BytesLeft
			receiver.LastSeen = time.Now()
			if m.LeavingSession {
				sess.MarkLeaving(receiver.ID)
			}
			respType := wire.ResponseTypeOk
			if sess.WaveComplete {
				respType = wire.ResponseTypeWaveComplete
			}
			out := &wire.PacketStatusUpdateResponse{
				Response:      wire.Response{Status: wire.StatusOk},
				ReceptionRate: sess.ReceptionRate(receiver.ID),
				ResponseType:  respType,
			}
			if err := channel.Send(out); err != nil {
				return err
			}

		case *wire.WaveStatusUpdate:
			bv, err := bitvector.FromBytes(int64(len(sess.Chunks)), m.FileBitVector)
			if err != nil {
				return fmt.Errorf("%w: %v", errs.ErrMalformedFrame, err)
			}
			if err := sess.UpdateBitVector(receiver.ID, bv); err != nil {
				return err
			}
			if m.LeavingSession {
				sess.MarkLeaving(receiver.ID)
			}
			waveDone := sess.WaitWaveAdvance()
			sess.AckWaveStatus(receiver.ID)
			select {
			case <-waveDone:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := channel.Send(&wire.WaveCompleteResponse{
				Response:   wire.Response{Status: wire.StatusOk},
				WaveNumber: sess.Wave,
			}); err != nil {
				return err
			}
			if m.LeavingSession {
				return nil
			}

		default:
			return fmt.Errorf("%w: unexpected message on established channel", errs.ErrMalformedFrame)
		}
	}
}

// admit implements spec.md §4.2 step 6's admission rule: find-or-create the
// session for path, enforce MaxConnectionsPerSession/MaxSessions, and for a
// reconnect, verify the file list hasn't changed (PayloadMismatch).
func (s *Server) admit(path string, channel ControlChannel) (*Session, *Receiver, error) {
	payloadRoot := filepath.Join(s.cfg.RootFolder, filepath.FromSlash(path))
	headers, err := fileset.ComputeFileHeaders(payloadRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("compute file headers for %q: %w", path, err)
	}

	sess, err := s.store.GetOrCreate(path, func(id int) (*Session, error) {
		mtu := s.cfg.Mtu
		if s.cfg.IPv6 {
			mtu -= 20 // IPv6 header is 40 bytes; DeriveBlockSize allows for IPv4's 20
		}
		blockSize, err := fileset.DeriveBlockSize(mtu, true)
		if err != nil {
			return nil, err
		}
		chunks := fileset.BuildChunks(headers, blockSize)
		descs, err := fileset.ComputeDescriptors(payloadRoot, headers, chunks)
		if err != nil {
			return nil, fmt.Errorf("compute descriptors for %q: %w", path, err)
		}
		merkleRoot, err := fileset.ComputeMerkleRoot(fileset.DescriptorHashes(descs))
		if err != nil {
			return nil, fmt.Errorf("compute merkle root for %q: %w", path, err)
		}
		sess := NewSession(id, path,
			s.cfg.MulticastAddress, s.cfg.MulticastStartPort+id,
			payloadRoot, headers, chunks, s.cfg.MaxConnectionsPerSession)
		return sess.WithBlockSizeAndMerkleRoot(int64(blockSize), merkleRoot), nil
	})
	if err != nil {
		if errors.Is(err, ErrNoSessionSlot) {
			return nil, nil, errs.ErrRefused
		}
		return nil, nil, err
	}

	if !fileset.HeadersEqual(sess.Files, headers) {
		return nil, nil, fmt.Errorf("%w: file list changed for %q", errs.ErrPayloadMismatch, path)
	}

	receiver := &Receiver{
		ID:            channel.RemoteAddr(),
		Channel:       channel,
		JoinedSession: true,
		LastSeen:      time.Now(),
	}
	if err := sess.Admit(receiver); err != nil {
		if errors.Is(err, ErrSessionFull) {
			return nil, nil, errs.ErrRefused
		}
		return nil, nil, err
	}
	return sess, receiver, nil
}

// ensureScheduler lazily starts the WaveScheduler for sess exactly once,
// tearing itself down once the session terminates.
func (s *Server) ensureScheduler(ctx context.Context, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[sess.ID]; ok {
		return
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.running[sess.ID] = cancel

	ttl := s.cfg.MulticastTTL
	if ttl <= 0 {
		ttl = 1
	}
	group, err := mcast.JoinSender(sess.MulticastAddress, sess.MulticastPort, s.cfg.InterfaceName, ttl)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "join multicast sender")
		}
		delete(s.running, sess.ID)
		cancel()
		return
	}

	passBytes, err := secure.EncodePassphrase(s.cfg.Passphrase, secure.Encoding(s.cfg.PassphraseEncoding))
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "encode passphrase")
		}
		delete(s.running, sess.ID)
		cancel()
		return
	}
	psk := secure.DerivePSK(passBytes)
	fileListHash := hashHeaders(sess.Files)
	sessionKeys, err := secure.DeriveSessionKeys(psk, fileListHash)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "derive session keys")
		}
		delete(s.running, sess.ID)
		cancel()
		return
	}

	sender := NewMulticastSender(uint16(sess.ID), sess.PayloadRoot, sessionKeys.PayloadKey[:], sessionKeys.IVBase, group, 4)
	sender.Start()

	var fecCtrl *FECController
	if s.cfg.FECEnabled {
		policy := fec.NewAdaptivePolicy(fec.DefaultPolicyConfig())
		fecCtrl = NewFECController(policy, int64(len(sess.Chunks)))
	}

	waveTimeout := s.cfg.ReadTimeout
	if waveTimeout < 2*time.Second {
		waveTimeout = 2 * time.Second
	}
	sched := NewWaveScheduler(sess, sender, fecCtrl, s.cfg.MulticastBurstLength, waveTimeout, s.cfg.IdleSessionGrace, s.logger, s.events)

	go func() {
		sched.Run(schedCtx)
		sender.Stop()
		_ = group.Leave()
		s.store.Remove(sess.Path)
		s.mu.Lock()
		delete(s.running, sess.ID)
		s.mu.Unlock()
		cancel()
	}()
}

func (s *Server) derivePSK() ([32]byte, error) {
	passBytes, err := secure.EncodePassphrase(s.cfg.Passphrase, secure.Encoding(s.cfg.PassphraseEncoding))
	if err != nil {
		return [32]byte{}, err
	}
	return secure.DerivePSK(passBytes), nil
}

func toWireHeaders(headers []fileset.FileHeader) []wire.FileHeader {
	out := make([]wire.FileHeader, len(headers))
	for i, h := range headers {
		out[i] = wire.FileHeader{Name: h.Name, Length: h.Length, Ordinal: int64(h.Ordinal)}
	}
	return out
}

func totalBytes(headers []fileset.FileHeader) int64 {
	var total int64
	for _, h := range headers {
		total += h.Length
	}
	return total
}

func hashHeaders(headers []fileset.FileHeader) []byte {
	h := sha256.New()
	for _, hdr := range headers {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", hdr.Name, hdr.Length, hdr.Ordinal)
	}
	return h.Sum(nil)
}
