// Package secure implements the PSK encoder/decoder (C2), the ControlChannel
// TLS wrapper with PSK-derived identity binding, and the per-session key
// schedule. It is grounded on the teacher's internal/crypto package (AEAD,
// nonce derivation, Argon2id keystore parameters, HKDF session-key split)
// but salts everything from a shared pass-phrase rather than an ephemeral
// X25519 exchange, since the protocol has no asymmetric handshake.
package secure

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Encoding selects how pass-phrase bytes are produced before key derivation.
// UTF-16LE is the spec's default, kept for compatibility with the source
// protocol; UTF-8 is offered as an alternative per PassphraseEncoderFactory.
type Encoding string

const (
	EncodingUTF16LE Encoding = "utf16le"
	EncodingUTF8    Encoding = "utf8"
)

var ErrInvalidPassphrase = errors.New("invalid passphrase")

// EncodePassphrase renders a pass-phrase as bytes under the configured
// character encoding.
func EncodePassphrase(passphrase string, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingUTF16LE:
		runes := utf16.Encode([]rune(passphrase))
		buf := make([]byte, len(runes)*2)
		for i, r := range runes {
			buf[2*i] = byte(r)
			buf[2*i+1] = byte(r >> 8)
		}
		return buf, nil
	case EncodingUTF8:
		return []byte(passphrase), nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidPassphrase, enc)
	}
}

// Argon2id parameters for the PSK key schedule, kept identical to the
// teacher's keystore (time=3, memory=64MiB, threads=4, 32-byte output).
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// protocolSalt domain-separates the PSK derivation. There is no per-session
// random salt available before the PSK itself is needed to authenticate the
// session (the Challenge is the first thing the PSK protects), so the salt
// is a fixed protocol constant rather than a negotiated value.
var protocolSalt = []byte("mcastxfer-psk-v1")

// DerivePSK turns pass-phrase bytes into a 32-byte symmetric key via
// Argon2id.
func DerivePSK(passphraseBytes []byte) [32]byte {
	key := argon2.IDKey(passphraseBytes, protocolSalt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	var out [32]byte
	copy(out[:], key)
	return out
}

// SessionKeys holds the three keys/IV-base derived per session: a payload
// cipher key for FileSegment data, a control cipher key, and a nonce base.
// The daemons use only PayloadKey and IVBase: the challenge/response
// exchange runs before the file list is known and is sealed under the raw
// PSK, so ControlKey goes unused there.
type SessionKeys struct {
	PayloadKey [32]byte
	ControlKey [32]byte
	IVBase     [12]byte
}

// DeriveSessionKeys expands the PSK via HKDF-SHA256, salted by the SHA-256
// of the canonical FileHeader list so that keys are bound to one payload
// (a reconnect against a different payload yields different keys, not just
// a PayloadMismatch error further up the stack). The 76-byte output split
// mirrors the teacher's DeriveSessionKeys shape (32/32/12).
func DeriveSessionKeys(psk [32]byte, fileListHash []byte) (SessionKeys, error) {
	h := hkdf.New(sha256.New, psk[:], fileListHash, []byte("mcastxfer-session-v1"))
	buf := make([]byte, 76)
	if _, err := io.ReadFull(h, buf); err != nil {
		return SessionKeys{}, fmt.Errorf("hkdf expand: %w", err)
	}
	var sk SessionKeys
	copy(sk.PayloadKey[:], buf[0:32])
	copy(sk.ControlKey[:], buf[32:64])
	copy(sk.IVBase[:], buf[64:76])
	return sk, nil
}
