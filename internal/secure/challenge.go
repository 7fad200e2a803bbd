package secure

import (
	"crypto/rand"
	"fmt"
)

// clientMarker is the canonical receiver marker the ChallengeResponse proves
// possession of the PSK over (spec.md §4.2 step 4).
var clientMarker = []byte("mcastxfer-client")

const challengeAAD = "challenge"
const responseAAD = "response"

// NewChallenge draws a fresh 32-byte nonce and seals it under the
// control key, producing the Challenge.challenge_key payload. The returned
// nonce is also the seed for the deterministic TLS identity (Identity).
func NewChallenge(controlKey [32]byte) (nonce [32]byte, challengeKey []byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("draw nonce: %w", err)
	}
	ct, err := Seal(controlKey[:], fixedNonce(0), []byte(challengeAAD), nonce[:])
	if err != nil {
		return nonce, nil, err
	}
	return nonce, ct, nil
}

// OpenChallenge recovers the raw nonce a receiver needs both to answer the
// challenge and to derive its TLS identity (spec.md §4.2 step 3).
func OpenChallenge(controlKey [32]byte, challengeKey []byte) (nonce [32]byte, err error) {
	pt, err := Open(controlKey[:], fixedNonce(0), []byte(challengeAAD), challengeKey)
	if err != nil {
		return nonce, err
	}
	if len(pt) != 32 {
		return nonce, fmt.Errorf("unexpected nonce length %d", len(pt))
	}
	copy(nonce[:], pt)
	return nonce, nil
}

// SealChallengeResponse reseals the canonical client marker under the
// control key: ChallengeResponse.challenge_key.
func SealChallengeResponse(controlKey [32]byte) ([]byte, error) {
	return Seal(controlKey[:], fixedNonce(1), []byte(responseAAD), clientMarker)
}

// VerifyChallengeResponse recomputes the expected response and compares
// byte-for-byte.
func VerifyChallengeResponse(controlKey [32]byte, got []byte) bool {
	want, err := SealChallengeResponse(controlKey)
	if err != nil {
		return false
	}
	if len(want) != len(got) {
		return false
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ got[i]
	}
	return diff == 0
}

// fixedNonce derives a nonce for the one-shot challenge/response exchange
// from a small fixed counter; these two messages are exchanged exactly once
// per connection attempt before SessionKeys.IVBase-based per-segment nonces
// take over, so a small fixed counter space can't repeat within a session.
func fixedNonce(counter uint64) []byte {
	n := DeriveNonce([12]byte{}, counter)
	return n[:]
}
