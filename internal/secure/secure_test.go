package secure

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, 32))
	nonce := DeriveNonce([12]byte{}, 5)
	ct, err := Seal(key[:], nonce[:], []byte("aad"), []byte("hello world"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := Open(key[:], nonce[:], []byte("aad"), ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != "hello world" {
		t.Fatalf("got %q", pt)
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x22}, 32))
	nonce := DeriveNonce([12]byte{}, 1)
	ct, err := Seal(key[:], nonce[:], []byte("aad-a"), []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(key[:], nonce[:], []byte("aad-b"), ct); err == nil {
		t.Fatal("expected authentication failure on mismatched AAD")
	}
}

func TestDeriveNonceDeterministic(t *testing.T) {
	var ivBase [12]byte
	copy(ivBase[:], bytes.Repeat([]byte{0xAA}, 12))
	a := DeriveNonce(ivBase, 7)
	b := DeriveNonce(ivBase, 7)
	if a != b {
		t.Fatal("DeriveNonce is not deterministic")
	}
	c := DeriveSegmentNonce(ivBase, 7)
	if a != c {
		t.Fatal("DeriveSegmentNonce should match DeriveNonce with the same counter")
	}
	d := DeriveControlNonce(ivBase, 0)
	if d == a {
		t.Fatal("control nonce must not collide with segment nonce space")
	}
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	psk := DerivePSK([]byte("correct horse battery staple"))
	keys, err := DeriveSessionKeys(psk, []byte("file-list-hash"))
	if err != nil {
		t.Fatalf("DeriveSessionKeys: %v", err)
	}

	nonce, challengeKey, err := NewChallenge(keys.ControlKey)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}

	gotNonce, err := OpenChallenge(keys.ControlKey, challengeKey)
	if err != nil {
		t.Fatalf("OpenChallenge: %v", err)
	}
	if gotNonce != nonce {
		t.Fatal("recovered nonce does not match drawn nonce")
	}

	resp, err := SealChallengeResponse(keys.ControlKey)
	if err != nil {
		t.Fatalf("SealChallengeResponse: %v", err)
	}
	if !VerifyChallengeResponse(keys.ControlKey, resp) {
		t.Fatal("server failed to verify a correctly derived challenge response")
	}
}

func TestChallengeResponseFailsOnWrongPassphrase(t *testing.T) {
	serverPSK := DerivePSK([]byte("foo123"))
	clientPSK := DerivePSK([]byte("wrong-passphrase"))
	serverKeys, _ := DeriveSessionKeys(serverPSK, []byte("manifest"))
	clientKeys, _ := DeriveSessionKeys(clientPSK, []byte("manifest"))

	_, challengeKey, err := NewChallenge(serverKeys.ControlKey)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}

	// Client with the wrong PSK fails to even open the challenge.
	if _, err := OpenChallenge(clientKeys.ControlKey, challengeKey); err == nil {
		t.Fatal("expected OpenChallenge to fail with mismatched PSK")
	}

	// Even if it proceeded, its response would not verify against the
	// server's control key.
	resp, _ := SealChallengeResponse(clientKeys.ControlKey)
	if VerifyChallengeResponse(serverKeys.ControlKey, resp) {
		t.Fatal("server must not accept a response sealed under the wrong key")
	}
}

func TestDeriveIdentityDependsOnNonce(t *testing.T) {
	var n1, n2 [32]byte
	copy(n1[:], bytes.Repeat([]byte{1}, 32))
	copy(n2[:], bytes.Repeat([]byte{2}, 32))
	k1 := DeriveIdentity(n1)
	k2 := DeriveIdentity(n2)
	if bytes.Equal(k1.Public().(ed25519.PublicKey), k2.Public().(ed25519.PublicKey)) {
		t.Fatal("distinct nonces must yield distinct identities")
	}
	k1again := DeriveIdentity(n1)
	if !bytes.Equal(k1.Public().(ed25519.PublicKey), k1again.Public().(ed25519.PublicKey)) {
		t.Fatal("DeriveIdentity must be deterministic for the same nonce")
	}
}
