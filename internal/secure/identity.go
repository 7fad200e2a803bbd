package secure

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// DeriveIdentity turns the Challenge nonce into a deterministic Ed25519
// identity keypair. Both sides compute this independently: the server from
// the nonce it drew, the receiver from the nonce it recovered by opening the
// Challenge with its own PSK-derived control key. A wrong pass-phrase gives
// the receiver the wrong ControlKey, so it recovers a different nonce (or
// fails to open the Challenge at all) and therefore derives a different
// identity than the server expects — see verifyPeerPublicKey's certificate
// pinning in tls.go.
func DeriveIdentity(nonce [32]byte) ed25519.PrivateKey {
	seed := sha256.Sum256(nonce[:])
	return ed25519.NewKeyFromSeed(seed[:])
}
