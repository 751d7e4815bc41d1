// ABOUTME: Solana wallet signature verification (Ed25519 over raw message bytes)
// ABOUTME: The base58 address is itself the 32-byte public key, so no derivation step

package chains

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
)

// verifySolana checks an Ed25519 signature over the raw UTF-8 message bytes.
// Address and signature arrive base58-encoded, never base64: the base58
// alphabet excludes the visually ambiguous 0, O, I, and l glyphs, and that
// encoding choice is part of the external interface contract.
func verifySolana(address, message, signature string) bool {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
