// ABOUTME: Chain family registry and signature verification dispatch
// ABOUTME: Routes verify calls to the EVM, Solana, or Cosmos strategy by family tag

package chains

import (
	"errors"
	"fmt"
)

// ErrSignatureInvalid is the sentinel callers use when Verify returns false.
// It collapses to the same external "verification failed" response as the
// challenge errors, so a caller cannot tell a bad signature from a stale
// challenge.
var ErrSignatureInvalid = errors.New("signature invalid")

// Family identifies a category of cryptographic address/signature scheme.
// All chains within a family share one verification algorithm.
type Family string

const (
	// FamilyEVM covers Ethereum and EVM-compatible chains (EIP-191 personal_sign).
	FamilyEVM Family = "evm"

	// FamilySolana covers Solana (Ed25519 over raw message bytes).
	FamilySolana Family = "solana"

	// FamilyCosmos covers Cosmos-SDK chains (ADR-36 off-chain sign docs).
	FamilyCosmos Family = "cosmos"
)

// Families returns the supported chain families in stable order.
func Families() []Family {
	return []Family{FamilyEVM, FamilySolana, FamilyCosmos}
}

// ParseFamily validates a chain family tag supplied by an external caller.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyEVM, FamilySolana, FamilyCosmos:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown chain family %q", s)
}

// Verify reports whether signature proves control of address over message.
// Dispatch is a flat switch on the family tag. Every strategy is pure and
// side-effect-free, and converts malformed input (bad encodings, wrong-length
// byte arrays) to false rather than an error, so a crafted bad signature and
// a garbage payload are indistinguishable to the caller.
func Verify(family Family, address, message, signature string) bool {
	switch family {
	case FamilyEVM:
		return verifyEVM(address, message, signature)
	case FamilySolana:
		return verifySolana(address, message, signature)
	case FamilyCosmos:
		return verifyCosmos(address, message, signature)
	default:
		return false
	}
}

// NormalizeAddress canonicalizes an address for storage and comparison.
// EVM addresses are case-insensitive hex, so they normalize to lowercase with
// the 0x prefix; base58 and bech32 addresses are already canonical.
func NormalizeAddress(family Family, address string) string {
	if family == FamilyEVM {
		return normalizeEVMAddress(address)
	}
	return address
}
