// ABOUTME: EVM-compatible wallet signature verification (EIP-191 personal_sign)
// ABOUTME: Recovers the secp256k1 signer from the prefixed Keccak-256 digest and compares addresses

package chains

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// evmSignatureLen is r (32) || s (32) || v (1).
const evmSignatureLen = 65

// verifyEVM recovers the public key from an EIP-191 personal_sign signature
// and checks that it derives the claimed address. Wallets disagree on the
// recovery id encoding, so both 0/1 and the legacy 27/28 are accepted.
func verifyEVM(address, message, signature string) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != evmSignatureLen {
		return false
	}
	v := sig[64]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v > 1 {
		return false
	}

	// RecoverCompact wants the recovery flag first: [v+27] || r || s.
	compact := make([]byte, evmSignatureLen)
	compact[0] = v + 27
	copy(compact[1:], sig[:64])
	pubkey, _, err := ecdsa.RecoverCompact(compact, personalSignDigest(message))
	if err != nil {
		return false
	}

	derived := deriveEVMAddress(pubkey)
	return strings.EqualFold(strings.TrimPrefix(address, "0x"), strings.TrimPrefix(derived, "0x"))
}

// personalSignDigest hashes a message the way eth_personal_sign does:
// Keccak-256 over "\x19Ethereum Signed Message:\n" + decimal length + message.
func personalSignDigest(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n"))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write([]byte(message))
	return h.Sum(nil)
}

// deriveEVMAddress derives the 0x-prefixed EIP-55 checksummed address from a
// public key: the last 20 bytes of Keccak-256 over the uncompressed point
// without its 0x04 prefix byte.
func deriveEVMAddress(pubkey *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pubkey.SerializeUncompressed()[1:])
	return ChecksumAddress(hex.EncodeToString(h.Sum(nil)[12:]))
}

// ChecksumAddress applies the EIP-55 mixed-case checksum to a bare or
// 0x-prefixed hex address: a hex letter is uppercased when the matching
// nibble of Keccak-256 over the lowercase address is >= 8. Comparison stays
// case-insensitive; the checksummed form is for display.
func ChecksumAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(addr))
	hash := hex.EncodeToString(h.Sum(nil))
	out := []byte(addr)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

func normalizeEVMAddress(address string) string {
	return "0x" + strings.ToLower(strings.TrimPrefix(address, "0x"))
}
