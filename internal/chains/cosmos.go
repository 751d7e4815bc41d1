// ABOUTME: Cosmos-SDK wallet signature verification (ADR-36 off-chain sign docs)
// ABOUTME: Rebuilds the canonical sign doc, hashes it once with SHA-256, verifies secp256k1

package chains

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"
)

// cosmosSignature is the envelope Keplr-compatible wallets return from
// signArbitrary. secp256k1 signatures carry no recovery id, so the public
// key has to travel with the signature.
type cosmosSignature struct {
	PubKey struct {
		Type  string `json:"type"`
		Value string `json:"value"` // base64, 33-byte compressed point
	} `json:"pub_key"`
	Signature string `json:"signature"` // base64, r || s (64 bytes)
}

// signDoc mirrors the ADR-36 off-chain StdSignDoc. Field declaration order is
// the alphabetical key order the canonical JSON requires; encoding/json emits
// struct fields in declaration order.
type signDoc struct {
	AccountNumber string       `json:"account_number"`
	ChainID       string       `json:"chain_id"`
	Fee           signDocFee   `json:"fee"`
	Memo          string       `json:"memo"`
	Msgs          []signDocMsg `json:"msgs"`
	Sequence      string       `json:"sequence"`
}

type signDocFee struct {
	Amount []string `json:"amount"`
	Gas    string   `json:"gas"`
}

type signDocMsg struct {
	Type  string       `json:"type"`
	Value signDocValue `json:"value"`
}

type signDocValue struct {
	Data   string `json:"data"`
	Signer string `json:"signer"`
}

// verifyCosmos checks a secp256k1 signature over the SHA-256 digest of the
// canonical ADR-36 sign doc wrapping message. The doc is hashed exactly once:
// wallets sign sha256(doc), and applying the Bitcoin-style double SHA-256
// here would reject every real wallet signature.
func verifyCosmos(address, message, signature string) bool {
	var env cosmosSignature
	if err := json.Unmarshal([]byte(signature), &env); err != nil {
		return false
	}

	pubBytes, err := base64.StdEncoding.DecodeString(env.PubKey.Value)
	if err != nil || len(pubBytes) != 33 {
		return false
	}
	pubkey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	// The claimed bech32 address must hash-match the supplied key, otherwise
	// a valid signature from any key would authenticate any address.
	if !cosmosAddressMatches(address, pubBytes) {
		return false
	}

	sigBytes, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
		return false
	}

	digest := sha256.Sum256(adr36SignDoc(address, message))
	return ecdsa.NewSignature(&r, &s).Verify(digest[:], pubkey)
}

// adr36SignDoc builds the canonical JSON sign doc: sorted keys, no extra
// whitespace, empty chain id, zeroed account number, sequence, and fee, and a
// single sign/MsgSignData message whose data is the base64-encoded challenge.
func adr36SignDoc(signer, message string) []byte {
	doc := signDoc{
		AccountNumber: "0",
		ChainID:       "",
		Fee:           signDocFee{Amount: []string{}, Gas: "0"},
		Memo:          "",
		Msgs: []signDocMsg{{
			Type: "sign/MsgSignData",
			Value: signDocValue{
				Data:   base64.StdEncoding.EncodeToString([]byte(message)),
				Signer: signer,
			},
		}},
		Sequence: "0",
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return out
}

// cosmosAddressMatches reports whether the bech32 address payload equals
// ripemd160(sha256(pubkey)), the Cosmos account address derivation. The
// human-readable prefix is taken from the address itself: the same key pair
// is valid across cosmos1/osmo1/juno1 and the sign doc embeds the claimed
// form as signer, so pinning one prefix here would be wrong.
func cosmosAddressMatches(address string, pubkey []byte) bool {
	_, data5, err := bech32.Decode(address)
	if err != nil {
		return false
	}
	accountID, err := bech32.ConvertBits(data5, 5, 8, false)
	if err != nil || len(accountID) != ripemd160.Size {
		return false
	}

	sha := sha256.Sum256(pubkey)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return bytes.Equal(accountID, ripe.Sum(nil))
}
