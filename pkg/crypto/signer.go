package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a maker's secp256k1 keypair for signing EIP-712 order
// digests; it never touches an order's fields directly, only the
// 32-byte hash typeddata.Hash produces.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a fresh random keypair, for local testing and
// the sign-order developer utility.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{privateKey: privateKey, address: crypto.PubkeyToAddress(privateKey.PublicKey)}, nil
}

// FromPrivateKeyHex loads a Signer from a hex-encoded private key
// ("0x..." or bare hex), so a maker can reuse the same address across
// runs instead of generating a new one each time.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{privateKey: privateKey, address: crypto.PubkeyToAddress(privateKey.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex, without a 0x prefix.
// Callers must keep this out of logs; it's only surfaced by the
// sign-order developer utility.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest, returning a 65-byte [R||S||V] signature
// in the shape typeddata.Verify/Recover expect (V still in the raw
// 0/1 recovery-id form; callers add the Ethereum +27 offset).
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}
