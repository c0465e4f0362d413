package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKeyProducesAValidAddress(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHexRoundTrips(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	signer2, err := FromPrivateKeyHex(privHex)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}
}

func TestSignProducesA65ByteRecoverableSignature(t *testing.T) {
	signer, _ := GenerateKey()
	digest := common.BytesToHash([]byte("order-digest")).Bytes()

	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("signature length = %d, want 65", len(sig))
	}

	pubKeyBytes, err := ethcrypto.Ecrecover(digest, sig)
	if err != nil {
		t.Fatalf("ecrecover: %v", err)
	}
	pubKey, err := ethcrypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		t.Fatalf("unmarshal pubkey: %v", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSignRejectsNon32ByteDigest(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte{1, 2, 3}); err == nil {
		t.Error("expected an error for a short digest")
	}
}
