package typeddata

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/openbookdex/engine/pkg/domain"
)

func sampleOrder(maker common.Address) *domain.Order {
	return &domain.Order{
		Maker:            maker,
		TokenGet:         common.HexToAddress("0x0000000000000000000000000000000000000a"),
		AmountGet:        big.NewInt(1000),
		TokenGive:        common.HexToAddress("0x0000000000000000000000000000000000000b"),
		AmountGive:       big.NewInt(2000),
		Nonce:            big.NewInt(1),
		Expiry:           0,
		OrderType:        domain.Limit,
		TimeInForce:      domain.GTC,
		Side:             domain.Buy,
		StopPrice:        big.NewInt(0),
		MinFillAmount:    big.NewInt(0),
		AllowPartialFill: true,
		FeeRecipient:     common.Address{},
		FeeAmount:        big.NewInt(0),
	}
}

func TestHashIsDeterministic(t *testing.T) {
	dom := DefaultDomain(big.NewInt(1), common.HexToAddress("0x0000000000000000000000000000000000000c"))
	order := sampleOrder(common.HexToAddress("0x0000000000000000000000000000000000000d"))

	h1, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash is not deterministic: %x != %x", h1, h2)
	}
}

func TestHashChangesWithField(t *testing.T) {
	dom := DefaultDomain(big.NewInt(1), common.HexToAddress("0x0000000000000000000000000000000000000c"))
	order := sampleOrder(common.HexToAddress("0x0000000000000000000000000000000000000d"))

	h1, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	order.Nonce = big.NewInt(2)
	h2, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Error("hash did not change after mutating nonce")
	}
}

// TestHashIsStableForAFullySpecifiedOrder hashes one concrete
// domain/order pair (chainId 31337, every field populated) repeatedly
// and checks that the digest is identical each time and that the domain
// is {DEX, 1}. It does not compare against a known digest value.
func TestHashIsStableForAFullySpecifiedOrder(t *testing.T) {
	dom := DefaultDomain(big.NewInt(31337), common.HexToAddress("0x00000000000000000000000000000000001234"))
	order := &domain.Order{
		Maker:            common.HexToAddress("0x000000000000000000000000000000000000aa"),
		TokenGet:         common.HexToAddress("0x000000000000000000000000000000000000bb"),
		AmountGet:        big.NewInt(50_000_000000),
		TokenGive:        common.HexToAddress("0x000000000000000000000000000000000000cc"),
		AmountGive:       big.NewInt(1_000000000000000000),
		Nonce:            big.NewInt(7),
		Expiry:           1893456000,
		OrderType:        domain.Limit,
		TimeInForce:      domain.GTC,
		Side:             domain.Sell,
		StopPrice:        big.NewInt(0),
		MinFillAmount:    big.NewInt(0),
		AllowPartialFill: true,
		FeeRecipient:     common.HexToAddress("0x000000000000000000000000000000000000dd"),
		FeeAmount:        big.NewInt(1000),
	}

	first, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Hash(dom, order)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if again != first {
			t.Fatalf("digest is not stable across repeated calls: %x != %x", again, first)
		}
	}
	if dom.Name != "DEX" || dom.Version != "1" {
		t.Errorf("domain = {%s %s}, want {DEX 1} for on-chain parity", dom.Name, dom.Version)
	}
}

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	maker := ethcrypto.PubkeyToAddress(key.PublicKey)

	dom := DefaultDomain(big.NewInt(1), common.HexToAddress("0x0000000000000000000000000000000000000c"))
	order := sampleOrder(maker)

	digest, err := Hash(dom, order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27 // Ecrecover-compatible V

	recovered, err := Recover(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != maker {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), maker.Hex())
	}

	ok, err := Verify(dom, order, sig, maker)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("verify returned false for a valid signature")
	}

	other := common.HexToAddress("0x00000000000000000000000000000000000f00")
	ok, err = Verify(dom, order, sig, other)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("verify returned true against the wrong maker")
	}
}

func TestRecoverRejectsShortSignature(t *testing.T) {
	var digest [32]byte
	if _, err := Recover(digest, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
}
