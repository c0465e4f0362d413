// Command sign-order is a developer utility: it generates a keypair
// (or loads the one given with -key), builds a sample order, signs it via EIP-712, and verifies the
// recovered signer, printing every step for manual inspection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openbookdex/engine/pkg/crypto"
	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/typeddata"
)

func main() {
	keyHex := flag.String("key", "", "reuse an existing hex-encoded maker private key instead of generating one")
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex != "" {
		fmt.Println("Loading existing keypair...")
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	order := &domain.Order{
		Maker:            signer.Address(),
		Side:             domain.Sell,
		OrderType:        domain.Limit,
		TimeInForce:      domain.GTC,
		TokenGive:        common.HexToAddress("0x0b0c000000000000000000000000000000000b"),
		AmountGive:       big.NewInt(1_000000000000000000),
		TokenGet:         common.HexToAddress("0x0510000000000000000000000000000000005e"),
		AmountGet:        big.NewInt(50000_000000),
		Nonce:            big.NewInt(1),
		Expiry:           0,
		StopPrice:        big.NewInt(0),
		MinFillAmount:    big.NewInt(0),
		AllowPartialFill: true,
		FeeAmount:        big.NewInt(0),
	}

	fmt.Println("Order:")
	fmt.Printf("  Maker: %s\n", order.Maker.Hex())
	fmt.Printf("  Side: %s  Type: %s  TIF: %s\n", order.Side, order.OrderType, order.TimeInForce)
	fmt.Printf("  AmountGive: %s  AmountGet: %s\n\n", order.AmountGive.String(), order.AmountGet.String())

	dom := typeddata.DefaultDomain(big.NewInt(1), common.HexToAddress("0x0000000000000000000000000000000000000099"))
	digest, err := typeddata.Hash(dom, order)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}

	sig, err := signer.Sign(digest[:])
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	fmt.Printf("Signature: 0x%x\n\n", sig)

	typed := typeddata.BuildTypedData(dom, order)
	payload, err := json.MarshalIndent(typed, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling typed data: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Typed data:")
	fmt.Println(string(payload))

	ok, err := typeddata.Verify(dom, order, sig, signer.Address())
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("signature INVALID")
		os.Exit(1)
	}
	fmt.Println("signature VALID")
}
