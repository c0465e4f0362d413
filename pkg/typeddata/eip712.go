// Package typeddata implements EIP-712 hashing and signature
// recovery over the canonical Order struct, bit-identical to the
// on-chain contract's getOrderHash.
package typeddata

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/openbookdex/engine/pkg/domain"
)

// Domain is the EIP-712 domain separator input: {name: "DEX", version:
// "1", chainId, verifyingContract}.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns this deployment's canonical EIP-712 domain.
func DefaultDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              "DEX",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// orderTypes is the single primary type "Order" with its 15 fields in
// their declared order and Solidity ABI types.
var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "tokenGet", Type: "address"},
		{Name: "amountGet", Type: "uint256"},
		{Name: "tokenGive", Type: "address"},
		{Name: "amountGive", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
		{Name: "orderType", Type: "uint8"},
		{Name: "timeInForce", Type: "uint8"},
		{Name: "side", Type: "uint8"},
		{Name: "stopPrice", Type: "uint256"},
		{Name: "minFillAmount", Type: "uint256"},
		{Name: "allowPartialFill", Type: "bool"},
		{Name: "feeRecipient", Type: "address"},
		{Name: "feeAmount", Type: "uint256"},
	},
}

// BuildTypedData assembles the apitypes.TypedData an external wallet
// would sign via eth_signTypedData_v4; also returned from the
// dry-run prepare endpoint.
func BuildTypedData(d Domain, o *domain.Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":            o.Maker.Hex(),
			"tokenGet":         o.TokenGet.Hex(),
			"amountGet":        o.AmountGet.String(),
			"tokenGive":        o.TokenGive.Hex(),
			"amountGive":       o.AmountGive.String(),
			"nonce":            o.Nonce.String(),
			"expiry":           fmt.Sprintf("%d", o.Expiry),
			"orderType":        fmt.Sprintf("%d", uint8(o.OrderType)),
			"timeInForce":      fmt.Sprintf("%d", uint8(o.TimeInForce)),
			"side":             fmt.Sprintf("%d", uint8(o.Side)),
			"stopPrice":        o.StopPrice.String(),
			"minFillAmount":    o.MinFillAmount.String(),
			"allowPartialFill": o.AllowPartialFill,
			"feeRecipient":     o.FeeRecipient.Hex(),
			"feeAmount":        o.FeeAmount.String(),
		},
	}
}

// Hash computes keccak256(0x1901 || domainSeparator ||
// hashStruct(Order)), bit-identical to the on-chain contract's
// getOrderHash.
func Hash(d Domain, o *domain.Order) ([32]byte, error) {
	typedData := BuildTypedData(d, o)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash order: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256Hash(rawData), nil
}

// Recover recovers the signer address from a digest and a 65-byte
// [R||S||V] signature with V in {27,28} (EIP-2 low-s is enforced by
// go-ethereum's Ecrecover).
func Recover(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature length %d", domain.ErrInvalidSignature, len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKeyBytes, err := crypto.Ecrecover(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// Verify recovers the signer of (domain, order, signature) and compares
// it against expectedMaker, case-insensitively (addresses are
// checksum-normalized by common.Address comparison).
func Verify(d Domain, o *domain.Order, signature []byte, expectedMaker common.Address) (bool, error) {
	digest, err := Hash(d, o)
	if err != nil {
		return false, err
	}
	recovered, err := Recover(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == expectedMaker, nil
}
