package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is the canonical, on-chain-compatible order struct: the 15
// fields EIP-712 hashes, in the declared order. All amount fields are
// exact big integers in token base units; no floating point is used
// here so the digest is bit-identical to the on-chain contract's
// getOrderHash.
type Order struct {
	Maker       common.Address
	TokenGet    common.Address
	AmountGet   *big.Int
	TokenGive   common.Address
	AmountGive  *big.Int
	Nonce       *big.Int
	Expiry      int64 // unix seconds, 0 = no expiry
	OrderType   OrderType
	TimeInForce TimeInForce
	Side        Side
	StopPrice         *big.Int
	MinFillAmount     *big.Int
	AllowPartialFill  bool
	FeeRecipient      common.Address
	FeeAmount         *big.Int
}

var bigZero = big.NewInt(0)

// Validate enforces an order's field-level invariants.
func (o *Order) Validate() error {
	if o.AmountGet == nil || o.AmountGet.Cmp(bigZero) <= 0 {
		return fmt.Errorf("%w: amountGet must be > 0", ErrInvalidAmount)
	}
	if o.AmountGive == nil || o.AmountGive.Cmp(bigZero) <= 0 {
		return fmt.Errorf("%w: amountGive must be > 0", ErrInvalidAmount)
	}
	if o.Side == Sell {
		// SELL: tokenGive = base, tokenGet = quote.
	}
	if (o.OrderType == StopLoss || o.OrderType == StopLimit) && (o.StopPrice == nil || o.StopPrice.Cmp(bigZero) <= 0) {
		return fmt.Errorf("%w: stopPrice must be > 0 for %s orders", ErrInvalidStop, o.OrderType)
	}
	if o.MinFillAmount != nil && o.MinFillAmount.Cmp(o.AmountGive) > 0 {
		return fmt.Errorf("%w: minFillAmount must be <= amountGive", ErrInvalidAmount)
	}
	return nil
}

// EIP712Fields is the declared field ordering for the typed-data
// primary type "Order"; pkg/typeddata depends on this order matching
// exactly.
func (o *Order) EIP712Fields() []interface{} {
	return []interface{}{
		o.Maker, o.TokenGet, o.AmountGet, o.TokenGive, o.AmountGive,
		o.Nonce, big.NewInt(o.Expiry), uint8(o.OrderType), uint8(o.TimeInForce), uint8(o.Side),
		o.StopPrice, o.MinFillAmount, o.AllowPartialFill, o.FeeRecipient, o.FeeAmount,
	}
}
