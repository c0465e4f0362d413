// Package settlement implements construction of the contract-order
// view for a matched or batch-settled trade and dispatch to the
// external on-chain collaborator.
package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openbookdex/engine/pkg/domain"
)

// ContractOrder mirrors the on-chain order's field set in the shape the
// on-chain collaborator expects: big-integer amounts, enum indices,
// addresses. AmountGetWord/AmountGiveWord additionally
// carry the fixed-width 256-bit encoding a Solidity ABI call actually
// transmits, since *big.Int itself has no width limit.
type ContractOrder struct {
	Maker            common.Address
	TokenGet         common.Address
	AmountGet        *big.Int
	AmountGetWord    *uint256.Int
	TokenGive        common.Address
	AmountGive       *big.Int
	AmountGiveWord   *uint256.Int
	Nonce            *big.Int
	Expiry           *big.Int
	OrderType        uint8
	TimeInForce      uint8
	Side             uint8
	StopPrice        *big.Int
	MinFillAmount    *big.Int
	AllowPartialFill bool
	FeeRecipient     common.Address
	FeeAmount        *big.Int
}

// toUint256 converts an on-chain amount to its fixed-width ABI encoding.
// A nil or out-of-range input is represented as zero rather than
// propagated as an error. Settle checks only fillAmount for overflow
// (fillAmountOverflowsWord); an out-of-range AmountGet/AmountGive
// becomes a zero word here.
func toUint256(b *big.Int) *uint256.Int {
	if b == nil {
		return new(uint256.Int)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return new(uint256.Int)
	}
	return v
}

func toContractOrder(o *domain.Order) ContractOrder {
	return ContractOrder{
		Maker: o.Maker, TokenGet: o.TokenGet, AmountGet: o.AmountGet,
		AmountGetWord: toUint256(o.AmountGet),
		TokenGive:     o.TokenGive, AmountGive: o.AmountGive,
		AmountGiveWord: toUint256(o.AmountGive),
		Nonce:          o.Nonce,
		Expiry:         big.NewInt(o.Expiry), OrderType: uint8(o.OrderType),
		TimeInForce: uint8(o.TimeInForce), Side: uint8(o.Side),
		StopPrice: o.StopPrice, MinFillAmount: o.MinFillAmount,
		AllowPartialFill: o.AllowPartialFill, FeeRecipient: o.FeeRecipient,
		FeeAmount: o.FeeAmount,
	}
}

// fillAmountOverflowsWord reports whether fillAmount cannot be
// represented as the fixed-width uint256 the on-chain call expects.
func fillAmountOverflowsWord(fillAmount *big.Int) bool {
	_, overflow := uint256.FromBig(fillAmount)
	return overflow
}

// OnChainClient is the consumed on-chain collaborator; only the
// subset this package calls is modeled here.
type OnChainClient interface {
	ExecuteOrder(ctx context.Context, order ContractOrder, signature []byte, fillAmount *big.Int) (receipt string, err error)
}

// Intent bundles everything the dispatcher needs to settle one leg of
// a trade:
// the trade record, the order it was matched against, and any
// caller-supplied on-chain fillAmount override.
type Intent struct {
	Trade           *domain.Trade
	Order           *domain.Order
	Signature       []byte
	OnchainFill     *big.Int // onchain.fillAmount override, highest precedence
	TradeFillAmount *big.Int // trade.fillAmount, if the trade carries an explicit on-chain amount
}

type Dispatcher struct {
	Client OnChainClient
}

func New(client OnChainClient) *Dispatcher {
	return &Dispatcher{Client: client}
}

// resolveFillAmount implements the fill-amount precedence chain:
// onchain.fillAmount -> trade.fillAmount -> fallback. The caller
// supplies fallback, covering the last two tiers: trade.amount scaled
// to base units, or taker.onchain.fillAmount when that is non-positive.
func resolveFillAmount(in Intent, fallback *big.Int) *big.Int {
	if in.OnchainFill != nil {
		return in.OnchainFill
	}
	if in.TradeFillAmount != nil {
		return in.TradeFillAmount
	}
	return fallback
}

// Settle dispatches one leg of a trade to the on-chain collaborator.
// It never returns an error to unwind matching: failures are captured
// onto the returned SettlementResult for the caller to attach to the
// trade.
func (d *Dispatcher) Settle(ctx context.Context, in Intent, fallbackFillAmount *big.Int) domain.SettlementResult {
	if d.Client == nil {
		return domain.SettlementResult{Success: false, Error: domain.ErrSignerMissing.Error()}
	}
	if in.Order == nil {
		return domain.SettlementResult{Success: false, Error: fmt.Errorf("%w: nil order", domain.ErrContractRevert).Error()}
	}

	fillAmount := resolveFillAmount(in, fallbackFillAmount)
	if fillAmount == nil || fillAmount.Sign() <= 0 {
		return domain.SettlementResult{Success: false, Error: "settlement: fillAmount could not be resolved"}
	}
	if fillAmountOverflowsWord(fillAmount) {
		return domain.SettlementResult{Success: false, Error: fmt.Errorf("%w: fillAmount exceeds uint256", domain.ErrContractRevert).Error()}
	}

	contractOrder := toContractOrder(in.Order)
	receipt, err := d.Client.ExecuteOrder(ctx, contractOrder, in.Signature, fillAmount)
	if err != nil {
		return domain.SettlementResult{Success: false, Error: err.Error()}
	}
	return domain.SettlementResult{Success: true, Receipt: receipt}
}

// Synthetic short-circuits settlement for a synthetic-liquidity fill:
// there is no counterparty order to settle against on-chain.
func Synthetic() domain.SettlementResult {
	return domain.SettlementResult{Success: true, Reason: "synthetic_liquidity"}
}
