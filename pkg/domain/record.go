package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Execution is one fill applied to an OrderRecord.
type Execution struct {
	Amount       float64
	Price        float64
	Counterparty string
	Timestamp    time.Time
	BatchID      string
	Synthetic    bool
}

// SettlementResult is recorded onto a Trade after settlement dispatch
// is invoked; failures never unwind a completed match.
type SettlementResult struct {
	Success bool
	Receipt string
	Error   string
	Reason  string // e.g. "synthetic_liquidity"
}

// Trade is a bounded-history record appended to a pair's order book
// (200 per pair by default).
type Trade struct {
	ID             string
	BaseToken      common.Address
	QuoteToken     common.Address
	BuyOrderID     string
	SellOrderID    string
	TakerID        string
	MakerID        string
	Price          float64
	Amount         float64
	Side           Side // taker side
	Synthetic      bool
	SyntheticQuote float64
	BatchID        string
	Source         PriceSource
	Timestamp      time.Time
	Settlement     *SettlementResult

	// FillAmount is an explicit on-chain fillAmount for this trade,
	// taking precedence over the amount-derived settlement fallback but
	// below an order's own onchain.fillAmount override.
	FillAmount *big.Int
}

// OrderRecord is the order-service's exclusively-owned view of an
// order: the canonical Order plus lifecycle and display state. The
// matching engine holds only non-owning references into book lists.
type OrderRecord struct {
	ID     string
	Order  Order
	Trader common.Address

	BaseToken  common.Address
	QuoteToken common.Address

	// Display fields, human-oriented base units (float64 matches the
	// matching engine's double-precision comparisons; on-chain amounts
	// live in Order.AmountGet/AmountGive).
	Side   Side
	Price  float64 // 0 for unresolved MARKET orders awaiting a source
	Amount float64 // base-asset amount
	Filled float64

	// StopPriceDisplay is the human-unit stop threshold for
	// STOP_LOSS/STOP_LIMIT orders; Order.StopPrice carries the exact
	// on-chain fixed-point integer (scale 1e18).
	StopPriceDisplay float64

	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TriggeredAt *time.Time

	// OnchainFillAmount is the caller-supplied settlement fillAmount
	// override (onchain.fillAmount on the originating draft); nil unless
	// explicitly set.
	OnchainFillAmount *big.Int

	Executions []Execution
	Metadata   map[string]interface{}
}

// Remaining is max(amount - filled, 0).
func (r *OrderRecord) Remaining() float64 {
	rem := r.Amount - r.Filled
	if rem < 0 {
		return 0
	}
	return rem
}

func (r *OrderRecord) SetMeta(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}

// ApplyFill records a fill and recomputes status: filled=0 <=> PENDING,
// 0<filled<amount <=> PARTIAL, filled=amount => FILLED.
func (r *OrderRecord) ApplyFill(exec Execution) {
	r.Filled += exec.Amount
	r.Executions = append(r.Executions, exec)
	r.UpdatedAt = exec.Timestamp
	if r.Filled >= r.Amount {
		r.Status = StatusFilled
	} else if r.Filled > 0 {
		r.Status = StatusPartial
	}
}

// PairKey returns the canonical pair key lower(base)-lower(quote) used
// to index order books.
func PairKey(base, quote common.Address) string {
	return normalizeAddr(base) + "-" + normalizeAddr(quote)
}

func normalizeAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
