// Package canon implements canonicalization of a user-supplied
// order draft into the on-chain-compatible domain.Order, with no side
// effects beyond the optional nonce-collaborator lookup.
package canon

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/token"
)

// PriceResolver supplies the MARKET price-resolution fallbacks: the
// engine's live market price table and the best opposite resting limit.
type PriceResolver interface {
	MarketPrice(base, quote common.Address) (float64, bool)
	BestOppositeLimit(base, quote common.Address, side domain.Side) (float64, bool)
}

// OracleEstimator is the synthetic fallback of last resort.
type OracleEstimator interface {
	EstimatePairPrice(base, quote common.Address) float64
}

// NonceSource is the on-chain collaborator's getNonce(address).
type NonceSource interface {
	GetNonce(addr common.Address) (*big.Int, error)
}

// OnchainOverrides lets a draft bypass the derived nonce/fee fields
// with caller-supplied values.
type OnchainOverrides struct {
	Nonce        *big.Int
	FeeRecipient *common.Address
	FeeAmount    *big.Int
	FillAmount   *big.Int // top-precedence settlement fillAmount override
}

// Draft is the user-supplied, display-unit order request. Price is
// nil unless the caller supplied an explicit limit price; MarketPrice
// is a MARKET-only override.
type Draft struct {
	Maker       common.Address
	BaseToken   common.Address
	QuoteToken  common.Address
	Side        domain.Side
	OrderType   domain.OrderType
	TimeInForce domain.TimeInForce

	Amount      float64 // base-asset units
	Price       *float64
	MarketPrice *float64

	StopPrice        *float64
	MinFillAmount    *float64 // base units; rescaled to quote units for BUY
	AllowPartialFill bool

	// Expiry accepts either a unix-second integer or an ISO-8601
	// string; both are accepted by the HTTP layer's JSON decoding.
	ExpiryUnix *int64
	ExpiryISO  *string

	Onchain OnchainOverrides
}

// Result is the canonicalizer's output: the canonical order plus the
// display metadata needed by callers (prepare()/create() responses).
type Result struct {
	Order         domain.Order
	PriceSource   domain.PriceSource
	DisplayPrice  float64
	BaseDecimals  uint8
	QuoteDecimals uint8

	// FillAmountOverride carries the draft's onchain.fillAmount override
	// through to settlement; it isn't part of the EIP-712-hashed Order.
	FillAmountOverride *big.Int
}

type Canonicalizer struct {
	Directory token.Directory
	Prices    PriceResolver
	Oracle    OracleEstimator
	Nonces    NonceSource

	nonceCache sync.Map // common.Address -> *big.Int
}

func New(dir token.Directory, prices PriceResolver, oracle OracleEstimator, nonces NonceSource) *Canonicalizer {
	return &Canonicalizer{Directory: dir, Prices: prices, Oracle: oracle, Nonces: nonces}
}

// nonceFor caches the last-seen on-chain nonce per maker so back-to-back
// order creation from the same maker doesn't round-trip to the
// collaborator every time. A caller-supplied nonce (Onchain.Nonce) always
// bypasses this cache.
func (c *Canonicalizer) nonceFor(maker common.Address) (*big.Int, error) {
	if v, ok := c.nonceCache.Load(maker); ok {
		return v.(*big.Int), nil
	}
	n, err := c.Nonces.GetNonce(maker)
	if err != nil {
		return nil, err
	}
	c.nonceCache.Store(maker, n)
	return n, nil
}

// parseUnits scales a display amount by 10^decimals into an exact
// integer, matching the on-chain base-unit representation.
func parseUnits(amount float64, decimals uint8) *big.Int {
	scale := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	v := new(big.Float).SetFloat64(amount)
	v.Mul(v, scale)
	out, _ := v.Int(nil)
	return out
}

func (c *Canonicalizer) Canonicalize(d Draft) (*Result, error) {
	if d.Maker == (common.Address{}) {
		return nil, domain.NewValidationError(fmt.Errorf("%w: maker", domain.ErrMissingField))
	}
	if d.BaseToken == (common.Address{}) || d.QuoteToken == (common.Address{}) {
		return nil, domain.NewValidationError(fmt.Errorf("%w: baseToken/quoteToken", domain.ErrMissingField))
	}

	baseDecimals := token.Decimals(c.Directory, d.BaseToken)
	quoteDecimals := token.Decimals(c.Directory, d.QuoteToken)

	if d.Amount <= 0 {
		return nil, domain.NewValidationError(fmt.Errorf("%w: amount must be > 0", domain.ErrInvalidAmount))
	}
	baseUnits := parseUnits(d.Amount, baseDecimals)
	if baseUnits.Sign() == 0 {
		return nil, domain.NewValidationError(fmt.Errorf("%w: amount rounds to zero base units", domain.ErrInvalidAmount))
	}

	displayPrice, source, err := c.resolvePrice(d)
	if err != nil {
		return nil, err
	}

	priceUnits := parseUnits(displayPrice, quoteDecimals)

	// quoteUnits = baseUnits * priceUnits / 10^baseDecimals
	baseScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseDecimals)), nil)
	quoteUnits := new(big.Int).Mul(baseUnits, priceUnits)
	quoteUnits.Quo(quoteUnits, baseScale)

	order := domain.Order{
		Maker:            d.Maker,
		Side:             d.Side,
		OrderType:        d.OrderType,
		TimeInForce:      d.TimeInForce,
		AllowPartialFill: d.AllowPartialFill,
	}

	if d.Side == domain.Sell {
		order.TokenGive, order.AmountGive = d.BaseToken, baseUnits
		order.TokenGet, order.AmountGet = d.QuoteToken, quoteUnits
	} else {
		order.TokenGive, order.AmountGive = d.QuoteToken, quoteUnits
		order.TokenGet, order.AmountGet = d.BaseToken, baseUnits
	}

	if d.Onchain.Nonce != nil {
		order.Nonce = d.Onchain.Nonce
	} else if c.Nonces != nil {
		n, err := c.nonceFor(d.Maker)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Errorf("resolve nonce: %w", err))
		}
		order.Nonce = n
	} else {
		order.Nonce = big.NewInt(0)
	}

	expiry, err := resolveExpiry(d)
	if err != nil {
		return nil, domain.NewValidationError(err)
	}
	order.Expiry = expiry

	if d.OrderType == domain.StopLoss || d.OrderType == domain.StopLimit {
		if d.StopPrice == nil || *d.StopPrice <= 0 {
			return nil, domain.NewValidationError(fmt.Errorf("%w: stopPrice required for %s", domain.ErrInvalidStop, d.OrderType))
		}
		order.StopPrice = parseUnits(*d.StopPrice, 18)
	} else {
		order.StopPrice = big.NewInt(0)
	}

	order.MinFillAmount = big.NewInt(0)
	if d.MinFillAmount != nil && *d.MinFillAmount > 0 {
		minUnits := parseUnits(*d.MinFillAmount, baseDecimals)
		if d.Side == domain.Buy {
			minUnits = new(big.Int).Mul(minUnits, priceUnits)
			minUnits.Quo(minUnits, baseScale)
		}
		order.MinFillAmount = minUnits
	}
	if order.MinFillAmount.Cmp(order.AmountGive) > 0 {
		return nil, domain.NewValidationError(fmt.Errorf("%w: minFillAmount exceeds amountGive", domain.ErrInvalidAmount))
	}

	if d.Onchain.FeeRecipient != nil {
		order.FeeRecipient = *d.Onchain.FeeRecipient
	}
	order.FeeAmount = big.NewInt(0)
	if d.Onchain.FeeAmount != nil {
		order.FeeAmount = d.Onchain.FeeAmount
	}

	if err := order.Validate(); err != nil {
		return nil, domain.NewValidationError(err)
	}

	return &Result{
		Order:              order,
		PriceSource:        source,
		DisplayPrice:       displayPrice,
		BaseDecimals:       baseDecimals,
		QuoteDecimals:      quoteDecimals,
		FillAmountOverride: d.Onchain.FillAmount,
	}, nil
}

// resolvePrice implements the MARKET precedence chain: explicit
// price, then (MARKET only) override, live market price, best
// opposite limit, synthetic oracle estimate.
func (c *Canonicalizer) resolvePrice(d Draft) (float64, domain.PriceSource, error) {
	if d.Price != nil {
		return *d.Price, domain.SourceInput, nil
	}
	if d.OrderType != domain.Market {
		return 0, "", domain.NewValidationError(fmt.Errorf("%w: price", domain.ErrMissingField))
	}

	if d.MarketPrice != nil {
		return *d.MarketPrice, domain.SourceDerived, nil
	}
	if c.Prices != nil {
		if p, ok := c.Prices.MarketPrice(d.BaseToken, d.QuoteToken); ok && p > 0 {
			return p, domain.SourceMarket, nil
		}
		if p, ok := c.Prices.BestOppositeLimit(d.BaseToken, d.QuoteToken, d.Side); ok && p > 0 {
			return p, domain.SourceOrderBook, nil
		}
	}
	if c.Oracle != nil {
		if p := c.Oracle.EstimatePairPrice(d.BaseToken, d.QuoteToken); p > 0 {
			return p, domain.SourceSynthetic, nil
		}
	}
	return 0, "", domain.NewValidationError(domain.ErrMissingPrice)
}

func resolveExpiry(d Draft) (int64, error) {
	if d.ExpiryUnix != nil {
		return *d.ExpiryUnix, nil
	}
	if d.ExpiryISO != nil && *d.ExpiryISO != "" {
		t, err := time.Parse(time.RFC3339, *d.ExpiryISO)
		if err != nil {
			if unix, perr := strconv.ParseInt(*d.ExpiryISO, 10, 64); perr == nil {
				return unix, nil
			}
			return 0, fmt.Errorf("invalid expiry %q: %w", *d.ExpiryISO, err)
		}
		return t.Unix(), nil
	}
	return 0, nil
}
