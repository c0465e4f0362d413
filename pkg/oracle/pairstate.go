package oracle

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/token"
)

// PairState is the dynamic price state for a canonical (sorted-address)
// token pair.
type PairState struct {
	Price           float64 // oriented tokenA -> tokenB
	BaselinePrice   float64
	LiquidityScore  float64
	LastUpdatedAt   time.Time
	LastSource      domain.PriceSource
	LastSide        *domain.Side
	hasDynamic      bool
}

// Oracle owns the unit-value memoization and the per-pair dynamic
// price table; it is a single process-local value, not a package
// global.
type Oracle struct {
	mu     sync.Mutex
	uv     *UnitValues
	pairs  map[string]*PairState
	clock  func() time.Time
}

func New(dir token.Directory) *Oracle {
	return &Oracle{
		uv:    NewUnitValues(dir),
		pairs: make(map[string]*PairState),
		clock: time.Now,
	}
}

// canonicalKey sorts the pair by address so a pair and its inverse
// share one PairState.
func canonicalKey(a, b common.Address) (key string, forward bool) {
	ka, kb := token.Key(a), token.Key(b)
	if ka <= kb {
		return ka + "|" + kb, true
	}
	return kb + "|" + ka, false
}

func (o *Oracle) state(a, b common.Address) (*PairState, bool) {
	key, forward := canonicalKey(a, b)
	st, ok := o.pairs[key]
	if !ok {
		st = &PairState{}
		uvA, uvB := o.uv.Value(sortedLow(a, b)), o.uv.Value(sortedHigh(a, b))
		if uvB == 0 {
			uvB = uvMin
		}
		st.BaselinePrice = clamp(uvA/uvB, uvMin, uvMax)
		o.pairs[key] = st
	}
	return st, forward
}

func sortedLow(a, b common.Address) common.Address {
	if token.Key(a) <= token.Key(b) {
		return a
	}
	return b
}

func sortedHigh(a, b common.Address) common.Address {
	if token.Key(a) <= token.Key(b) {
		return b
	}
	return a
}

// RegisterTrade updates the pair's dynamic price following the
// volume-weighting and directional-nudge rules.
func (o *Oracle) RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, forward := o.stateForTrade(base, quote)

	var pPrime float64
	if forward {
		pPrime = price
	} else {
		if price == 0 {
			pPrime = 0
		} else {
			pPrime = 1 / price
		}
	}

	current := st.Price
	if !st.hasDynamic {
		current = st.BaselinePrice
	}

	volume := quoteAmount
	if volume <= 0 {
		volume = baseAmount * price
	}

	var weight float64
	if volume <= 0 {
		weight = 0.05
	} else {
		weight = clamp(volume/(st.LiquidityScore+volume), 0.05, 0.85)
	}

	newPrice := current + (pPrime-current)*weight

	if side != nil {
		dir := -1.0
		if (forward && *side == domain.Buy) || (!forward && *side == domain.Sell) {
			dir = 1.0
		}
		impact := dir * minF(0.25, weight*0.1)
		newPrice = clamp(newPrice*(1+impact), uvMin, uvMax)
	}

	st.Price = newPrice
	st.hasDynamic = true
	st.LiquidityScore = 0.85*st.LiquidityScore + volume
	st.LastUpdatedAt = o.clock()
	st.LastSource = source
	st.LastSide = side
}

func (o *Oracle) stateForTrade(base, quote common.Address) (*PairState, bool) {
	return o.state(base, quote)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// DescribePair returns the oriented price (dynamic if present, else
// baseline) from base to quote, the source label, and both unit
// values.
func (o *Oracle) DescribePair(base, quote common.Address) (price float64, source domain.PriceSource, uvBase, uvQuote float64) {
	uvBase = o.uv.Value(base)
	uvQuote = o.uv.Value(quote)

	if token.Key(base) == token.Key(quote) {
		return 1, domain.SourceDerived, uvBase, uvQuote
	}

	o.mu.Lock()
	st, forward := o.state(base, quote)
	o.mu.Unlock()

	p := st.BaselinePrice
	src := domain.SourceDerived
	if st.hasDynamic {
		p = st.Price
		if st.LastSource != "" {
			src = st.LastSource
		} else {
			src = domain.SourceOrderBook
		}
	}
	if !forward {
		if p == 0 {
			p = 0
		} else {
			p = 1 / p
		}
	}
	return p, src, uvBase, uvQuote
}

// EstimatePairPrice returns just the number from DescribePair.
func (o *Oracle) EstimatePairPrice(base, quote common.Address) float64 {
	p, _, _, _ := o.DescribePair(base, quote)
	return p
}

// LastSource reports the most recently registered trade source for the
// pair oriented base->quote, or "" if no dynamic state exists yet.
func (o *Oracle) LastSource(base, quote common.Address) domain.PriceSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, _ := o.state(base, quote)
	if !st.hasDynamic {
		return ""
	}
	return st.LastSource
}

// ClearCache resets unit-value memoization and all pair state.
func (o *Oracle) ClearCache() {
	o.mu.Lock()
	o.pairs = make(map[string]*PairState)
	o.mu.Unlock()
	o.uv.Clear()
}
