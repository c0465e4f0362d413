package matching

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/openbookdex/engine/pkg/domain"
)

// syntheticCounterpartyID mints a fresh synthetic-liquidity id for one
// fill so repeated synthetic fills against the same pair don't collapse
// onto a single shared counterparty identity.
func syntheticCounterpartyID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "synthetic-liquidity-" + hex.EncodeToString(b[:])
}

// syntheticEligible reports whether a market order may fall back to
// synthetic liquidity: only once real book liquidity is exhausted, and
// only when the pair has some resolvable price, either from the live
// market table or from the oracle's estimate.
func (e *Engine) syntheticEligible(rec *domain.OrderRecord, book *Book) bool {
	if entry, ok := e.prices[domain.PairKey(book.Base, book.Quote)]; ok && entry.Price > 0 {
		return true
	}
	if e.oracle != nil && e.oracle.EstimatePairPrice(book.Base, book.Quote) > 0 {
		return true
	}
	return false
}

// synthesizeFill fills the remainder of a market order against a
// synthetic counterparty at the pair's best-known price: the live
// market price if set, else the oracle's estimate. The resulting trade
// carries Synthetic=true and is excluded from RegisterTrade's
// price-discovery input.
func (e *Engine) synthesizeFill(rec *domain.OrderRecord, book *Book) *domain.Trade {
	price := 0.0
	if entry, ok := e.prices[domain.PairKey(book.Base, book.Quote)]; ok {
		price = entry.Price
	}
	if price <= 0 && e.oracle != nil {
		price = e.oracle.EstimatePairPrice(book.Base, book.Quote)
	}
	if price <= 0 {
		return nil
	}

	amount := rec.Remaining()
	now := e.clock.Now()
	counterparty := syntheticCounterpartyID()
	rec.ApplyFill(domain.Execution{Amount: amount, Price: price, Counterparty: counterparty, Timestamp: now, Synthetic: true})
	rec.SetMeta("syntheticFill", true)

	trade := domain.Trade{
		ID: uuid.NewString(), BaseToken: book.Base, QuoteToken: book.Quote,
		TakerID: rec.ID, MakerID: counterparty, Price: price, Amount: amount,
		Side: rec.Side, Synthetic: true, SyntheticQuote: amount * price,
		Source: domain.SourceSynthetic, Timestamp: now,
	}
	if rec.Side == domain.Buy {
		trade.BuyOrderID, trade.SellOrderID = rec.ID, ""
	} else {
		trade.BuyOrderID, trade.SellOrderID = "", rec.ID
	}
	book.appendTrade(trade)

	e.updateMarketPrice(book.Base, book.Quote, price, domain.SourceSynthetic, true)

	return &trade
}

// applyMarketBuyImpact nudges the pair's market price upward by a
// configurable rate for every base unit a MARKET BUY consumes,
// reflecting slippage pressure. Only resting/incoming MARKET BUY legs
// move the price; MARKET SELL and LIMIT legs do not.
func (e *Engine) applyMarketBuyImpact(rec *domain.OrderRecord, book *Book) []domain.Trade {
	if rec.Order.OrderType != domain.Market || rec.Side != domain.Buy {
		return nil
	}
	if rec.Executions == nil || e.cfg.MarketBuyImpactRate == 0 {
		return nil
	}
	last := rec.Executions[len(rec.Executions)-1]

	entry, ok := e.prices[domain.PairKey(book.Base, book.Quote)]
	base := last.Price
	if ok && entry.Price > 0 {
		base = entry.Price
	}
	impacted := base + e.cfg.MarketBuyImpactRate*last.Amount

	return e.updateMarketPrice(book.Base, book.Quote, impacted, domain.SourceMarketBuyImpact, true)
}
