package matching

import (
	"github.com/google/uuid"

	"github.com/openbookdex/engine/pkg/domain"
)

func alwaysTrue(*domain.OrderRecord) bool { return true }

// resolveTradePrice picks the maker's price if defined, else the
// taker's, else the pair's market snapshot, else 0.
func (e *Engine) resolveTradePrice(maker, taker *domain.OrderRecord, book *Book) float64 {
	if maker.Price > 0 {
		return maker.Price
	}
	if taker.Price > 0 {
		return taker.Price
	}
	if entry, ok := e.prices[domain.PairKey(book.Base, book.Quote)]; ok {
		return entry.Price
	}
	return 0
}

// matchLoop drains opposite while predicate(head) holds and taker still
// has remaining quantity, applying fills, price updates (which may
// recursively trigger stops), oracle registration, and market-buy
// impact for every leg.
func (e *Engine) matchLoop(taker *domain.OrderRecord, book *Book, opposite *[]*domain.OrderRecord, predicate func(*domain.OrderRecord) bool) []domain.Trade {
	var trades []domain.Trade

	for taker.Remaining() > 0 && len(*opposite) > 0 && predicate((*opposite)[0]) {
		maker := (*opposite)[0]
		amount := minFloat(taker.Remaining(), maker.Remaining())
		if amount <= 0 {
			break
		}
		tradePrice := e.resolveTradePrice(maker, taker, book)
		now := e.clock.Now()

		taker.ApplyFill(domain.Execution{Amount: amount, Price: tradePrice, Counterparty: maker.ID, Timestamp: now})
		maker.ApplyFill(domain.Execution{Amount: amount, Price: tradePrice, Counterparty: taker.ID, Timestamp: now})

		trade := domain.Trade{
			ID: uuid.NewString(), BaseToken: book.Base, QuoteToken: book.Quote,
			TakerID: taker.ID, MakerID: maker.ID, Price: tradePrice, Amount: amount,
			Side: taker.Side, Source: domain.SourceOrderBook, Timestamp: now,
		}
		if taker.Side == domain.Buy {
			trade.BuyOrderID, trade.SellOrderID = taker.ID, maker.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = maker.ID, taker.ID
		}
		book.appendTrade(trade)
		trades = append(trades, trade)

		trades = append(trades, e.updateMarketPrice(book.Base, book.Quote, tradePrice, domain.SourceOrderBook, false)...)

		if e.oracle != nil {
			side := taker.Side
			e.oracle.RegisterTrade(book.Base, book.Quote, tradePrice, amount, amount*tradePrice, &side, domain.SourceOrderBook)
		}

		trades = append(trades, e.applyMarketBuyImpact(taker, book)...)
		trades = append(trades, e.applyMarketBuyImpact(maker, book)...)

		if maker.Remaining() <= 0 {
			*opposite = (*opposite)[1:]
		}
	}
	return trades
}

func sumFillable(list []*domain.OrderRecord, predicate func(*domain.OrderRecord) bool) float64 {
	var total float64
	for _, o := range list {
		if predicate == nil || predicate(o) {
			total += o.Remaining()
		}
	}
	return total
}

const (
	reasonPostOnlyWouldTrade  = "POST_ONLY_WOULD_TRADE"
	reasonInsufficientLiquidity = "INSUFFICIENT_LIQUIDITY"
	reasonIOCUnfilled         = "IOC_UNFILLED"
)

func rejectOrPartial(rec *domain.OrderRecord, reasonKey, reason string) {
	if rec.Filled > 0 {
		rec.Status = domain.StatusPartial
	} else {
		rec.Status = domain.StatusRejected
	}
	rec.SetMeta(reasonKey, reason)
}

// dispatchLimit handles a LIMIT order: resting opposite markets first,
// then price-conditioned matching against the opposite limit queue,
// honoring time-in-force and partial-fill constraints.
func (e *Engine) dispatchLimit(rec *domain.OrderRecord) []domain.Trade {
	book := e.bookFor(rec.BaseToken, rec.QuoteToken)
	var trades []domain.Trade

	restingMarkets := &book.MarketSell
	ownList, oppositeLimits := &book.Buy, &book.Sell
	if rec.Side == domain.Sell {
		restingMarkets = &book.MarketBuy
		ownList, oppositeLimits = &book.Sell, &book.Buy
	}

	// 1. Match unconditionally against resting opposite markets.
	trades = append(trades, e.matchLoop(rec, book, restingMarkets, alwaysTrue)...)
	if rec.Remaining() <= 0 {
		return trades
	}

	// 2. Price condition for the limit-vs-limit leg.
	priceCondition := func(maker *domain.OrderRecord) bool {
		if rec.Side == domain.Buy {
			return maker.Price <= rec.Price
		}
		return maker.Price >= rec.Price
	}

	// 3. POST_ONLY pre-check.
	if rec.Order.TimeInForce == domain.PostOnly {
		if len(*oppositeLimits) > 0 && priceCondition((*oppositeLimits)[0]) {
			rejectOrPartial(rec, "rejectReason", reasonPostOnlyWouldTrade)
			return trades
		}
	}

	// 4. FOK / allowPartialFill=false pre-check.
	if rec.Order.TimeInForce == domain.FOK || !rec.Order.AllowPartialFill {
		fillable := sumFillable(*oppositeLimits, priceCondition)
		if fillable < rec.Remaining() {
			rejectOrPartial(rec, "rejectReason", reasonInsufficientLiquidity)
			return trades
		}
	}

	// 5. Match against the opposite limit list.
	trades = append(trades, e.matchLoop(rec, book, oppositeLimits, priceCondition)...)

	// 6. Residue handling.
	if rec.Remaining() > 0 {
		switch {
		case rec.Order.TimeInForce == domain.IOC:
			rejectOrPartial(rec, "rejectReason", reasonIOCUnfilled)
		case rec.Order.TimeInForce == domain.FOK || !rec.Order.AllowPartialFill:
			rejectOrPartial(rec, "rejectReason", reasonInsufficientLiquidity)
		default:
			*ownList = append(*ownList, rec)
			if rec.Side == domain.Buy {
				sortBuy(*ownList)
			} else {
				sortSell(*ownList)
			}
		}
	}
	return trades
}

// dispatchMarket handles a MARKET order.
func (e *Engine) dispatchMarket(rec *domain.OrderRecord) []domain.Trade {
	book := e.bookFor(rec.BaseToken, rec.QuoteToken)
	var trades []domain.Trade

	restingMarkets, oppositeLimits := &book.MarketSell, &book.Sell
	ownList := &book.MarketBuy
	if rec.Side == domain.Sell {
		restingMarkets, oppositeLimits = &book.MarketBuy, &book.Buy
		ownList = &book.MarketSell
	}

	// 1. Match unconditionally against resting markets, then limits.
	trades = append(trades, e.matchLoop(rec, book, restingMarkets, alwaysTrue)...)
	trades = append(trades, e.matchLoop(rec, book, oppositeLimits, alwaysTrue)...)

	// 2. FOK / allowPartialFill=false pre-check (post-hoc: nothing more
	// is available beyond what step 1 already consumed unconditionally).
	if rec.Remaining() > 0 && (rec.Order.TimeInForce == domain.FOK || !rec.Order.AllowPartialFill) {
		rejectOrPartial(rec, "rejectReason", reasonInsufficientLiquidity)
		return trades
	}

	// 3. Synthetic fill.
	if rec.Remaining() > 0 && e.cfg.SyntheticEnabled && e.syntheticEligible(rec, book) {
		if t := e.synthesizeFill(rec, book); t != nil {
			trades = append(trades, *t)
		}
	}

	// 4. Residue handling.
	if rec.Remaining() > 0 {
		switch rec.Order.TimeInForce {
		case domain.IOC:
			rejectOrPartial(rec, "rejectReason", reasonIOCUnfilled)
		case domain.FOK:
			rejectOrPartial(rec, "rejectReason", reasonInsufficientLiquidity)
		default:
			if !rec.Order.AllowPartialFill {
				rejectOrPartial(rec, "rejectReason", reasonInsufficientLiquidity)
				return trades
			}
			*ownList = append(*ownList, rec)
		}
	}
	return trades
}
