package matching

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openbookdex/engine/pkg/domain"
)

type stubOracle struct {
	estimate float64
	trades   int
}

func (s *stubOracle) RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource) {
	s.trades++
}

func (s *stubOracle) EstimatePairPrice(base, quote common.Address) float64 {
	return s.estimate
}

var (
	baseTok  = common.HexToAddress("0x0000000000000000000000000000000000000a")
	quoteTok = common.HexToAddress("0x0000000000000000000000000000000000000b")
)

func newTestEngine() *Engine {
	return New(&stubOracle{estimate: 10}, nil, DefaultConfig())
}

func newRecord(side domain.Side, orderType domain.OrderType, price, amount float64) *domain.OrderRecord {
	return &domain.OrderRecord{
		Order:     domain.Order{Side: side, OrderType: orderType, TimeInForce: domain.GTC, AllowPartialFill: true},
		Side:      side,
		Price:     price,
		Amount:    amount,
		BaseToken: baseTok, QuoteToken: quoteTok,
		CreatedAt: time.Now(),
	}
}

func TestLimitOrdersMatchAtMakerPrice(t *testing.T) {
	e := newTestEngine()

	sell := newRecord(domain.Sell, domain.Limit, 10, 5)
	if _, err := e.AddOrder(sell); err != nil {
		t.Fatalf("add sell: %v", err)
	}

	buy := newRecord(domain.Buy, domain.Limit, 12, 5)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) == 0 {
		t.Fatalf("expected at least one trade")
	}
	if trades[0].Price != 10 {
		t.Errorf("trade price = %v, want maker price 10", trades[0].Price)
	}
	if sell.Status != domain.StatusFilled || buy.Status != domain.StatusFilled {
		t.Errorf("expected both orders filled, got sell=%s buy=%s", sell.Status, buy.Status)
	}
}

func TestPriceTimePriority(t *testing.T) {
	e := newTestEngine()

	sellLow := newRecord(domain.Sell, domain.Limit, 10, 3)
	sellHigh := newRecord(domain.Sell, domain.Limit, 11, 3)
	if _, err := e.AddOrder(sellHigh); err != nil {
		t.Fatalf("add sellHigh: %v", err)
	}
	if _, err := e.AddOrder(sellLow); err != nil {
		t.Fatalf("add sellLow: %v", err)
	}

	buy := newRecord(domain.Buy, domain.Limit, 11, 3)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) != 1 || trades[0].MakerID != sellLow.ID {
		t.Errorf("expected the lower-priced resting sell to match first, got trades=%+v", trades)
	}
}

func TestFOKRejectsWhenInsufficientLiquidity(t *testing.T) {
	e := newTestEngine()

	sell := newRecord(domain.Sell, domain.Limit, 10, 2)
	if _, err := e.AddOrder(sell); err != nil {
		t.Fatalf("add sell: %v", err)
	}

	buy := newRecord(domain.Buy, domain.Limit, 10, 5)
	buy.Order.TimeInForce = domain.FOK
	buy.Order.AllowPartialFill = false
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected no trades for a rejected FOK order, got %d", len(trades))
	}
	if buy.Status != domain.StatusRejected {
		t.Errorf("status = %s, want REJECTED", buy.Status)
	}
}

func TestPostOnlyRejectsWhenWouldTrade(t *testing.T) {
	e := newTestEngine()

	sell := newRecord(domain.Sell, domain.Limit, 10, 5)
	if _, err := e.AddOrder(sell); err != nil {
		t.Fatalf("add sell: %v", err)
	}

	buy := newRecord(domain.Buy, domain.Limit, 11, 5)
	buy.Order.TimeInForce = domain.PostOnly
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected no trades for a rejected POST_ONLY order")
	}
	if buy.Status != domain.StatusRejected {
		t.Errorf("status = %s, want REJECTED", buy.Status)
	}
}

func TestStopLossTriggersOnPriceUpdate(t *testing.T) {
	e := newTestEngine()

	stop := newRecord(domain.Sell, domain.StopLoss, 0, 5)
	stop.StopPriceDisplay = 9
	if _, err := e.AddOrder(stop); err != nil {
		t.Fatalf("add stop: %v", err)
	}
	if stop.Status != domain.StatusPending {
		t.Fatalf("stop status = %s, want PENDING before trigger", stop.Status)
	}

	buy := newRecord(domain.Buy, domain.Limit, 9, 5)
	if _, err := e.AddOrder(buy); err != nil {
		t.Fatalf("add buy: %v", err)
	}

	trades := e.UpdateMarketPrice(baseTok, quoteTok, 8)
	if len(trades) == 0 {
		t.Fatalf("expected the stop to trigger and produce a trade")
	}
	if stop.Status != domain.StatusFilled && stop.Status != domain.StatusPartial {
		t.Errorf("stop status after trigger = %s, want FILLED or PARTIAL", stop.Status)
	}
}

func TestCancelIsNoopForTerminalOrder(t *testing.T) {
	e := newTestEngine()
	rec := newRecord(domain.Buy, domain.Limit, 10, 5)
	rec.Status = domain.StatusFilled

	e.Cancel(rec, "too late")
	if rec.Status != domain.StatusFilled {
		t.Errorf("status changed for a terminal order: %s", rec.Status)
	}
}

type frozenClock struct{ at time.Time }

func (f frozenClock) Now() time.Time                         { return f.at }
func (f frozenClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func TestWithClockOverridesTradeTimestamps(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine().WithClock(frozenClock{at: frozen})

	sell := newRecord(domain.Sell, domain.Limit, 10, 5)
	if _, err := e.AddOrder(sell); err != nil {
		t.Fatalf("add sell: %v", err)
	}
	buy := newRecord(domain.Buy, domain.Limit, 10, 5)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) == 0 || !trades[0].Timestamp.Equal(frozen) {
		t.Errorf("expected the trade timestamp to come from the injected clock, got %+v", trades)
	}
}

func TestTradeHistoryBoundIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TradeHistoryBound = 3
	e := New(&stubOracle{estimate: 10}, nil, cfg)

	for i := 0; i < 5; i++ {
		sell := newRecord(domain.Sell, domain.Limit, 10, 1)
		if _, err := e.AddOrder(sell); err != nil {
			t.Fatalf("add sell %d: %v", i, err)
		}
		buy := newRecord(domain.Buy, domain.Limit, 10, 1)
		if _, err := e.AddOrder(buy); err != nil {
			t.Fatalf("add buy %d: %v", i, err)
		}
	}

	snap, ok := e.GetBook(baseTok, quoteTok)
	if !ok {
		t.Fatal("expected a book to exist")
	}
	if len(snap.Trades) != 3 {
		t.Errorf("trade history length = %d, want 3 (bounded by config)", len(snap.Trades))
	}
}

// TestBuyStopTriggersImmediatelyWhenAddedAboveCurrentPrice pins the
// exact numeric case: price at 6.007, a BUY STOP_LOSS with stop=6
// added afterward must fire on entry rather than rest in the book.
func TestBuyStopTriggersImmediatelyWhenAddedAboveCurrentPrice(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(baseTok, quoteTok, 6.007)

	stop := newRecord(domain.Buy, domain.StopLoss, 0, 1)
	stop.StopPriceDisplay = 6
	if _, err := e.AddOrder(stop); err != nil {
		t.Fatalf("add stop: %v", err)
	}

	if stop.Status == domain.StatusPending {
		t.Fatalf("stop status = PENDING, want triggered immediately at entry")
	}
	snap, ok := e.GetBook(baseTok, quoteTok)
	if !ok {
		t.Fatal("expected a book to exist")
	}
	for _, o := range snap.StopLoss {
		if o.ID == stop.ID {
			t.Fatalf("triggered stop still present in the resting stopLoss list")
		}
	}
}

// TestOppositeSideStopDoesNotCascadeOnSyntheticFill covers a BUY stop
// queued at stop=6 while price sits at 5.65 (not triggered), followed
// by a SELL stop at the same threshold, which fires immediately via
// synthetic liquidity without pulling the still-unmet BUY stop along
// with it.
func TestOppositeSideStopDoesNotCascadeOnSyntheticFill(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(baseTok, quoteTok, 5.65)

	buyStop := newRecord(domain.Buy, domain.StopLoss, 0, 1)
	buyStop.StopPriceDisplay = 6
	if _, err := e.AddOrder(buyStop); err != nil {
		t.Fatalf("add buy stop: %v", err)
	}
	if buyStop.Status != domain.StatusPending {
		t.Fatalf("buy stop status = %s, want PENDING (price 5.65 has not reached stop=6)", buyStop.Status)
	}

	sellStop := newRecord(domain.Sell, domain.StopLoss, 0, 1)
	sellStop.StopPriceDisplay = 6
	if _, err := e.AddOrder(sellStop); err != nil {
		t.Fatalf("add sell stop: %v", err)
	}

	if sellStop.Status == domain.StatusPending {
		t.Errorf("sell stop status = PENDING, want triggered immediately (5.65 <= stop 6)")
	}
	if buyStop.Status != domain.StatusPending {
		t.Errorf("buy stop status = %s, want still PENDING: the sell stop's synthetic fill must not cascade into it", buyStop.Status)
	}
}

// TestMarketBuyRestsThenFillsAgainstALaterLimitSell covers an empty
// book: a BUY MARKET order has nothing to match, so it rests on
// marketBuy; a subsequent SELL LIMIT then fills both completely and
// clears both queues.
func TestMarketBuyRestsThenFillsAgainstALaterLimitSell(t *testing.T) {
	e := New(&stubOracle{estimate: 0}, nil, DefaultConfig())

	buy := newRecord(domain.Buy, domain.Market, 0, 5)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades yet, got %+v", trades)
	}
	if buy.Status != domain.StatusPending {
		t.Fatalf("buy status = %s, want PENDING while resting on marketBuy", buy.Status)
	}

	sell := newRecord(domain.Sell, domain.Limit, 100, 5)
	trades, err = e.AddOrder(sell)
	if err != nil {
		t.Fatalf("add sell: %v", err)
	}
	if len(trades) == 0 {
		t.Fatalf("expected the resting market buy to fill against the limit sell")
	}
	if buy.Status != domain.StatusFilled || sell.Status != domain.StatusFilled {
		t.Errorf("expected both orders FILLED, got buy=%s sell=%s", buy.Status, sell.Status)
	}

	snap, ok := e.GetBook(baseTok, quoteTok)
	if !ok {
		t.Fatal("expected a book to exist")
	}
	if len(snap.MarketBuy) != 0 {
		t.Errorf("marketBuy list = %d entries, want empty", len(snap.MarketBuy))
	}
	if len(snap.Sell) != 0 {
		t.Errorf("sell list = %d entries, want empty", len(snap.Sell))
	}
}

// TestMarketBuyImpactMovesPriceFrom100To102 pins the market-buy price
// impact constant: against a resting SELL LIMIT 4@100, a BUY MARKET 2
// fills at the maker price but then nudges the pair's market price up
// from 100 to 102 (impact rate 1 quote-unit per base-unit filled).
func TestMarketBuyImpactMovesPriceFrom100To102(t *testing.T) {
	e := newTestEngine()

	sell := newRecord(domain.Sell, domain.Limit, 100, 4)
	if _, err := e.AddOrder(sell); err != nil {
		t.Fatalf("add sell: %v", err)
	}

	buy := newRecord(domain.Buy, domain.Market, 0, 2)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) == 0 {
		t.Fatalf("expected a fill")
	}

	price, ok := e.MarketPrice(baseTok, quoteTok)
	if !ok {
		t.Fatal("expected a market price entry")
	}
	if price != 102 {
		t.Errorf("market price after impact = %v, want 102", price)
	}

	e.mu.RLock()
	entry := e.prices[domain.PairKey(baseTok, quoteTok)]
	e.mu.RUnlock()
	if entry.PreviousPrice != 100 {
		t.Errorf("previousPrice = %v, want 100", entry.PreviousPrice)
	}
}

// TestStopPairCrossMatchesDirectlyOnSharedTrigger covers two opposite
// STOP_LOSS orders queued at the same threshold with no prior market
// price: a single updateMarketPrice call to the shared stop price
// triggers both, and they cross directly against each other rather
// than each separately hitting synthetic liquidity.
func TestStopPairCrossMatchesDirectlyOnSharedTrigger(t *testing.T) {
	e := New(&stubOracle{estimate: 0}, nil, DefaultConfig())

	buyStop := newRecord(domain.Buy, domain.StopLoss, 0, 2)
	buyStop.StopPriceDisplay = 6
	if _, err := e.AddOrder(buyStop); err != nil {
		t.Fatalf("add buy stop: %v", err)
	}
	if buyStop.Status != domain.StatusPending {
		t.Fatalf("buy stop status = %s, want PENDING (no prior market price)", buyStop.Status)
	}

	sellStop := newRecord(domain.Sell, domain.StopLoss, 0, 2)
	sellStop.StopPriceDisplay = 6
	if _, err := e.AddOrder(sellStop); err != nil {
		t.Fatalf("add sell stop: %v", err)
	}
	if sellStop.Status != domain.StatusPending {
		t.Fatalf("sell stop status = %s, want PENDING (no prior market price)", sellStop.Status)
	}

	trades := e.UpdateMarketPrice(baseTok, quoteTok, 6)

	var crossed *domain.Trade
	for i := range trades {
		if trades[i].BuyOrderID == buyStop.ID && trades[i].SellOrderID == sellStop.ID {
			crossed = &trades[i]
		}
	}
	if crossed == nil {
		t.Fatalf("expected one trade crossing the two stop orders directly, got %+v", trades)
	}
	if buyStop.Status != domain.StatusFilled || sellStop.Status != domain.StatusFilled {
		t.Errorf("expected both stops FILLED, got buy=%s sell=%s", buyStop.Status, sellStop.Status)
	}
}

func TestMarketOrderFallsBackToSyntheticLiquidity(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(baseTok, quoteTok, 10)

	buy := newRecord(domain.Buy, domain.Market, 0, 5)
	trades, err := e.AddOrder(buy)
	if err != nil {
		t.Fatalf("add buy: %v", err)
	}
	if len(trades) == 0 {
		t.Fatalf("expected a synthetic trade")
	}
	if !trades[0].Synthetic {
		t.Errorf("expected synthetic trade, got %+v", trades[0])
	}
	if buy.Status != domain.StatusFilled {
		t.Errorf("status = %s, want FILLED", buy.Status)
	}
}
