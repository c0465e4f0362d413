package matching

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openbookdex/engine/pkg/domain"
)

// triggered reports whether a stop order's condition holds against the
// current reference price: a SELL stop fires at or below its threshold,
// a BUY stop fires at or above it.
func triggered(rec *domain.OrderRecord, currentPrice float64) bool {
	if currentPrice <= 0 {
		return false
	}
	if rec.Side == domain.Sell {
		return currentPrice <= rec.StopPriceDisplay
	}
	return currentPrice >= rec.StopPriceDisplay
}

// dispatchStop handles the resting and immediate-trigger behavior for
// STOP_LOSS/STOP_LIMIT orders.
func (e *Engine) dispatchStop(rec *domain.OrderRecord) ([]domain.Trade, error) {
	if rec.StopPriceDisplay <= 0 {
		rec.Status = domain.StatusRejected
		rec.SetMeta("rejectReason", "INVALID_STOP_PRICE")
		return nil, nil
	}

	book := e.bookFor(rec.BaseToken, rec.QuoteToken)
	rec.Status = domain.StatusPending
	if rec.Order.OrderType == domain.StopLoss {
		book.StopLoss = append(book.StopLoss, rec)
	} else {
		book.StopLimit = append(book.StopLimit, rec)
	}

	key := domain.PairKey(book.Base, book.Quote)
	entry, ok := e.prices[key]
	if !ok {
		if e.oracle == nil {
			return nil, nil
		}
		est := e.oracle.EstimatePairPrice(book.Base, book.Quote)
		if est <= 0 {
			return nil, nil
		}
		e.updateMarketPrice(book.Base, book.Quote, est, domain.SourceSynthetic, true)
		entry = e.prices[key]
	}

	if !triggered(rec, entry.Price) {
		return nil, nil
	}

	if rec.Order.OrderType == domain.StopLoss {
		book.StopLoss, _ = removeByID(book.StopLoss, rec.ID)
	} else {
		book.StopLimit, _ = removeByID(book.StopLimit, rec.ID)
	}
	return e.fireStop(rec, book, entry.Price, entry.Source), nil
}

// drainTriggers scans a pair's resting stop orders after a price move
// and fires every one whose condition now holds. It runs for the pair
// addressed directly and is invoked again, by the caller, for each
// queued pair during a single trigger round.
func (e *Engine) drainTriggers(base, quote common.Address) []domain.Trade {
	book := e.bookFor(base, quote)
	key := domain.PairKey(base, quote)
	entry, ok := e.prices[key]
	if !ok || entry.Price <= 0 {
		return nil
	}

	var firing []*domain.OrderRecord
	var keep []*domain.OrderRecord
	for _, o := range book.StopLoss {
		if triggered(o, entry.Price) {
			firing = append(firing, o)
		} else {
			keep = append(keep, o)
		}
	}
	book.StopLoss = keep

	keep = nil
	var firingLimit []*domain.OrderRecord
	for _, o := range book.StopLimit {
		if triggered(o, entry.Price) {
			firingLimit = append(firingLimit, o)
		} else {
			keep = append(keep, o)
		}
	}
	book.StopLimit = keep

	var trades []domain.Trade
	for _, o := range firingLimit {
		trades = append(trades, e.fireStopLimit(o, book, entry.Price, entry.Source)...)
	}
	trades = append(trades, e.fireStopLossBatch(firing, book, entry.Price, entry.Source)...)
	return trades
}

func markTriggered(rec *domain.OrderRecord, price float64, source domain.PriceSource, now time.Time) {
	rec.Status = domain.StatusTriggered
	rec.TriggeredAt = &now
	rec.SetMeta("triggeredPrice", price)
	rec.SetMeta("triggerSource", source)
}

// fireStop dispatches a single newly-triggered stop (used by the
// immediate-trigger path in dispatchStop, where only one order fires).
func (e *Engine) fireStop(rec *domain.OrderRecord, book *Book, price float64, source domain.PriceSource) []domain.Trade {
	if rec.Order.OrderType == domain.StopLimit {
		return e.fireStopLimit(rec, book, price, source)
	}
	return e.fireStopLossBatch([]*domain.OrderRecord{rec}, book, price, source)
}

// fireStopLimit converts a triggered STOP_LIMIT into an ordinary LIMIT
// order and re-enters the limit dispatch path.
func (e *Engine) fireStopLimit(rec *domain.OrderRecord, book *Book, price float64, source domain.PriceSource) []domain.Trade {
	now := e.clock.Now()
	markTriggered(rec, price, source, now)
	rec.Order.OrderType = domain.Limit
	rec.Status = domain.StatusPending
	return e.dispatchLimit(rec)
}

// fireStopLossBatch fires a batch of simultaneously-triggered STOP_LOSS
// orders: they first cross among themselves (maker = the older
// order by creation time), honoring FOK/allowPartialFill (minFillAmount
// is not checked in the cross), before any survivor is converted to a MARKET order and routed through
// the ordinary market dispatch path.
func (e *Engine) fireStopLossBatch(firing []*domain.OrderRecord, book *Book, price float64, source domain.PriceSource) []domain.Trade {
	if len(firing) == 0 {
		return nil
	}
	now := e.clock.Now()
	for _, o := range firing {
		markTriggered(o, price, source, now)
		o.Order.OrderType = domain.Market
	}

	var buys, sells []*domain.OrderRecord
	for _, o := range firing {
		if o.Side == domain.Buy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	byAge := func(list []*domain.OrderRecord) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	byAge(buys)
	byAge(sells)

	var trades []domain.Trade
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buyer, seller := buys[bi], sells[si]
		amount := minFloat(buyer.Remaining(), seller.Remaining())
		if amount <= 0 {
			break
		}
		maker, taker := seller, buyer
		if seller.CreatedAt.After(buyer.CreatedAt) {
			maker, taker = buyer, seller
		}
		if !honorsConstraints(buyer, amount) || !honorsConstraints(seller, amount) {
			break
		}

		buyer.ApplyFill(domain.Execution{Amount: amount, Price: price, Counterparty: seller.ID, Timestamp: now})
		seller.ApplyFill(domain.Execution{Amount: amount, Price: price, Counterparty: buyer.ID, Timestamp: now})

		trade := domain.Trade{
			ID: fmt.Sprintf("stopbatch-%s-%s", buyer.ID, seller.ID), BaseToken: book.Base, QuoteToken: book.Quote,
			BuyOrderID: buyer.ID, SellOrderID: seller.ID, TakerID: taker.ID, MakerID: maker.ID,
			Price: price, Amount: amount, Side: taker.Side, Source: domain.SourceBatch, Timestamp: now,
		}
		book.appendTrade(trade)
		trades = append(trades, trade)
		trades = append(trades, e.updateMarketPrice(book.Base, book.Quote, price, domain.SourceBatch, true)...)
		if e.oracle != nil {
			side := taker.Side
			e.oracle.RegisterTrade(book.Base, book.Quote, price, amount, amount*price, &side, domain.SourceBatch)
		}

		if buyer.Remaining() <= 0 {
			bi++
		}
		if seller.Remaining() <= 0 {
			si++
		}
	}

	for _, o := range firing {
		if o.Remaining() <= 0 {
			continue
		}
		if o.Order.TimeInForce == domain.FOK || !o.Order.AllowPartialFill {
			if o.Filled > 0 {
				continue // partial already applied by the in-batch cross; leave as PARTIAL
			}
		}
		trades = append(trades, e.dispatchMarket(o)...)
	}
	return trades
}

// honorsConstraints reports whether filling amount against rec stays
// within its FOK/allowPartialFill terms mid-batch: an order that must
// fill completely only crosses for its whole remaining amount.
// minFillAmount is not checked here.
func honorsConstraints(rec *domain.OrderRecord, amount float64) bool {
	if (rec.Order.TimeInForce == domain.FOK || !rec.Order.AllowPartialFill) && amount < rec.Remaining() {
		return false
	}
	return true
}
