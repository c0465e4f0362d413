// Package matching implements per-pair order books, price-time
// matching, time-in-force and partial-fill semantics, stop triggering,
// and synthetic-liquidity fallback.
package matching

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openbookdex/engine/pkg/domain"
)

// defaultTradeHistoryBound is used for books constructed without an
// explicit Config.TradeHistoryBound (e.g. a zero-value Config in a
// test); production call paths always go through Engine.bookFor, which
// propagates the configured bound.
const defaultTradeHistoryBound = 200

// MarketPriceEntry is the per-oriented-pair market price snapshot,
// maintained alongside its inverse.
type MarketPriceEntry struct {
	Price         float64
	PreviousPrice float64
	Source        domain.PriceSource
	UpdatedAt     time.Time
}

// Book is a per-pair order book: six sequences plus a bounded trade
// history.
type Book struct {
	Base, Quote common.Address

	Buy  []*domain.OrderRecord // limit, descending price / ascending time
	Sell []*domain.OrderRecord // limit, ascending price / ascending time

	MarketBuy  []*domain.OrderRecord // FIFO
	MarketSell []*domain.OrderRecord

	StopLoss  []*domain.OrderRecord // insertion order
	StopLimit []*domain.OrderRecord

	Trades           []domain.Trade // bounded FIFO, most-recent last
	tradeHistoryBound int
}

func newBook(base, quote common.Address, tradeHistoryBound int) *Book {
	if tradeHistoryBound <= 0 {
		tradeHistoryBound = defaultTradeHistoryBound
	}
	return &Book{Base: base, Quote: quote, tradeHistoryBound: tradeHistoryBound}
}

func (b *Book) appendTrade(t domain.Trade) {
	b.Trades = append(b.Trades, t)
	if len(b.Trades) > b.tradeHistoryBound {
		b.Trades = b.Trades[len(b.Trades)-b.tradeHistoryBound:]
	}
}

// BookSnapshot is a read-only shallow copy returned by GetBook, safe to
// hand to callers interleaving with mutating calls.
type BookSnapshot struct {
	Buy, Sell                       []*domain.OrderRecord
	MarketBuy, MarketSell           []*domain.OrderRecord
	StopLoss, StopLimit             []*domain.OrderRecord
	Trades                          []domain.Trade
}

func (b *Book) snapshot() BookSnapshot {
	cp := func(s []*domain.OrderRecord) []*domain.OrderRecord {
		out := make([]*domain.OrderRecord, len(s))
		copy(out, s)
		return out
	}
	trades := make([]domain.Trade, len(b.Trades))
	copy(trades, b.Trades)
	return BookSnapshot{
		Buy: cp(b.Buy), Sell: cp(b.Sell),
		MarketBuy: cp(b.MarketBuy), MarketSell: cp(b.MarketSell),
		StopLoss: cp(b.StopLoss), StopLimit: cp(b.StopLimit),
		Trades: trades,
	}
}

func removeByID(list []*domain.OrderRecord, id string) ([]*domain.OrderRecord, bool) {
	for i, o := range list {
		if o.ID == id {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}
