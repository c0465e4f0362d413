package matching

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/util"
)

// PriceOracle is the reference-price oracle's surface as consumed by
// the matching engine: trade registration and synthetic price
// estimation.
type PriceOracle interface {
	RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource)
	EstimatePairPrice(base, quote common.Address) float64
}

// Config tunes system constants that are deliberately configurable
// rather than hard invariants.
type Config struct {
	MarketBuyImpactRate float64 // quote-units per base-unit filled; default 1
	SyntheticEnabled    bool
	TradeHistoryBound   int // per-pair bounded trade history length; default 200
}

func DefaultConfig() Config {
	return Config{MarketBuyImpactRate: 1, SyntheticEnabled: true, TradeHistoryBound: defaultTradeHistoryBound}
}

// Engine owns every per-pair book, the market price tables, and the
// re-entrancy guard for stop triggering. It is a single process-local
// value, not package-global state.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*Book
	prices map[string]*MarketPriceEntry // oriented PairKey -> entry

	oracle PriceOracle
	log    *zap.Logger
	cfg    Config
	clock  util.Clock

	triggering   bool
	pendingPairs [][2]common.Address
}

func New(oracle PriceOracle, log *zap.Logger, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		books:  make(map[string]*Book),
		prices: make(map[string]*MarketPriceEntry),
		oracle: oracle,
		log:    log,
		cfg:    cfg,
		clock:  util.RealClock{},
	}
}

// WithClock overrides the engine's time source; used by tests that
// need deterministic CreatedAt/UpdatedAt/trade timestamps.
func (e *Engine) WithClock(c util.Clock) *Engine {
	e.clock = c
	return e
}

func (e *Engine) bookFor(base, quote common.Address) *Book {
	key := domain.PairKey(base, quote)
	b, ok := e.books[key]
	if !ok {
		b = newBook(base, quote, e.cfg.TradeHistoryBound)
		e.books[key] = b
	}
	return b
}

// GetBook returns a shallow-copy snapshot of a pair's book; the boolean
// is false when no book has been created for the pair yet.
func (e *Engine) GetBook(base, quote common.Address) (BookSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	key := domain.PairKey(base, quote)
	b, ok := e.books[key]
	if !ok {
		return BookSnapshot{}, false
	}
	return b.snapshot(), true
}

// RecentTrades returns up to limit most-recent trades for a pair.
func (e *Engine) RecentTrades(base, quote common.Address, limit int) []domain.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	key := domain.PairKey(base, quote)
	b, ok := e.books[key]
	if !ok {
		return nil
	}
	n := len(b.Trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Trade, n)
	copy(out, b.Trades[len(b.Trades)-n:])
	return out
}

// MarketPrice returns the oriented market price entry, implementing
// canon.PriceResolver.
func (e *Engine) MarketPrice(base, quote common.Address) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.prices[domain.PairKey(base, quote)]
	if !ok {
		return 0, false
	}
	return entry.Price, true
}

// BestOppositeLimit implements canon.PriceResolver: for an incoming
// side, the best resting limit on the opposite side of the book.
func (e *Engine) BestOppositeLimit(base, quote common.Address, side domain.Side) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[domain.PairKey(base, quote)]
	if !ok {
		return 0, false
	}
	if side == domain.Buy {
		if len(b.Sell) == 0 {
			return 0, false
		}
		return b.Sell[0].Price, true
	}
	if len(b.Buy) == 0 {
		return 0, false
	}
	return b.Buy[0].Price, true
}

// UpdateMarketPrice is the externally callable manual price update; it
// always participates in stop triggering.
func (e *Engine) UpdateMarketPrice(base, quote common.Address, price float64) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateMarketPrice(base, quote, price, domain.SourceInput, false)
}

// updateMarketPrice sets the oriented entry and its inverse, then
// drives the stop-trigger pipeline unless skipStopTrigger is set or the
// engine is already draining a trigger round (re-entrancy guard).
func (e *Engine) updateMarketPrice(base, quote common.Address, price float64, source domain.PriceSource, skipStopTrigger bool) []domain.Trade {
	now := e.clock.Now()
	e.setEntry(base, quote, price, source, now)
	if price > 0 {
		e.setEntry(quote, base, 1/price, source, now)
	}

	if skipStopTrigger {
		return nil
	}
	if e.triggering {
		e.pendingPairs = append(e.pendingPairs, [2]common.Address{base, quote})
		return nil
	}

	e.triggering = true
	defer func() { e.triggering = false }()

	var trades []domain.Trade
	trades = append(trades, e.drainTriggers(base, quote)...)
	for len(e.pendingPairs) > 0 {
		p := e.pendingPairs[0]
		e.pendingPairs = e.pendingPairs[1:]
		trades = append(trades, e.drainTriggers(p[0], p[1])...)
	}
	return trades
}

// RegisterBatchTrade publishes a batch-settled leg's price through the
// same pipeline as an order-book trade, including consequential stop
// triggers.
func (e *Engine) RegisterBatchTrade(base, quote common.Address, price float64) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateMarketPrice(base, quote, price, domain.SourceBatch, false)
}

func (e *Engine) setEntry(base, quote common.Address, price float64, source domain.PriceSource, at time.Time) {
	key := domain.PairKey(base, quote)
	prev := 0.0
	if old, ok := e.prices[key]; ok {
		prev = old.Price
	}
	e.prices[key] = &MarketPriceEntry{Price: price, PreviousPrice: prev, Source: source, UpdatedAt: at}
}

// AddOrder dispatches a new order by type and runs it to completion,
// including any consequential stop triggers, before returning.
func (e *Engine) AddOrder(rec *domain.OrderRecord) ([]domain.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = e.clock.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}

	switch rec.Order.OrderType {
	case domain.Limit:
		return e.dispatchLimit(rec), nil
	case domain.Market:
		return e.dispatchMarket(rec), nil
	case domain.StopLoss, domain.StopLimit:
		return e.dispatchStop(rec)
	default:
		return nil, domain.NewValidationError(fmt.Errorf("%w: orderType %v", domain.ErrInvalidEnum, rec.Order.OrderType))
	}
}

// Cancel removes order from every list of its pair's book and marks it
// CANCELLED; already-terminal records are a no-op.
func (e *Engine) Cancel(rec *domain.OrderRecord, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.Status.IsTerminal() {
		return
	}
	b := e.bookFor(rec.BaseToken, rec.QuoteToken)
	b.Buy, _ = removeByID(b.Buy, rec.ID)
	b.Sell, _ = removeByID(b.Sell, rec.ID)
	b.MarketBuy, _ = removeByID(b.MarketBuy, rec.ID)
	b.MarketSell, _ = removeByID(b.MarketSell, rec.ID)
	b.StopLoss, _ = removeByID(b.StopLoss, rec.ID)
	b.StopLimit, _ = removeByID(b.StopLimit, rec.ID)
	rec.Status = domain.StatusCancelled
	rec.UpdatedAt = e.clock.Now()
	rec.SetMeta("cancelReason", reason)
}

func sortBuy(list []*domain.OrderRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Price != list[j].Price {
			return list[i].Price > list[j].Price
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func sortSell(list []*domain.OrderRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Price != list[j].Price {
			return list[i].Price < list[j].Price
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
