// Package batch implements validation and execution of an N-party
// cyclic settlement ring against a set of already-resting order
// records.
package batch

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openbookdex/engine/pkg/domain"
)

const DefaultTolerance = 1e-8

// MarketPriceUpdater is the matching engine's surface consumed to
// publish a batch-sourced price per settled leg; it may itself produce
// further trades if the price move triggers resting stop orders.
type MarketPriceUpdater interface {
	RegisterBatchTrade(base, quote common.Address, price float64) []domain.Trade
}

// Oracle is the reference-price oracle's surface consumed to register a
// batch-sourced trade for unit-value and pair-price discovery.
type Oracle interface {
	RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource)
}

// leg is the per-order derived state used by the ring solver.
type leg struct {
	rec            *domain.OrderRecord
	rate           float64 // SELL: price; BUY: 1/price
	offerToken     common.Address
	requestToken   common.Address
	offerRemaining float64
}

// Result is the batch executor's output.
type Result struct {
	BatchID        string
	OfferAmounts   []float64
	RequestAmounts []float64
	Trades         []domain.Trade
	Orders         []*domain.OrderRecord
}

// Executor runs Execute with its engine/oracle collaborators wired in;
// both are optional (nil skips the corresponding side effect).
type Executor struct {
	Prices MarketPriceUpdater
	Oracle Oracle
}

func New(prices MarketPriceUpdater, oracle Oracle) *Executor {
	return &Executor{Prices: prices, Oracle: oracle}
}

// Execute validates the ring formed by records (closure, minimum size,
// aggregate-rate consistency) and, if valid, fills every leg at the
// maximum volume the tightest constraint allows.
func (x *Executor) Execute(records []*domain.OrderRecord, tolerance float64) (*Result, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if len(records) < 2 {
		return nil, domain.NewBatchError(fmt.Errorf("%w: need at least 2 orders", domain.ErrOpenRing))
	}

	legs := make([]leg, len(records))
	for i, rec := range records {
		l := leg{rec: rec}
		if rec.Side == domain.Sell {
			l.rate = rec.Price
			l.offerToken, l.requestToken = rec.BaseToken, rec.QuoteToken
			l.offerRemaining = rec.Remaining()
		} else {
			if rec.Price == 0 {
				return nil, domain.NewBatchError(fmt.Errorf("%w: order %s has no resolved price", domain.ErrOpenRing, rec.ID))
			}
			l.rate = 1 / rec.Price
			l.offerToken, l.requestToken = rec.QuoteToken, rec.BaseToken
			l.offerRemaining = rec.Remaining() * rec.Price
		}
		legs[i] = l
	}

	n := len(legs)
	for i := 0; i < n; i++ {
		next := legs[(i+1)%n]
		if legs[i].requestToken != next.offerToken {
			return nil, domain.NewBatchError(fmt.Errorf("%w: leg %d requests a token leg %d does not offer", domain.ErrOpenRing, i, (i+1)%n))
		}
	}

	product := 1.0
	for _, l := range legs {
		product *= l.rate
	}
	if math.Abs(product-1) > tolerance {
		return nil, domain.NewBatchError(fmt.Errorf("%w: product=%.12f", domain.ErrImbalancedRates, product))
	}

	if legs[0].offerRemaining <= 0 {
		return nil, domain.NewBatchError(fmt.Errorf("%w", domain.ErrNoLiquidity))
	}

	cumulativeRate := 1.0
	maxOffer := legs[0].offerRemaining
	for i := 1; i < n; i++ {
		cumulativeRate *= legs[i-1].rate
		candidate := legs[i].offerRemaining / cumulativeRate
		if candidate < maxOffer {
			maxOffer = candidate
		}
	}

	offer := make([]float64, n)
	request := make([]float64, n)
	offer[0] = maxOffer
	for i := 0; i < n; i++ {
		request[i] = offer[i] * legs[i].rate
		offer[(i+1)%n] = request[i]
	}
	if math.Abs(request[n-1]-offer[0]) > tolerance {
		return nil, domain.NewBatchError(fmt.Errorf("%w: ring did not close", domain.ErrImbalancedRates))
	}

	// Pre-validate every leg's fill amount before mutating anything, so
	// a rejection never leaves a partially-applied batch.
	baseFilled := make([]float64, n)
	for i, l := range legs {
		rec := l.rec
		bf := offer[i]
		if rec.Side == domain.Buy {
			bf = request[i]
		}
		if bf > rec.Remaining()+tolerance {
			return nil, domain.NewBatchError(fmt.Errorf("%w: order %s overfilled", domain.ErrOverfillAllOrNone, rec.ID))
		}
		if !rec.Order.AllowPartialFill && math.Abs(bf-rec.Remaining()) > tolerance {
			return nil, domain.NewBatchError(fmt.Errorf("%w: order %s", domain.ErrOverfillAllOrNone, rec.ID))
		}
		baseFilled[i] = bf
	}

	batchID := uuid.NewString()
	now := time.Now()
	var trades []domain.Trade

	for i, l := range legs {
		rec := l.rec
		counterparty := legs[(i+1)%n].rec.ID
		rec.ApplyFill(domain.Execution{
			Amount: baseFilled[i], Price: rec.Price, Counterparty: counterparty,
			Timestamp: now, BatchID: batchID,
		})

		trade := domain.Trade{
			ID: fmt.Sprintf("%s-%d", batchID, i), BaseToken: rec.BaseToken, QuoteToken: rec.QuoteToken,
			TakerID: rec.ID, MakerID: counterparty, Price: rec.Price, Amount: baseFilled[i],
			Side: rec.Side, BatchID: batchID, Source: domain.SourceBatch, Timestamp: now,
		}
		trades = append(trades, trade)

		if x.Prices != nil {
			trades = append(trades, x.Prices.RegisterBatchTrade(rec.BaseToken, rec.QuoteToken, rec.Price)...)
		}
		if x.Oracle != nil {
			side := rec.Side
			x.Oracle.RegisterTrade(rec.BaseToken, rec.QuoteToken, rec.Price, baseFilled[i], baseFilled[i]*rec.Price, &side, domain.SourceBatch)
		}
	}

	return &Result{
		BatchID: batchID, OfferAmounts: offer, RequestAmounts: request,
		Trades: trades, Orders: records,
	}, nil
}
