package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openbookdex/engine/pkg/domain"
)

var (
	tokA = common.HexToAddress("0x000000000000000000000000000000000000a1")
	tokB = common.HexToAddress("0x000000000000000000000000000000000000b2")
	tokC = common.HexToAddress("0x000000000000000000000000000000000000c3")
)

func sellLeg(base, quote common.Address, price, amount float64) *domain.OrderRecord {
	return &domain.OrderRecord{
		ID:         uuidLike(base, quote, price),
		Order:      domain.Order{Side: domain.Sell, AllowPartialFill: true},
		Side:       domain.Sell,
		BaseToken:  base,
		QuoteToken: quote,
		Price:      price,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}
}

func buyLeg(base, quote common.Address, price, amount float64) *domain.OrderRecord {
	return &domain.OrderRecord{
		ID:         uuidLike(base, quote, price),
		Order:      domain.Order{Side: domain.Buy, AllowPartialFill: true},
		Side:       domain.Buy,
		BaseToken:  base,
		QuoteToken: quote,
		Price:      price,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}
}

func uuidLike(a, b common.Address, p float64) string {
	return a.Hex() + "-" + b.Hex()
}

// A three-way ring A->B->C->A where each leg's rate multiplies to ~1.
func TestExecuteSettlesThreeWayRing(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10)   // offers A, wants B, rate=2
	legBC := sellLeg(tokB, tokC, 0.5, 30) // offers B, wants C, rate=0.5
	legCA := sellLeg(tokC, tokA, 1, 30)   // offers C, wants A, rate=1

	x := New(nil, nil)
	res, err := x.Execute([]*domain.OrderRecord{legAB, legBC, legCA}, DefaultTolerance)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Trades) != 3 {
		t.Errorf("expected 3 trades, got %d", len(res.Trades))
	}
	for _, rec := range []*domain.OrderRecord{legAB, legBC, legCA} {
		if rec.Filled <= 0 {
			t.Errorf("leg %s was not filled", rec.ID)
		}
	}
}

func TestExecuteRejectsOpenRing(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10)
	legCA := sellLeg(tokC, tokA, 1, 30) // offers C, but legAB requests B

	x := New(nil, nil)
	_, err := x.Execute([]*domain.OrderRecord{legAB, legCA}, DefaultTolerance)
	if err == nil {
		t.Fatal("expected an open-ring error")
	}
	if !errors.Is(err, domain.ErrOpenRing) {
		t.Errorf("expected ErrOpenRing, got %v", err)
	}
}

func TestExecuteRejectsImbalancedRates(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10)
	legBA := sellLeg(tokB, tokA, 2, 10) // rate product = 4, not 1

	x := New(nil, nil)
	_, err := x.Execute([]*domain.OrderRecord{legAB, legBA}, DefaultTolerance)
	if err == nil {
		t.Fatal("expected an imbalanced-rates error")
	}
	if !errors.Is(err, domain.ErrImbalancedRates) {
		t.Errorf("expected ErrImbalancedRates, got %v", err)
	}
}

func TestExecuteTwoLegRoundTripFillsBothFully(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10)     // offers 10 A, wants 20 B, rate=2
	legBA := sellLeg(tokB, tokA, 0.5, 20)   // offers 20 B, wants 10 A, rate=0.5

	x := New(nil, nil)
	res, err := x.Execute([]*domain.OrderRecord{legAB, legBA}, DefaultTolerance)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if legAB.Status != domain.StatusFilled || legBA.Status != domain.StatusFilled {
		t.Errorf("expected both legs filled, got AB=%s BA=%s", legAB.Status, legBA.Status)
	}
	if len(res.Trades) != 2 {
		t.Errorf("expected 2 trades, got %d", len(res.Trades))
	}
}

func TestExecuteRejectsAllOrNoneWithoutPartialMutation(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10) // offers 10 A; tighter counterparty liquidity caps fill at 2.5
	legBA := sellLeg(tokB, tokA, 0.5, 5)
	legAB.Order.AllowPartialFill = false

	x := New(nil, nil)
	_, err := x.Execute([]*domain.OrderRecord{legAB, legBA}, DefaultTolerance)
	if err == nil {
		t.Fatal("expected an all-or-none rejection")
	}
	if !errors.Is(err, domain.ErrOverfillAllOrNone) {
		t.Errorf("expected ErrOverfillAllOrNone, got %v", err)
	}
	if legAB.Filled != 0 || legBA.Filled != 0 {
		t.Errorf("rejected batch must not mutate any leg, got AB.Filled=%v BA.Filled=%v", legAB.Filled, legBA.Filled)
	}
}

func TestExecuteRequiresAtLeastTwoOrders(t *testing.T) {
	x := New(nil, nil)
	_, err := x.Execute([]*domain.OrderRecord{sellLeg(tokA, tokB, 1, 1)}, DefaultTolerance)
	if err == nil {
		t.Fatal("expected an error for a single-order batch")
	}
}

type stubPriceUpdater struct{ calls int }

func (s *stubPriceUpdater) RegisterBatchTrade(base, quote common.Address, price float64) []domain.Trade {
	s.calls++
	return nil
}

type stubBatchOracle struct{ calls int }

func (s *stubBatchOracle) RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource) {
	s.calls++
}

func TestExecuteForwardsTradesToCollaborators(t *testing.T) {
	legAB := sellLeg(tokA, tokB, 2, 10)
	legBA := sellLeg(tokB, tokA, 0.5, 20)

	prices := &stubPriceUpdater{}
	oracle := &stubBatchOracle{}
	x := New(prices, oracle)

	if _, err := x.Execute([]*domain.OrderRecord{legAB, legBA}, DefaultTolerance); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if prices.calls != 2 {
		t.Errorf("expected 2 calls to RegisterBatchTrade, got %d", prices.calls)
	}
	if oracle.calls != 2 {
		t.Errorf("expected 2 calls to RegisterTrade, got %d", oracle.calls)
	}
}
