// Package service implements order lifecycle orchestration,
// wiring the canonicalizer, typed-data codec, matching engine, price
// oracle, batch executor, and settlement dispatcher together.
package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbookdex/engine/pkg/batch"
	"github.com/openbookdex/engine/pkg/canon"
	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/matching"
	"github.com/openbookdex/engine/pkg/settlement"
	"github.com/openbookdex/engine/pkg/typeddata"
)

const stopPriceScale = 18

// CreateRequest is the create() call's input: a canonicalizer draft
// plus the caller's signature and an optional client-chosen id.
type CreateRequest struct {
	Draft     canon.Draft
	Signature []byte
	ID        string
}

// ListFilter narrows List to matching, non-zero fields.
type ListFilter struct {
	BaseToken  *common.Address
	QuoteToken *common.Address
	Trader     *common.Address
	Status     domain.OrderStatus
}

// Service is the process-local orchestration root; one instance per
// running node.
type Service struct {
	mu sync.Mutex

	canon  *canon.Canonicalizer
	engine *matching.Engine
	oracle *batchOracleAdapter
	batch  *batch.Executor
	settle *settlement.Dispatcher
	domain typeddata.Domain
	log    *zap.Logger

	records map[string]*domain.OrderRecord
}

// batchOracleAdapter narrows an oracle.Oracle-shaped collaborator to
// the RegisterTrade surface batch.Oracle expects; kept distinct so
// service doesn't import pkg/oracle directly.
type batchOracleAdapter struct {
	RegisterTradeFn func(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource)
}

func (a *batchOracleAdapter) RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource) {
	a.RegisterTradeFn(base, quote, price, baseAmount, quoteAmount, side, source)
}

type OracleCollaborator interface {
	RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side *domain.Side, source domain.PriceSource)
	EstimatePairPrice(base, quote common.Address) float64
}

func New(c *canon.Canonicalizer, engine *matching.Engine, oracle OracleCollaborator, dom typeddata.Domain, client settlement.OnChainClient, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	adapter := &batchOracleAdapter{RegisterTradeFn: oracle.RegisterTrade}
	return &Service{
		canon:   c,
		engine:  engine,
		oracle:  adapter,
		batch:   batch.New(engine, adapter),
		settle:  settlement.New(client),
		domain:  dom,
		log:     log,
		records: make(map[string]*domain.OrderRecord),
	}
}

func stopPriceToDisplay(p *big.Int) float64 {
	if p == nil || p.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(p)
	scale := new(big.Float).SetFloat64(1e18)
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// Create canonicalizes the draft, verifies its signature, registers it,
// and runs it through the matching engine, dispatching a settlement
// intent for every produced trade.
func (s *Service) Create(req CreateRequest) (*domain.OrderRecord, error) {
	result, err := s.canon.Canonicalize(req.Draft)
	if err != nil {
		return nil, err
	}

	if len(req.Signature) == 0 {
		return nil, domain.NewSignatureError(fmt.Errorf("%w: signature required", domain.ErrInvalidSignature))
	}
	ok, err := typeddata.Verify(s.domain, &result.Order, req.Signature, req.Draft.Maker)
	if err != nil {
		return nil, domain.NewSignatureError(err)
	}
	if !ok {
		return nil, domain.NewSignatureError(domain.ErrMakerMismatch)
	}

	s.mu.Lock()
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return nil, domain.NewValidationError(fmt.Errorf("order id %q already exists", id))
	}

	now := time.Now()
	rec := &domain.OrderRecord{
		ID:                id,
		Order:             result.Order,
		Trader:            req.Draft.Maker,
		BaseToken:         req.Draft.BaseToken,
		QuoteToken:        req.Draft.QuoteToken,
		Side:              req.Draft.Side,
		Price:             result.DisplayPrice,
		Amount:            req.Draft.Amount,
		StopPriceDisplay:  stopPriceToDisplay(result.Order.StopPrice),
		OnchainFillAmount: result.FillAmountOverride,
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	rec.SetMeta("priceSource", string(result.PriceSource))
	s.records[id] = rec
	s.mu.Unlock()

	trades, err := s.engine.AddOrder(rec)
	if err != nil {
		return nil, err
	}

	for i := range trades {
		s.settleTrade(&trades[i], rec)
	}
	rec.SetMeta("trades", trades)

	return rec, nil
}

// settleTrade forwards a produced trade to the settlement dispatcher;
// synthetic trades short-circuit without an on-chain dispatch.
func (s *Service) settleTrade(t *domain.Trade, taker *domain.OrderRecord) {
	if t.Synthetic {
		res := settlement.Synthetic()
		t.Settlement = &res
		return
	}

	s.mu.Lock()
	maker, hasMaker := s.records[t.MakerID]
	s.mu.Unlock()
	if !hasMaker {
		return
	}

	fallback := new(big.Int)
	amt := new(big.Float).SetFloat64(t.Amount)
	scale := new(big.Float).SetFloat64(1e18)
	amt.Mul(amt, scale)
	amt.Int(fallback)
	if fallback.Sign() <= 0 && taker != nil {
		fallback = taker.OnchainFillAmount
	}

	intent := settlement.Intent{
		Trade:           t,
		Order:           &maker.Order,
		OnchainFill:     maker.OnchainFillAmount,
		TradeFillAmount: t.FillAmount,
	}
	res := s.settle.Settle(context.Background(), intent, fallback)
	t.Settlement = &res
}

// Prepare canonicalizes a draft and builds its EIP-712 typed data and
// digest without persisting anything, for a wallet to sign.
func (s *Service) Prepare(d canon.Draft) (*canon.Result, apitypes.TypedData, [32]byte, error) {
	result, err := s.canon.Canonicalize(d)
	if err != nil {
		return nil, apitypes.TypedData{}, [32]byte{}, err
	}
	typed := typeddata.BuildTypedData(s.domain, &result.Order)
	hash, err := typeddata.Hash(s.domain, &result.Order)
	if err != nil {
		return nil, apitypes.TypedData{}, [32]byte{}, domain.NewSignatureError(err)
	}
	return result, typed, hash, nil
}

// Cancel is a no-op for terminal statuses; otherwise delegates to the
// matching engine and transitions the registry record.
func (s *Service) Cancel(id, reason string) (*domain.OrderRecord, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	s.engine.Cancel(rec, reason)
	return rec, nil
}

func (s *Service) Get(id string) (*domain.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns filtered records sorted by (createdAt desc, id asc) so
// repeated calls against an unchanged registry return identical
// ordering even when several records share a timestamp (common for
// synthetic/batch fills).
func (s *Service) List(f ListFilter) []*domain.OrderRecord {
	s.mu.Lock()
	out := make([]*domain.OrderRecord, 0, len(s.records))
	for _, rec := range s.records {
		if f.BaseToken != nil && rec.BaseToken != *f.BaseToken {
			continue
		}
		if f.QuoteToken != nil && rec.QuoteToken != *f.QuoteToken {
			continue
		}
		if f.Trader != nil && rec.Trader != *f.Trader {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) OrderBook(base, quote common.Address) (matching.BookSnapshot, bool) {
	return s.engine.GetBook(base, quote)
}

func (s *Service) RecentTrades(base, quote common.Address, limit int) []domain.Trade {
	return s.engine.RecentTrades(base, quote, limit)
}

func (s *Service) UpdateMarketPrice(base, quote common.Address, price float64) []domain.Trade {
	return s.engine.UpdateMarketPrice(base, quote, price)
}

// ExecuteBatch resolves orderIds against the registry and runs the
// batch settlement validator, forwarding a settlement intent for every
// produced leg.
func (s *Service) ExecuteBatch(orderIds []string, tolerance float64) (*batch.Result, error) {
	s.mu.Lock()
	records := make([]*domain.OrderRecord, 0, len(orderIds))
	for _, id := range orderIds {
		rec, ok := s.records[id]
		if !ok {
			s.mu.Unlock()
			return nil, domain.NewBatchError(fmt.Errorf("unknown order id %q", id))
		}
		records = append(records, rec)
	}
	s.mu.Unlock()

	result, err := s.batch.Execute(records, tolerance)
	if err != nil {
		return nil, err
	}

	for i := range result.Trades {
		t := &result.Trades[i]
		if t.MakerID == t.TakerID {
			continue
		}
		s.mu.Lock()
		taker := s.records[t.TakerID]
		s.mu.Unlock()
		s.settleTrade(t, taker)
	}

	return result, nil
}
