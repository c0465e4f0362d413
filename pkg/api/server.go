package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openbookdex/engine/pkg/canon"
	"github.com/openbookdex/engine/pkg/domain"
	"github.com/openbookdex/engine/pkg/service"
)

// Server exposes pkg/service over HTTP: REST endpoints for order
// lifecycle management plus a WebSocket feed for book/trade updates.
type Server struct {
	svc    *service.Service
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(svc *service.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, router: mux.NewRouter(), hub: NewHub(), log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders/prepare", s.handlePrepare).Methods("POST")
	api.HandleFunc("/orders", s.handleCreate).Methods("POST")
	api.HandleFunc("/orders", s.handleList).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orderbook", s.handleOrderBook).Methods("GET")
	api.HandleFunc("/trades", s.handleRecentTrades).Methods("GET")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/marketPrice", s.handleMarketPrice).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Draft mapping
// ==============================

func toDraft(r DraftRequest) (canon.Draft, error) {
	side, err := domain.ParseSide(r.Side)
	if err != nil {
		return canon.Draft{}, err
	}
	orderType, err := domain.ParseOrderType(r.OrderType)
	if err != nil {
		return canon.Draft{}, err
	}
	tif, err := domain.ParseTimeInForce(r.TimeInForce)
	if err != nil {
		return canon.Draft{}, err
	}
	if !common.IsHexAddress(r.Maker) || !common.IsHexAddress(r.BaseToken) || !common.IsHexAddress(r.QuoteToken) {
		return canon.Draft{}, domain.NewValidationError(fmt.Errorf("%w: maker/baseToken/quoteToken", domain.ErrInvalidAddr))
	}

	d := canon.Draft{
		Maker:            common.HexToAddress(r.Maker),
		BaseToken:        common.HexToAddress(r.BaseToken),
		QuoteToken:       common.HexToAddress(r.QuoteToken),
		Side:             side,
		OrderType:        orderType,
		TimeInForce:      tif,
		Amount:           r.Amount,
		Price:            r.Price,
		MarketPrice:      r.MarketPrice,
		StopPrice:        r.StopPrice,
		MinFillAmount:    r.MinFillAmount,
		AllowPartialFill: r.AllowPartialFill,
		ExpiryUnix:       r.ExpiryUnix,
		ExpiryISO:        r.ExpiryISO,
	}

	if r.Onchain != nil {
		if r.Onchain.Nonce != "" {
			if n, ok := new(big.Int).SetString(r.Onchain.Nonce, 10); ok {
				d.Onchain.Nonce = n
			}
		}
		if r.Onchain.FeeRecipient != "" && common.IsHexAddress(r.Onchain.FeeRecipient) {
			addr := common.HexToAddress(r.Onchain.FeeRecipient)
			d.Onchain.FeeRecipient = &addr
		}
		if r.Onchain.FeeAmount != "" {
			if a, ok := new(big.Int).SetString(r.Onchain.FeeAmount, 10); ok {
				d.Onchain.FeeAmount = a
			}
		}
		if r.Onchain.FillAmount != "" {
			if a, ok := new(big.Int).SetString(r.Onchain.FillAmount, 10); ok {
				d.Onchain.FillAmount = a
			}
		}
	}

	return d, nil
}

// ==============================
// Handlers
// ==============================

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	draft, err := toDraft(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid draft", err.Error())
		return
	}

	result, typed, hash, err := s.svc.Prepare(draft)
	if err != nil {
		respondError(w, http.StatusBadRequest, "prepare failed", err.Error())
		return
	}

	resp := PrepareResponse{
		Trader: draft.Maker.Hex(), BaseToken: draft.BaseToken.Hex(), QuoteToken: draft.QuoteToken.Hex(),
		Side: draft.Side.String(), OrderType: draft.OrderType.String(), TimeInForce: draft.TimeInForce.String(),
		Amount: draft.Amount, Price: result.DisplayPrice, AllowPartialFill: draft.AllowPartialFill,
		Nonce: result.Order.Nonce.String(), Expiry: result.Order.Expiry,
		TypedData: typed, Hash: fmt.Sprintf("0x%x", hash),
		Metadata: map[string]interface{}{"priceSource": result.PriceSource, "baseDecimals": result.BaseDecimals, "quoteDecimals": result.QuoteDecimals},
	}
	respondJSON(w, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	draft, err := toDraft(req.DraftRequest)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid draft", err.Error())
		return
	}
	sigBytes, err := decodeHex(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err.Error())
		return
	}

	rec, err := s.svc.Create(service.CreateRequest{Draft: draft, Signature: sigBytes, ID: req.ID})
	if err != nil {
		respondError(w, http.StatusBadRequest, "create failed", err.Error())
		return
	}

	s.broadcastBook(rec.BaseToken, rec.QuoteToken)
	respondJSON(w, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	rec, err := s.svc.Cancel(req.ID, req.Reason)
	if err != nil {
		respondError(w, http.StatusBadRequest, "cancel failed", err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	s.broadcastBook(rec.BaseToken, rec.QuoteToken)
	respondJSON(w, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.svc.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f service.ListFilter
	if v := q.Get("baseToken"); v != "" && common.IsHexAddress(v) {
		addr := common.HexToAddress(v)
		f.BaseToken = &addr
	}
	if v := q.Get("quoteToken"); v != "" && common.IsHexAddress(v) {
		addr := common.HexToAddress(v)
		f.QuoteToken = &addr
	}
	if v := q.Get("trader"); v != "" && common.IsHexAddress(v) {
		addr := common.HexToAddress(v)
		f.Trader = &addr
	}
	if v := q.Get("status"); v != "" {
		f.Status = domain.OrderStatus(v)
	}
	respondJSON(w, s.svc.List(f))
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	base, quote, err := parsePair(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair", err.Error())
		return
	}
	book, ok := s.svc.OrderBook(base, quote)
	if !ok {
		respondError(w, http.StatusNotFound, "book not found", "")
		return
	}
	respondJSON(w, book)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	base, quote, err := parsePair(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair", err.Error())
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	respondJSON(w, s.svc.RecentTrades(base, quote, limit))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	result, err := s.svc.ExecuteBatch(req.OrderIDs, req.Tolerance)
	if err != nil {
		respondError(w, http.StatusBadRequest, "batch failed", err.Error())
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleMarketPrice(w http.ResponseWriter, r *http.Request) {
	var req MarketPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.BaseToken) || !common.IsHexAddress(req.QuoteToken) {
		respondError(w, http.StatusBadRequest, "invalid tokens", "")
		return
	}
	base, quote := common.HexToAddress(req.BaseToken), common.HexToAddress(req.QuoteToken)
	trades := s.svc.UpdateMarketPrice(base, quote, req.Price)
	for _, t := range trades {
		s.hub.BroadcastToChannel("trades:"+domain.PairKey(t.BaseToken, t.QuoteToken), TradeUpdate{Type: "trade", Trade: t})
	}
	s.broadcastBook(base, quote)
	respondJSON(w, req.Price)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) broadcastBook(base, quote common.Address) {
	book, ok := s.svc.OrderBook(base, quote)
	if !ok {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+domain.PairKey(base, quote), OrderBookUpdate{
		Type: "orderbook", BaseToken: base.Hex(), QuoteToken: quote.Hex(), Book: book,
	})
}

// ==============================
// Helpers
// ==============================

func parsePair(r *http.Request) (common.Address, common.Address, error) {
	q := r.URL.Query()
	base, quote := q.Get("baseToken"), q.Get("quoteToken")
	if !common.IsHexAddress(base) || !common.IsHexAddress(quote) {
		return common.Address{}, common.Address{}, fmt.Errorf("baseToken/quoteToken must be hex addresses")
	}
	return common.HexToAddress(base), common.HexToAddress(quote), nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
