// Package api exposes a thin HTTP surface over pkg/service; none of
// the algorithmic work lives here.
package api

// DraftRequest is the JSON shape of a canon.Draft as submitted by a
// client, before EIP-712 hashing.
type DraftRequest struct {
	Maker       string `json:"maker"`
	BaseToken   string `json:"baseToken"`
	QuoteToken  string `json:"quoteToken"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	TimeInForce string `json:"timeInForce,omitempty"`

	Amount      float64  `json:"amount"`
	Price       *float64 `json:"price,omitempty"`
	MarketPrice *float64 `json:"marketPrice,omitempty"`

	StopPrice        *float64 `json:"stopPrice,omitempty"`
	MinFillAmount    *float64 `json:"minFillAmount,omitempty"`
	AllowPartialFill bool     `json:"allowPartialFill"`

	ExpiryUnix *int64  `json:"expiryUnix,omitempty"`
	ExpiryISO  *string `json:"expiry,omitempty"`

	Onchain *OnchainOverridesRequest `json:"onchain,omitempty"`
}

// OnchainOverridesRequest mirrors canon.OnchainOverrides in display
// (string/decimal) JSON form.
type OnchainOverridesRequest struct {
	Nonce        string `json:"nonce,omitempty"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
	FeeAmount    string `json:"feeAmount,omitempty"`
	FillAmount   string `json:"fillAmount,omitempty"`
}

// CreateRequest is POST create's body: a draft plus the caller's
// EIP-712 signature over the canonicalized order and an optional
// client-chosen id.
type CreateRequest struct {
	DraftRequest
	Signature string `json:"signature"`
	ID        string `json:"id,omitempty"`
}

// PrepareResponse mirrors the response shape of the prepare endpoint.
type PrepareResponse struct {
	Trader           string      `json:"trader"`
	BaseToken        string      `json:"baseToken"`
	QuoteToken       string      `json:"quoteToken"`
	Side             string      `json:"side"`
	OrderType        string      `json:"orderType"`
	TimeInForce      string      `json:"timeInForce"`
	Amount           float64     `json:"amount"`
	Price            float64     `json:"price"`
	AllowPartialFill bool        `json:"allowPartialFill"`
	Nonce            string      `json:"nonce"`
	Expiry           int64       `json:"expiry"`
	StopPrice        *float64    `json:"stopPrice,omitempty"`
	MinFillAmount    *float64    `json:"minFillAmount,omitempty"`
	Onchain          interface{} `json:"onchain"`
	TypedData        interface{} `json:"typedData"`
	Hash             string      `json:"hash"`
	Metadata         interface{} `json:"metadata"`
}

// CancelRequest is POST cancel's body.
type CancelRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// MarketPriceRequest is POST marketPrice's body.
type MarketPriceRequest struct {
	BaseToken  string  `json:"baseToken"`
	QuoteToken string  `json:"quoteToken"`
	Price      float64 `json:"price"`
}

// BatchRequest is POST batch's body.
type BatchRequest struct {
	OrderIDs  []string `json:"orderIds"`
	Tolerance float64  `json:"tolerance,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket message types
// ==============================

// WSMessage is the base structure for all WebSocket messages.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to subscribe to channels, e.g.
// ["orderbook:0xbase-0xquote", "trades:0xbase-0xquote"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// OrderBookUpdate is broadcast after a mutating operation touches a
// pair's book.
type OrderBookUpdate struct {
	Type       string      `json:"type"`
	BaseToken  string      `json:"baseToken"`
	QuoteToken string      `json:"quoteToken"`
	Book       interface{} `json:"book"`
}

// TradeUpdate is broadcast for every trade a mutating operation
// produces.
type TradeUpdate struct {
	Type       string      `json:"type"`
	BaseToken  string      `json:"baseToken"`
	QuoteToken string      `json:"quoteToken"`
	Trade      interface{} `json:"trade"`
}
