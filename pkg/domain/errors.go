package domain

import "errors"

// ErrorKind buckets every failure mode this module produces so callers
// can branch on kind with errors.As instead of string matching.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindSignature  ErrorKind = "signature"
	KindLiquidity  ErrorKind = "liquidity"
	KindBatch      ErrorKind = "batch"
	KindSettlement ErrorKind = "settlement"
)

// CoreError is the typed error wrapper every exported operation returns
// for expected failure modes; programmer-error conditions still panic.
type CoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *CoreError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CoreError) Unwrap() error { return e.Err }

func wrap(kind ErrorKind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// Validation sentinels.
var (
	ErrMissingField  = errors.New("missing field")
	ErrInvalidEnum   = errors.New("invalid enum value")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidAddr   = errors.New("invalid address")
	ErrInvalidStop   = errors.New("invalid stop price")
	ErrMissingPrice  = errors.New("missing price")
)

// Signature sentinels.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMakerMismatch    = errors.New("recovered signer does not match maker")
)

// Liquidity sentinels, surfaced via record status rather than a
// returned error, but kept so callers constructing rejection metadata
// have a canonical message.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPostOnlyWouldTrade    = errors.New("post-only order would trade")
	ErrIOCUnfilled           = errors.New("IOC order left unfilled residue")
)

// Batch sentinels.
var (
	ErrOpenRing          = errors.New("orders do not form a closed token ring")
	ErrImbalancedRates   = errors.New("aggregate conversion rate is not 1 within tolerance")
	ErrNoLiquidity       = errors.New("no offer liquidity on first order")
	ErrOverfillAllOrNone = errors.New("fill would overfill an all-or-nothing order")
)

// Settlement sentinels; captured on Trade.Settlement, never returned.
var (
	ErrSignerMissing  = errors.New("no signer configured for settlement dispatch")
	ErrNonceMismatch  = errors.New("on-chain nonce mismatch")
	ErrContractRevert = errors.New("on-chain settlement reverted")
)

func NewValidationError(err error) *CoreError { return wrap(KindValidation, err) }
func NewSignatureError(err error) *CoreError  { return wrap(KindSignature, err) }
func NewLiquidityError(err error) *CoreError  { return wrap(KindLiquidity, err) }
func NewBatchError(err error) *CoreError      { return wrap(KindBatch, err) }
func NewSettlementError(err error) *CoreError { return wrap(KindSettlement, err) }
