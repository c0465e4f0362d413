// Package params loads process configuration from environment
// variables, with .env support for local development.
package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// EIP712 carries the typed-data domain parameters used to hash and
// verify signed orders.
type EIP712 struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Matching tunes constants the matching engine leaves configurable.
type Matching struct {
	MarketBuyImpactRate float64
	SyntheticEnabled    bool
	TradeHistoryBound   int
}

// Batch holds the batch tolerance read from DEX_BATCH_TOLERANCE.
// cmd/dexd does not pass it on: the batch executor uses
// batch.DefaultTolerance when a request gives no tolerance.
type Batch struct {
	DefaultTolerance float64
}

// HTTP configures the thin transport surface.
type HTTP struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Logging configures where structured logs are written.
type Logging struct {
	FilePath string // empty keeps logging to stdout only
}

type Config struct {
	EIP712   EIP712
	Matching Matching
	Batch    Batch
	HTTP     HTTP
	Logging  Logging
}

func Default() Config {
	return Config{
		EIP712: EIP712{
			ChainID: big.NewInt(1),
		},
		Matching: Matching{
			MarketBuyImpactRate: 1,
			SyntheticEnabled:    true,
			TradeHistoryBound:   200,
		},
		Batch: Batch{
			DefaultTolerance: 1e-8,
		},
		HTTP: HTTP{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DEX_CHAIN_ID"); v != "" {
		if id, ok := new(big.Int).SetString(v, 10); ok {
			cfg.EIP712.ChainID = id
		}
	}
	if v := os.Getenv("DEX_VERIFYING_CONTRACT"); v != "" {
		cfg.EIP712.VerifyingContract = common.HexToAddress(v)
	}
	if v := os.Getenv("DEX_MARKET_BUY_IMPACT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.MarketBuyImpactRate = f
		}
	}
	if v := os.Getenv("DEX_SYNTHETIC_ENABLED"); v != "" {
		cfg.Matching.SyntheticEnabled = v == "true"
	}
	if v := os.Getenv("DEX_TRADE_HISTORY_BOUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.TradeHistoryBound = n
		}
	}
	if v := os.Getenv("DEX_BATCH_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Batch.DefaultTolerance = f
		}
	}
	if v := os.Getenv("DEX_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("DEX_LOG_FILE"); v != "" {
		cfg.Logging.FilePath = v
	}

	return cfg
}
