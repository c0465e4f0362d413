// Command dexd runs the off-chain order-management core behind the
// thin HTTP surface of pkg/api: order canonicalization, matching,
// stop triggering, and batch settlement, backed by an in-memory
// registry with a process-restart boundary (no durable storage).
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"go.uber.org/zap"

	"github.com/openbookdex/engine/params"
	"github.com/openbookdex/engine/pkg/api"
	"github.com/openbookdex/engine/pkg/canon"
	"github.com/openbookdex/engine/pkg/matching"
	"github.com/openbookdex/engine/pkg/oracle"
	"github.com/openbookdex/engine/pkg/service"
	"github.com/openbookdex/engine/pkg/settlement"
	"github.com/openbookdex/engine/pkg/token"
	"github.com/openbookdex/engine/pkg/typeddata"
	"github.com/openbookdex/engine/pkg/util"
)

// noopOnChainClient logs settlement intents instead of dispatching
// them; a real deployment supplies its own settlement.OnChainClient
// backed by an RPC-connected contract binding. Dispatching the actual
// on-chain transaction is outside this core's purpose.
type noopOnChainClient struct{ log *zap.Logger }

func (c *noopOnChainClient) ExecuteOrder(ctx context.Context, order settlement.ContractOrder, signature []byte, fillAmount *big.Int) (string, error) {
	c.log.Warn("no on-chain collaborator configured; settlement dispatch skipped",
		zap.String("maker", order.Maker.Hex()), zap.String("fillAmount", fillAmount.String()))
	return "", fmt.Errorf("no on-chain collaborator configured")
}

func main() {
	cfg := params.LoadFromEnv("")

	var log *zap.Logger
	var err error
	if cfg.Logging.FilePath != "" {
		log, err = util.NewLoggerWithFile(cfg.Logging.FilePath)
	} else {
		log, err = util.NewLogger()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dir := token.NewMemoryDirectory()
	priceOracle := oracle.New(dir)
	engine := matching.New(priceOracle, log, matching.Config{
		MarketBuyImpactRate: cfg.Matching.MarketBuyImpactRate,
		SyntheticEnabled:    cfg.Matching.SyntheticEnabled,
		TradeHistoryBound:   cfg.Matching.TradeHistoryBound,
	})
	canonicalizer := canon.New(dir, engine, priceOracle, nil)
	dom := typeddata.DefaultDomain(cfg.EIP712.ChainID, cfg.EIP712.VerifyingContract)
	client := &noopOnChainClient{log: log}

	svc := service.New(canonicalizer, engine, priceOracle, dom, client, log)

	server := api.NewServer(svc, log)

	log.Info("dexd starting",
		zap.String("addr", cfg.HTTP.ListenAddr),
		zap.String("chainId", cfg.EIP712.ChainID.String()),
		zap.String("verifyingContract", cfg.EIP712.VerifyingContract.Hex()),
	)
	if err := server.Start(cfg.HTTP.ListenAddr, cfg.HTTP.AllowedOrigins); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
