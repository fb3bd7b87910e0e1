package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"gridtap/params"
	"gridtap/pkg/api"
	"gridtap/pkg/backend"
	"gridtap/pkg/crypto"
	"gridtap/pkg/engine"
	"gridtap/pkg/storage"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load .env from current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if !common.IsHexAddress(cfg.Executor) {
		sugar.Fatalw("invalid_executor_address", "executor", cfg.Executor)
	}
	executor := common.HexToAddress(cfg.Executor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Wallet: local key or JSON-RPC provider ----
	var (
		walletSigner wallet.Signer
		chain        wallet.ChainReader
	)
	if cfg.Wallet.PrivateKey != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Wallet.PrivateKey)
		if err != nil {
			sugar.Fatalw("invalid_private_key", "err", err)
		}
		local := wallet.NewLocalWallet(signer)
		walletSigner = local

		// Chain reads still go through the RPC node.
		rpcProvider, err := wallet.DialRPC(ctx, cfg.Wallet.RPCURL)
		if err != nil {
			sugar.Fatalw("rpc_dial_failed", "url", cfg.Wallet.RPCURL, "err", err)
		}
		chain = rpcProvider
		sugar.Infow("wallet_local", "trader", local.Address().Hex())
	} else {
		rpcProvider, err := wallet.DialRPC(ctx, cfg.Wallet.RPCURL)
		if err != nil {
			sugar.Fatalw("rpc_dial_failed", "url", cfg.Wallet.RPCURL, "err", err)
		}
		walletSigner = rpcProvider
		chain = rpcProvider
		sugar.Infow("wallet_rpc", "trader", rpcProvider.Address().Hex(), "url", cfg.Wallet.RPCURL)
	}

	// ---- Order journal ----
	journal, err := storage.NewOrderLog(cfg.DataDir)
	if err != nil {
		sugar.Fatalw("order_journal_open_failed", "dir", cfg.DataDir, "err", err)
	}
	defer journal.Close()

	// ---- Backend client + optional status stream ----
	client := backend.NewClient(cfg.Backend.URL)
	var stream *backend.Stream
	if cfg.Backend.StreamURL != "" {
		stream = backend.NewStream(cfg.Backend.StreamURL, sugar)
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		Executor:           executor,
		SessionDuration:    cfg.Session.Duration,
		ResignPollInterval: cfg.Session.ResignPollInterval,
	}, walletSigner, chain, client, stream, journal, util.RealClock{}, sugar)

	// ---- Control API ----
	server := api.NewServer(eng, util.RealClock{}, sugar)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr, cfg.AllowedOrigins)
	}()

	sugar.Infow("gridtapd_started",
		"listen", cfg.ListenAddr,
		"backend", cfg.Backend.URL,
		"executor", executor.Hex(),
	)

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
	case err := <-errCh:
		sugar.Errorw("control_api_failed", "err", err)
	}

	// Tear the active session down so no delegated key outlives the
	// process server-side.
	if err := eng.DisableTapMode(context.Background()); err != nil {
		sugar.Warnw("shutdown_disable_failed", "err", err)
	}
}
