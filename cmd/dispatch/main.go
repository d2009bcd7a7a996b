// ====================================
// File: cmd/dispatch/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/config"
	"github.com/rovshanmuradov/solana-dispatch/internal/logger"
	"github.com/rovshanmuradov/solana-dispatch/internal/runner"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to JSON or YAML config")
	to := flag.String("to", "", "recipient address")
	amount := flag.String("amount", "", "amount in SOL")
	mode := flag.String("mode", "", "direct-priority or relayed-bundle (default from config)")
	tier := flag.String("tier", "", "low, medium, high or very-high (default from config)")
	commission := flag.Bool("commission", false, "append the service commission transfer")
	walletName := flag.String("wallet", "", "wallet name in wallets_file (default from config)")
	flag.Parse()

	if err := run(*configPath, *walletName, *to, *amount, *mode, *tier, *commission); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, walletName, to, amount, mode, tier string, commission bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if walletName != "" {
		cfg.WalletName = walletName
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Debug = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync(log)

	req, err := transferRequest(to, amount, mode, tier, commission)
	if err != nil {
		return err
	}

	r, err := runner.NewRunner(context.Background(), cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := r.WithSignals(context.Background())
	defer cancel()

	log = logger.WithComponent(log, "cli")
	log.Info("Starting transfer",
		zap.String("from", r.Wallet().PublicKey().String()),
		zap.String("to", req.To.String()),
		zap.String("amount_sol", types.LamportsToSOL(req.Lamports).String()))

	sig, updates, unsubscribe, err := r.Transfer(ctx, req)
	defer unsubscribe()
	for phrase := range updates {
		fmt.Println(phrase)
	}
	if err != nil {
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := r.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown incomplete", zap.Error(err))
	}

	result, ok := r.Result(sig)
	if !ok {
		return nil
	}
	fmt.Printf("signature: %s\nverdict: %s (attempts %d)\n", sig, result.Verdict.State, result.Verdict.Attempts)

	if result.BundleID != "" {
		status, err := r.BundleStatus(shutdownCtx, result.BundleID)
		switch {
		case err != nil:
			log.Warn("Bundle status unavailable", zap.Error(err))
		case status == nil:
			fmt.Printf("bundle %s: not yet seen by the relay\n", result.BundleID)
		default:
			fmt.Printf("bundle %s: %s at slot %d\n", result.BundleID, status.ConfirmationStatus, status.Slot)
		}
	}

	if !result.Accepted() {
		return fmt.Errorf("transaction %s not accepted", logger.ShortSignature(sig.String()))
	}
	return nil
}

func transferRequest(to, amount, mode, tier string, commission bool) (runner.TransferRequest, error) {
	var req runner.TransferRequest

	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return req, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	lamports, err := types.ParseSOL(amount)
	if err != nil {
		return req, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if lamports == 0 {
		return req, fmt.Errorf("amount must be positive")
	}

	req = runner.TransferRequest{To: recipient, Lamports: lamports, Commission: commission}
	if mode != "" {
		if req.Mode, err = types.ParseDispatchMode(mode); err != nil {
			return req, err
		}
	}
	if tier != "" {
		if req.Tier, err = types.ParseFeeTier(tier); err != nil {
			return req, err
		}
	}
	return req, nil
}
