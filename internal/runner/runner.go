// internal/runner/runner.go
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-dispatch/internal/config"
	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
	"github.com/rovshanmuradov/solana-dispatch/internal/dispatch"
	"github.com/rovshanmuradov/solana-dispatch/internal/engine"
	applog "github.com/rovshanmuradov/solana-dispatch/internal/logger"
	"github.com/rovshanmuradov/solana-dispatch/internal/relay/jito"
	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
	"github.com/rovshanmuradov/solana-dispatch/internal/wallet"
)

// Runner wires the configured components into an engine.
type Runner struct {
	logger   *zap.Logger
	config   *config.Config
	client   *solbc.Client
	relay    *jito.Client
	wallet   *wallet.Wallet
	engine   *engine.Engine
	registry *prometheus.Registry
}

// TransferRequest is a SOL transfer from the configured wallet.
type TransferRequest struct {
	To       solana.PublicKey
	Lamports uint64
	// Mode and Tier default to the configured values when empty.
	Mode       types.DispatchMode
	Tier       types.FeeTier
	Commission bool
}

// NewRunner builds every component from cfg. In relayed-bundle mode the tip
// accounts are refreshed from the relay; the published list is kept when that fails.
func NewRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	w, err := loadWallet(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	client, err := solbc.NewClient(solbc.Config{
		RPCURLs:      cfg.RPCList,
		WebsocketURL: cfg.WebSocketURL,
		Commitment:   solanarpc.CommitmentType(cfg.Commitment),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}

	r := &Runner{
		logger:   applog.WithComponent(logger, "runner"),
		config:   cfg,
		client:   client,
		wallet:   w,
		registry: prometheus.NewRegistry(),
	}

	deps := engine.Deps{Provider: client, Signer: w}
	var tips []solana.PublicKey
	if cfg.RelayURL != "" {
		r.relay = jito.NewClient(cfg.RelayURL, logger)
		if cfg.Mode == types.ModeBundle {
			if _, err := r.relay.GetTipAccounts(ctx); err != nil {
				r.logger.Warn("Using published tip accounts", zap.Error(err))
			}
		}
		deps.Relay = r.relay
		tips = r.relay.Tips()
	}

	deps.Assembler = transaction.NewAssembler(types.NewPriorityManager(logger), transaction.AssemblerConfig{
		ComputeUnits: cfg.ComputeUnits,
		TipLamports:  cfg.TipLamports,
		TipAccounts:  tips,
		Commission:   transaction.Commission,
	}, logger)

	r.engine, err = engine.New(deps, engineConfig(cfg), logger, engine.WithMetrics(engine.NewMetrics(r.registry)))
	if err != nil {
		return nil, err
	}

	r.logger.Info("Runner ready",
		zap.String("wallet", w.PublicKey().String()),
		zap.String("wallet_name", w.Name),
		zap.Int("rpc_nodes", len(cfg.RPCList)),
		zap.String("mode", string(cfg.Mode)),
		zap.String("tier", string(cfg.Tier)))
	return r, nil
}

// loadWallet picks the signing wallet. A wallets file takes precedence over
// private_key; wallet_name selects the row and may be omitted for a single-row file.
func loadWallet(cfg *config.Config, logger *zap.Logger) (*wallet.Wallet, error) {
	if cfg.WalletsFile == "" {
		return wallet.NewWallet(cfg.PrivateKey)
	}

	wallets, err := wallet.LoadWallets(cfg.WalletsFile)
	if len(wallets) == 0 {
		return nil, err
	}
	if err != nil {
		logger.Warn("Skipped invalid wallet rows", zap.String("file", cfg.WalletsFile), zap.Error(err))
	}

	if cfg.WalletName == "" {
		if len(wallets) == 1 {
			for _, w := range wallets {
				return w, nil
			}
		}
		return nil, fmt.Errorf("%d wallets in %s, wallet_name must select one", len(wallets), cfg.WalletsFile)
	}
	w, ok := wallets[cfg.WalletName]
	if !ok {
		return nil, fmt.Errorf("wallet %q not found in %s", cfg.WalletName, cfg.WalletsFile)
	}
	return w, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		ReferenceRetry: dispatch.RetryPolicy{
			MaxAttempts:     uint(cfg.BlockhashRetries),
			InitialInterval: cfg.RetryDelay(),
		},
		BroadcastRetry: dispatch.RetryPolicy{
			MaxAttempts:     uint(cfg.BroadcastRetries),
			InitialInterval: cfg.RetryDelay(),
		},
		SignTimeout: cfg.SignerTimeout(),
		Confirm: confirm.Config{
			Attempts:     cfg.ConfirmAttempts,
			Interval:     cfg.ConfirmInterval(),
			ProbeTimeout: cfg.ProbeTimeout(),
		},
		StrictConfirmation: cfg.StrictConfirmation,
		StreamBuffer:       engine.DefaultStreamBuffer,
	}
}

// Transfer dispatches req and returns its signature together with a
// subscription to its status stream. cancel releases the subscription.
func (r *Runner) Transfer(ctx context.Context, req TransferRequest) (solana.Signature, <-chan string, func(), error) {
	if req.Mode == "" {
		req.Mode = r.config.Mode
	}
	if req.Tier == "" {
		req.Tier = r.config.Tier
	}

	var commission *transaction.CommissionRequest
	if req.Commission {
		commission = &transaction.CommissionRequest{}
	}

	stream := engine.NewStatusStream(engine.DefaultStreamBuffer, r.logger)
	updates, cancel := stream.Subscribe()

	sig, err := r.engine.Send(ctx, engine.Request{
		Mode:       req.Mode,
		Tier:       req.Tier,
		Payload:    transaction.Payload{Transfer: &transaction.Transfer{To: req.To, Lamports: req.Lamports}},
		Commission: commission,
		Status:     stream,
	})
	return sig, updates, cancel, err
}

// Result returns the engine's record of sig.
func (r *Runner) Result(sig solana.Signature) (engine.Result, bool) {
	return r.engine.Result(sig)
}

// BundleStatus asks the relay whether a bundle landed.
func (r *Runner) BundleStatus(ctx context.Context, bundleID string) (*jito.BundleStatus, error) {
	if r.relay == nil {
		return nil, engine.ErrRelayUnavailable
	}
	statuses, err := r.relay.GetBundleStatuses(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return nil, nil
	}
	return statuses[0], nil
}

// Wallet returns the signing wallet.
func (r *Runner) Wallet() *wallet.Wallet {
	return r.wallet
}

// Gatherer exposes the runner's metrics.
func (r *Runner) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM.
func (r *Runner) WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			r.logger.Info("Signal received", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown waits for running verifications and reports node health.
func (r *Runner) Shutdown(ctx context.Context) error {
	err := r.engine.Wait(ctx)

	for _, node := range r.client.Pool().Stats() {
		r.logger.Debug("RPC node stats",
			zap.String("url", node.URL),
			zap.Bool("active", node.Active),
			zap.Uint64("successes", node.Successes),
			zap.Uint64("errors", node.Errors),
			zap.Duration("latency", node.Latency))
	}

	r.logger.Info("Runner stopped")
	return err
}
