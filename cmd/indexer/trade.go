package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperTrading/internal/chain"
	"paperTrading/internal/config"
	"paperTrading/internal/contract"
	"paperTrading/internal/fixedpoint"
	"paperTrading/internal/trading"
)

func newTradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Submit PaperTrading transactions with a local key",
	}

	cmd.PersistentFlags().String("rpc", "", "Ethereum RPC URL")
	cmd.PersistentFlags().String("paper-trading", "", "PaperTrading contract address")
	cmd.PersistentFlags().String("weth", "", "WETH token address")
	cmd.PersistentFlags().String("test-usd", "", "TestUSD token address")
	cmd.PersistentFlags().String("private-key", "", "hex private key (prefer PAPER_PRIVATE_KEY)")
	cmd.PersistentFlags().Duration("read-timeout", 10*time.Second, "timeout per live read bundle")
	cmd.PersistentFlags().Duration("confirm-timeout", 2*time.Minute, "timeout per receipt wait")

	approve := &cobra.Command{
		Use:   "approve <weth-amount>",
		Short: "Allow PaperTrading to move WETH",
		Args:  cobra.ExactArgs(1),
		RunE: tradeAction(fixedpoint.ParseWETH, func(ctx context.Context, s *tradeSession, amount *big.Int) (trading.Receipt, error) {
			return s.trader.Approve(ctx, s.addrs.PaperTrading, amount)
		}),
	}

	deposit := &cobra.Command{
		Use:   "deposit <weth-amount>",
		Short: "Deposit WETH and mint TestUSD",
		Args:  cobra.ExactArgs(1),
		RunE: tradeAction(fixedpoint.ParseWETH, func(ctx context.Context, s *tradeSession, amount *big.Int) (trading.Receipt, error) {
			flow := trading.NewDepositFlow(s.account, s.addrs.PaperTrading, s.trader, s.reader)
			flow.SetAmount(amount)
			state, err := flow.Refresh(ctx)
			if err != nil {
				return trading.Receipt{}, fmt.Errorf("read allowance: %w", err)
			}
			if state == trading.NeedsApproval {
				if !s.autoApprove {
					return trading.Receipt{}, &trading.TxError{Op: "deposit", Reason: "approve WETH first (or pass --approve)", Err: trading.ErrNotApproved}
				}
				s.logger.Info("allowance below amount, approving first", zap.String("amount", fixedpoint.FormatWETH(amount)))
				if _, state, err = flow.Approve(ctx); err != nil {
					return trading.Receipt{}, err
				}
			}
			receipt, state, err := flow.Deposit(ctx)
			if err == nil {
				s.logger.Info("deposit flow", zap.String("state", state.String()))
			}
			return receipt, err
		}),
	}
	deposit.Flags().Bool("approve", false, "approve the amount first when the allowance is too low")

	redeem := &cobra.Command{
		Use:   "redeem <test-usd-amount>",
		Short: "Burn TestUSD and withdraw WETH",
		Args:  cobra.ExactArgs(1),
		RunE: tradeAction(fixedpoint.ParseTestUSD, func(ctx context.Context, s *tradeSession, amount *big.Int) (trading.Receipt, error) {
			return s.trader.Redeem(ctx, amount)
		}),
	}

	wrap := &cobra.Command{
		Use:   "wrap <eth-amount>",
		Short: "Wrap ETH into WETH",
		Args:  cobra.ExactArgs(1),
		RunE: tradeAction(fixedpoint.ParseWETH, func(ctx context.Context, s *tradeSession, amount *big.Int) (trading.Receipt, error) {
			return s.trader.Wrap(ctx, amount)
		}),
	}

	cmd.AddCommand(approve, deposit, redeem, wrap)
	return cmd
}

type tradeSession struct {
	account     common.Address
	addrs       contract.Addresses
	trader      *trading.Trader
	reader      *trading.Reader
	autoApprove bool
	logger      *zap.Logger
}

type tradeOutput struct {
	Receipt trading.Receipt    `json:"receipt"`
	State   *trading.StateView `json:"state,omitempty"`
}

func tradeAction(
	parse func(string) (*big.Int, error),
	action func(ctx context.Context, s *tradeSession, amount *big.Int) (trading.Receipt, error),
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadTrade(configFile(cmd), cmd.Flags())
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		amount, err := parse(args[0])
		if err != nil {
			return err
		}
		if amount.Sign() <= 0 {
			return fmt.Errorf("amount must be positive")
		}
		addrs, err := cfg.Contracts.Addresses()
		if err != nil {
			return err
		}
		if cfg.PrivateKey == "" {
			return &trading.TxError{Op: cmd.Name(), Reason: "no private key configured", Err: trading.ErrNoSession}
		}

		ctx, stop := signalContext()
		defer stop()

		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		chainID, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		submitter, err := trading.NewKeySubmitter(chainClient, cfg.PrivateKey, chainID, cfg.ConfirmTimeout, logger)
		if err != nil {
			return err
		}
		account := submitter.Account()
		logger = logger.With(zap.String("account", account.Hex()), zap.String("op", cmd.Name()))

		reader := trading.NewReader(contract.NewCaller(chainClient, addrs), cfg.ReadTimeout)
		poller := trading.NewPoller(account, reader, trading.WithPollerLogger(logger))
		defer poller.Stop()

		var latest *trading.Snapshot
		trader := trading.NewTrader(&trading.Session{Account: account, Submitter: submitter}, addrs, logger)
		trader.OnConfirmed(func() {
			if snap, ok := poller.Refresh(ctx); ok {
				latest = &snap
			}
		})

		autoApprove, _ := cmd.Flags().GetBool("approve")
		receipt, err := action(ctx, &tradeSession{
			account:     account,
			addrs:       addrs,
			trader:      trader,
			reader:      reader,
			autoApprove: autoApprove,
			logger:      logger,
		}, amount)
		if err != nil {
			var txErr *trading.TxError
			if errors.As(err, &txErr) {
				return fmt.Errorf("%s failed: %s", txErr.Op, txErr.Reason)
			}
			return err
		}

		out := tradeOutput{Receipt: receipt}
		if latest != nil {
			view := latest.State.View()
			out.State = &view
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}
