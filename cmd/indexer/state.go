package main

import (
	"encoding/json"
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
	"paperTrading/internal/quote"
	"paperTrading/internal/trading"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Read the live trading state of an account",
		RunE:  runState,
	}

	cmd.Flags().String("rpc", "", "Ethereum RPC URL")
	addContractFlags(cmd)
	cmd.Flags().String("account", "", "account address")
	cmd.Flags().Duration("read-timeout", 10*time.Second, "timeout per live read bundle")
	cmd.Flags().String("deposit", "", "report the deposit state for this WETH amount")
	cmd.Flags().Bool("admin", false, "include owner and supply reads")
	addQuoteFlags(cmd)
	return cmd
}

type stateOutput struct {
	trading.StateView
	DepositState  string              `json:"deposit_state,omitempty"`
	MintEstimate  *trading.Amount     `json:"mint_estimate,omitempty"`
	RedeemPreview *trading.Amount     `json:"redeem_estimate,omitempty"`
	Admin         *trading.AdminReads `json:"admin,omitempty"`
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTrade(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Account) {
		return fmt.Errorf("invalid account address: %q", cfg.Account)
	}
	account := common.HexToAddress(cfg.Account)
	addrs, err := cfg.Contracts.Addresses()
	if err != nil {
		return err
	}

	var deposit *big.Int
	if raw, _ := cmd.Flags().GetString("deposit"); raw != "" {
		if deposit, err = fixedpoint.ParseWETH(raw); err != nil {
			return err
		}
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	quotes, releaseQuotes, err := newQuoteService(ctx, cfg.Quote, nil, logger)
	if err != nil {
		return err
	}
	defer releaseQuotes()

	reader := trading.NewReader(contract.NewCaller(chainClient, addrs), cfg.ReadTimeout)
	reads := reader.Read(ctx, account)
	var spot *quote.Result[quote.Spot]
	if result, err := quotes.Spot(ctx); err == nil {
		spot = &result
	}
	state := trading.ComputeState(account, reads, spot, nil)
	for field, readErr := range reads.Errors {
		logger.Warn("live read failed", zap.String("field", string(field)), zap.Error(readErr))
	}

	out := stateOutput{StateView: state.View()}
	if deposit != nil && state.WETHAllowance != nil {
		flow := trading.NewDepositFlow(account, addrs.PaperTrading, nil, nil)
		flow.SetAmount(deposit)
		flow.ObserveAllowance(state.WETHAllowance)
		out.DepositState = flow.State().String()
	}
	if state.ETHPrice != nil {
		if state.WETHBalance != nil {
			if v, err := trading.EstimateMint(state.WETHBalance, state.ETHPrice); err == nil {
				out.MintEstimate = &trading.Amount{Raw: v.String(), Display: fixedpoint.FormatTestUSD(v)}
			}
		}
		if state.TestUSDBalance != nil {
			if v, err := trading.EstimateRedeem(state.TestUSDBalance, state.ETHPrice); err == nil {
				out.RedeemPreview = &trading.Amount{Raw: v.String(), Display: fixedpoint.FormatWETH(v)}
			}
		}
	}
	if admin, _ := cmd.Flags().GetBool("admin"); admin {
		adminReads, err := reader.Admin(ctx)
		if err != nil {
			return err
		}
		out.Admin = &adminReads
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
