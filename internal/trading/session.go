package trading

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"paperTrading/internal/contract"
)

var (
	// ErrNoSession is returned when a transaction is attempted without a
	// signing session.
	ErrNoSession = errors.New("no signing session")
	// ErrTxRejected marks a transaction that never reached the chain.
	ErrTxRejected = errors.New("transaction rejected")
	// ErrTxReverted marks a transaction whose execution failed.
	ErrTxReverted = errors.New("transaction reverted")
)

// TxError describes a failed transaction in words a user can act on.
type TxError struct {
	Op     string
	Reason string
	Err    error
}

func (e *TxError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Call is a contract write to submit.
type Call struct {
	Op    string
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Receipt is the confirmed outcome of a Call.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
}

// Submitter signs, sends and confirms calls. Submit returns only once the
// transaction is final or has failed.
type Submitter interface {
	Submit(ctx context.Context, call Call) (Receipt, error)
}

// Session is the account a view acts for and its signing capability.
type Session struct {
	Account   common.Address
	Submitter Submitter
}

// Trader submits the PaperTrading writes for a session and notifies
// listeners after each confirmed transaction.
type Trader struct {
	session     *Session
	addresses   contract.Addresses
	onConfirmed []func()
	logger      *zap.Logger
}

func NewTrader(session *Session, addresses contract.Addresses, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trader{session: session, addresses: addresses, logger: logger}
}

// OnConfirmed registers fn to run after every confirmed transaction.
func (t *Trader) OnConfirmed(fn func()) {
	t.onConfirmed = append(t.onConfirmed, fn)
}

// Approve lets spender move amount of the account's WETH.
func (t *Trader) Approve(ctx context.Context, spender common.Address, amount *big.Int) (Receipt, error) {
	data, err := contract.PackApprove(spender, amount)
	if err != nil {
		return Receipt{}, err
	}
	return t.submit(ctx, Call{Op: "approve", To: t.addresses.WETH, Data: data})
}

// Deposit moves amount of WETH into the trading contract.
func (t *Trader) Deposit(ctx context.Context, amount *big.Int) (Receipt, error) {
	data, err := contract.PackDepositWETH(amount)
	if err != nil {
		return Receipt{}, err
	}
	return t.submit(ctx, Call{Op: "deposit", To: t.addresses.PaperTrading, Data: data})
}

// Redeem burns amount of TestUSD for WETH.
func (t *Trader) Redeem(ctx context.Context, amount *big.Int) (Receipt, error) {
	data, err := contract.PackRedeemTestUSD(amount)
	if err != nil {
		return Receipt{}, err
	}
	return t.submit(ctx, Call{Op: "redeem", To: t.addresses.PaperTrading, Data: data})
}

// Wrap converts value wei of ETH into WETH.
func (t *Trader) Wrap(ctx context.Context, value *big.Int) (Receipt, error) {
	data, err := contract.PackWrap()
	if err != nil {
		return Receipt{}, err
	}
	return t.submit(ctx, Call{Op: "wrap", To: t.addresses.WETH, Data: data, Value: value})
}

func (t *Trader) submit(ctx context.Context, call Call) (Receipt, error) {
	if t.session == nil || t.session.Submitter == nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "connect a wallet first", Err: ErrNoSession}
	}
	receipt, err := t.session.Submitter.Submit(ctx, call)
	if err != nil {
		t.logger.Warn("transaction failed", zap.String("op", call.Op), zap.Error(err))
		return Receipt{}, err
	}
	t.logger.Info("transaction confirmed",
		zap.String("op", call.Op),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("block_number", receipt.BlockNumber),
	)
	for _, fn := range t.onConfirmed {
		fn()
	}
	return receipt, nil
}

// TxBackend is the chain access a KeySubmitter needs. *chain.Client
// satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// KeySubmitter signs EIP-1559 transactions with a local private key.
type KeySubmitter struct {
	backend        TxBackend
	key            *ecdsa.PrivateKey
	from           common.Address
	signer         types.Signer
	confirmTimeout time.Duration
	pollEvery      time.Duration
	logger         *zap.Logger
}

// NewKeySubmitter parses a hex private key. confirmTimeout bounds each
// receipt wait; zero means two minutes.
func NewKeySubmitter(backend TxBackend, hexKey string, chainID *big.Int, confirmTimeout time.Duration, logger *zap.Logger) (*KeySubmitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySubmitter{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.NewLondonSigner(chainID),
		confirmTimeout: confirmTimeout,
		pollEvery:      2 * time.Second,
		logger:         logger,
	}, nil
}

// Account returns the signing address.
func (s *KeySubmitter) Account() common.Address {
	return s.from
}

func (s *KeySubmitter) Submit(ctx context.Context, call Call) (Receipt, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "could not read account nonce", Err: fmt.Errorf("%w: %v", ErrTxRejected, err)}
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "could not price gas", Err: fmt.Errorf("%w: %v", ErrTxRejected, err)}
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "could not read latest block", Err: fmt.Errorf("%w: %v", ErrTxRejected, err)}
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &call.To,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      call.Data,
	})
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: revertReason(err), Err: fmt.Errorf("%w: %v", ErrTxReverted, err)}
	}

	to := call.To
	tx, err := types.SignNewTx(s.key, s.signer, &types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "could not sign transaction", Err: fmt.Errorf("%w: %v", ErrTxRejected, err)}
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "node refused the transaction", Err: fmt.Errorf("%w: %v", ErrTxRejected, err)}
	}
	s.logger.Info("transaction sent",
		zap.String("op", call.Op),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
	)

	receipt, err := s.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return Receipt{}, &TxError{Op: call.Op, Reason: "no receipt before timeout", Err: err}
	}
	out := Receipt{TxHash: receipt.TxHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, &TxError{Op: call.Op, Reason: "execution reverted on chain", Err: ErrTxReverted}
	}
	return out, nil
}

func (s *KeySubmitter) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

type dataError interface {
	ErrorData() interface{}
}

// revertReason extracts the Error(string) message from an estimate failure.
func revertReason(err error) string {
	var de dataError
	if errors.As(err, &de) {
		if text, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(text); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		return msg[i:]
	}
	return "transaction would fail"
}
