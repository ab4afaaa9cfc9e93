// Package ledger submits title deed attestations to an EVM ledger and
// observes their finality.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"titledeed/internal/deed/metrics"
	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	"titledeed/pkg/platform/circuit"
)

// Backend is the subset of *ethclient.Client the ledger client uses.
type Backend interface {
	PendingNonceSource
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LookupOutcome is the reconciliation view of a transaction hash.
type LookupOutcome string

const (
	OutcomeConfirmed LookupOutcome = "confirmed"
	OutcomeReverted  LookupOutcome = "reverted"
	OutcomePending   LookupOutcome = "pending"
	OutcomeUnknown   LookupOutcome = "unknown"
)

// PendingTx is a broadcast transaction awaiting finality.
type PendingTx struct {
	Hash        id.TxHash
	Nonce       uint64
	From        common.Address
	To          common.Address
	Data        []byte
	Gas         uint64
	SubmittedAt time.Time
}

const (
	defaultConfirmations       = 1
	defaultPollInterval        = 2 * time.Second
	defaultConfirmationTimeout = 2 * time.Minute
)

// Client talks to one ledger endpoint for one deployed contract.
type Client struct {
	backend       Backend
	contract      *Contract
	chainID       *big.Int
	fees          FeePolicy
	nonces        *NonceAllocator
	limiter       *rate.Limiter
	breaker       *circuit.Breaker
	confirmations uint64
	pollInterval  time.Duration
	timeout       time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	// submitMu keeps nonce reservation and broadcast in the same order.
	submitMu sync.Mutex
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithFeePolicy(p FeePolicy) Option {
	return func(c *Client) { c.fees = p }
}

// WithConfirmations sets how many blocks deep a receipt must be.
func WithConfirmations(n uint64) Option {
	return func(c *Client) {
		if n > 0 {
			c.confirmations = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithConfirmationTimeout sets the fallback used when a caller passes zero.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles broadcasts. A zero limit disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithNonceAllocator(a *NonceAllocator) Option {
	return func(c *Client) { c.nonces = a }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(backend Backend, contract *Contract, chainID *big.Int, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger backend is required")
	}
	if contract == nil {
		return nil, fmt.Errorf("contract descriptor is required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	c := &Client{
		backend:       backend,
		contract:      contract,
		chainID:       new(big.Int).Set(chainID),
		fees:          DefaultFeePolicy(),
		confirmations: defaultConfirmations,
		pollInterval:  defaultPollInterval,
		timeout:       defaultConfirmationTimeout,
		breaker:       circuit.New("ledger-rpc"),
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nonces == nil {
		c.nonces = NewNonceAllocator(backend)
	}
	if err := c.fees.Validate(); err != nil {
		return nil, fmt.Errorf("fee policy: %w", err)
	}
	return c, nil
}

// BuildAndSubmit encodes call, signs it as sender and broadcasts it. A
// *SubmissionError means nothing reached the ledger. A *BroadcastUnknownError
// means the transaction may have landed and must be reconciled by its hash.
func (c *Client) BuildAndSubmit(ctx context.Context, call ContractCall, sender *Signer) (PendingTx, error) {
	if sender == nil {
		return PendingTx{}, &SubmissionError{Reason: ReasonRejected, Err: errors.New("no signer")}
	}
	data, err := c.contract.pack(call)
	if err != nil {
		return PendingTx{}, &SubmissionError{Reason: ReasonRejected, Err: err}
	}
	if !c.breaker.Allow() {
		c.metrics.IncrementSubmission(string(ReasonCircuitOpen))
		return PendingTx{}, &SubmissionError{Reason: ReasonCircuitOpen, Err: errors.New("ledger endpoint marked unavailable")}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.RecordSuccess()
			return PendingTx{}, &SubmissionError{Reason: ReasonNetworkUnreachable, Err: err}
		}
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	pending, err := c.submitLocked(ctx, data, sender)
	var unknown *BroadcastUnknownError
	if errors.As(err, &unknown) {
		c.recordBreaker(classifySendError(unknown.Err))
		c.metrics.IncrementSubmission("unknown")
		c.logger.WarnContext(ctx, "ledger broadcast outcome unknown",
			"tx_hash", unknown.Pending.Hash,
			"nonce", unknown.Pending.Nonce,
			"error", unknown.Err,
		)
		return PendingTx{}, unknown
	}
	if err != nil {
		var subErr *SubmissionError
		if !errors.As(err, &subErr) {
			subErr = &SubmissionError{Reason: classifySendError(err), Err: err}
		}
		c.recordBreaker(subErr.Reason)
		c.metrics.IncrementSubmission(string(subErr.Reason))
		c.logger.WarnContext(ctx, "ledger submission failed",
			"reason", subErr.Reason,
			"from", sender.Address().Hex(),
			"error", subErr.Err,
		)
		return PendingTx{}, subErr
	}
	c.breaker.RecordSuccess()
	c.metrics.IncrementSubmission("accepted")
	c.logger.InfoContext(ctx, "ledger transaction broadcast",
		"tx_hash", pending.Hash,
		"nonce", pending.Nonce,
		"gas", pending.Gas,
	)
	return pending, nil
}

func (c *Client) recordBreaker(reason SubmissionReason) {
	if reason != ReasonNetworkUnreachable {
		c.breaker.RecordSuccess()
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("ledger circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Client) submitLocked(ctx context.Context, data []byte, sender *Signer) (PendingTx, error) {
	from := sender.Address()
	to := c.contract.Address

	gas, err := c.gasLimit(ctx, from, to, data)
	if err != nil {
		return PendingTx{}, err
	}
	nonce, err := c.nonces.Next(ctx, from)
	if err != nil {
		return PendingTx{}, &SubmissionError{Reason: classifySendError(err), Err: err}
	}

	unsigned, err := c.buildTx(ctx, nonce, gas, to, data)
	if err != nil {
		c.nonces.Resync(from)
		return PendingTx{}, err
	}
	signed, err := sender.sign(unsigned, c.chainID)
	if err != nil {
		c.nonces.Resync(from)
		return PendingTx{}, &SubmissionError{Reason: ReasonRejected, Err: fmt.Errorf("sign transaction: %w", err)}
	}
	pending := PendingTx{
		Hash:        id.TxHash(signed.Hash().Hex()),
		Nonce:       nonce,
		From:        from,
		To:          to,
		Data:        data,
		Gas:         gas,
		SubmittedAt: c.now(),
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if broadcastOutcomeUnknown(err) {
			return PendingTx{}, &BroadcastUnknownError{Pending: pending, Err: err}
		}
		c.nonces.Resync(from)
		return PendingTx{}, err
	}
	return pending, nil
}

// ResyncNonce drops the local nonce counter for sender so the next
// submission asks the node. Used once a broadcast is known to have been
// dropped and its nonce is free again.
func (c *Client) ResyncNonce(sender *Signer) {
	if sender == nil {
		return
	}
	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	c.nonces.Resync(sender.Address())
	c.logger.Info("ledger nonce counter reset", "from", sender.Address().Hex())
}

func (c *Client) gasLimit(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	if !c.fees.Estimate {
		return c.fees.GasLimit, nil
	}
	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		// estimation executes the call, so a revert shows up here first
		if reason := revertReason(err); reason != "" {
			return 0, &SubmissionError{Reason: ReasonRejected, Err: fmt.Errorf("execution reverted: %s", reason)}
		}
		return 0, err
	}
	return c.fees.gasFromEstimate(estimate), nil
}

func (c *Client) buildTx(ctx context.Context, nonce, gas uint64, to common.Address, data []byte) (*types.Transaction, error) {
	switch c.fees.Mode {
	case FeeModeDynamic:
		tip := gweiToWei(c.fees.TipCapGwei)
		if tip == nil {
			suggested, err := c.backend.SuggestGasTipCap(ctx)
			if err != nil {
				return nil, err
			}
			tip = suggested
		}
		feeCap := gweiToWei(c.fees.FeeCapGwei)
		if feeCap == nil {
			price, err := c.backend.SuggestGasPrice(ctx)
			if err != nil {
				return nil, err
			}
			feeCap = new(big.Int).Add(new(big.Int).Mul(price, big.NewInt(2)), tip)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}), nil
	default:
		price := gweiToWei(c.fees.GasPriceGwei)
		if price == nil {
			suggested, err := c.backend.SuggestGasPrice(ctx)
			if err != nil {
				return nil, err
			}
			price = suggested
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		}), nil
	}
}

// AwaitConfirmation polls until the receipt is final or timeout elapses.
// A zero timeout uses the configured default. It returns a
// *RevertedError if the transaction executed and failed, and a
// *ConfirmationTimeoutError if finality was not observed.
func (c *Client) AwaitConfirmation(ctx context.Context, pending PendingTx, timeout time.Duration) (models.LedgerReceipt, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	hash := common.HexToHash(pending.Hash.String())
	for {
		receipt, outcome, err := c.inspect(ctx, hash)
		switch {
		case err != nil:
			c.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", pending.Hash, "error", err)
		case outcome == OutcomeConfirmed:
			c.metrics.ObserveConfirmation(start)
			return receipt, nil
		case outcome == OutcomeReverted:
			return receipt, &RevertedError{
				TxHash:  pending.Hash,
				Reason:  c.replayReason(ctx, pending, receipt.BlockNumber),
				GasUsed: receipt.GasUsed,
			}
		}

		select {
		case <-ctx.Done():
			return models.LedgerReceipt{}, &ConfirmationTimeoutError{TxHash: pending.Hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// LookupReceipt reports what the ledger currently knows about txHash.
func (c *Client) LookupReceipt(ctx context.Context, txHash id.TxHash) (models.LedgerReceipt, LookupOutcome, error) {
	hash := common.HexToHash(txHash.String())
	receipt, outcome, err := c.inspect(ctx, hash)
	if err != nil {
		return models.LedgerReceipt{}, "", err
	}
	if outcome != OutcomeUnknown {
		return receipt, outcome, nil
	}
	_, _, err = c.backend.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return models.LedgerReceipt{}, OutcomeUnknown, nil
	case err != nil:
		return models.LedgerReceipt{}, "", fmt.Errorf("lookup transaction: %w", err)
	default:
		return models.LedgerReceipt{}, OutcomePending, nil
	}
}

// inspect reads the receipt and applies the finality policy. A missing
// receipt yields OutcomeUnknown; callers decide whether that means pending.
func (c *Client) inspect(ctx context.Context, hash common.Hash) (models.LedgerReceipt, LookupOutcome, error) {
	raw, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return models.LedgerReceipt{}, OutcomeUnknown, nil
	}
	if err != nil {
		return models.LedgerReceipt{}, "", fmt.Errorf("fetch receipt: %w", err)
	}
	receipt := toReceipt(raw)
	if raw.Status == types.ReceiptStatusFailed {
		return receipt, OutcomeReverted, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return models.LedgerReceipt{}, "", fmt.Errorf("fetch head: %w", err)
	}
	if head >= receipt.BlockNumber {
		receipt.Confirmations = head - receipt.BlockNumber + 1
	}
	if receipt.Confirmations < c.confirmations {
		return receipt, OutcomePending, nil
	}
	return receipt, OutcomeConfirmed, nil
}

func toReceipt(r *types.Receipt) models.LedgerReceipt {
	out := models.LedgerReceipt{
		TransactionHash: id.TxHash(r.TxHash.Hex()),
		BlockHash:       r.BlockHash.Hex(),
		Status:          models.ReceiptStatus(r.Status),
		GasUsed:         r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = r.EffectiveGasPrice.String()
	}
	return out
}

// replayReason re-executes the call at the inclusion block to recover the
// revert string. Empty when the node does not return one.
func (c *Client) replayReason(ctx context.Context, pending PendingTx, block uint64) string {
	to := pending.To
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: pending.From,
		To:   &to,
		Gas:  pending.Gas,
		Data: pending.Data,
	}, new(big.Int).SetUint64(block))
	if err == nil {
		return ""
	}
	if reason := revertReason(err); reason != "" {
		return reason
	}
	return err.Error()
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	encoded, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decErr := hexutil.Decode(encoded)
	if decErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

// TitleDeedView is the on-ledger record for a deed number.
type TitleDeedView struct {
	DeedNumber id.DeedNumber `json:"deed_number"`
	UserID     string        `json:"user_id"`
	FullName   string        `json:"full_name"`
	LandCode   string        `json:"land_code"`
	LandType   string        `json:"land_type"`
}

// GetTitleDeed reads the attested record through a read-only call.
func (c *Client) GetTitleDeed(ctx context.Context, deed id.DeedNumber) (*TitleDeedView, error) {
	if _, ok := c.contract.ABI.Methods[methodGetTitleDeed]; !ok {
		return nil, fmt.Errorf("%s abi has no %s method", c.contract.Name, methodGetTitleDeed)
	}
	data, err := c.contract.pack(ContractCall{Method: methodGetTitleDeed, Args: []any{deed.String()}})
	if err != nil {
		return nil, err
	}
	to := c.contract.Address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", methodGetTitleDeed, err)
	}
	values, err := c.contract.ABI.Unpack(methodGetTitleDeed, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", methodGetTitleDeed, err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unpack %s: expected 4 values, got %d", methodGetTitleDeed, len(values))
	}
	view := &TitleDeedView{DeedNumber: deed}
	if userID, ok := values[0].(*big.Int); ok {
		view.UserID = userID.String()
	}
	view.FullName, _ = values[1].(string)
	view.LandCode, _ = values[2].(string)
	view.LandType, _ = values[3].(string)
	return view, nil
}
