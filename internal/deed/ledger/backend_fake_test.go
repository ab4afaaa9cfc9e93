package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// fakeBackend is an in-memory ledger node.
type fakeBackend struct {
	mu sync.Mutex

	pendingNonce  uint64
	nonceQueries  int
	gasPrice      *big.Int
	tipCap        *big.Int
	estimate      uint64
	estimateErr   error
	sendErr       error
	replyErr      error
	sent          []*types.Transaction
	receipts      map[common.Hash]*types.Receipt
	known         map[common.Hash]bool
	receiptErr    error
	head          uint64
	callErr       error
	callOut       []byte
	receiptPolls  int
	onReceiptPoll func(polls int)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gasPrice: big.NewInt(1_000_000_000),
		tipCap:   big.NewInt(2_000_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
		known:    make(map[common.Hash]bool),
	}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceQueries++
	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tipCap, nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.known[tx.Hash()] = true
	// replyErr is returned after the node has taken the transaction
	return f.replyErr
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.receiptPolls++
	polls, hook := f.receiptPolls, f.onReceiptPoll
	f.mu.Unlock()
	if hook != nil {
		hook(polls)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[hash] {
		return nil, false, ethereum.NotFound
	}
	return nil, true, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, f.callErr
}

func (f *fakeBackend) mine(hash common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{
		TxHash:            hash,
		Status:            status,
		BlockNumber:       new(big.Int).SetUint64(block),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		GasUsed:           51_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	}
	if block > f.head {
		f.head = block
	}
}

func (f *fakeBackend) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeBackend) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// rpcRevert mimics the JSON-RPC error a node returns for a reverted call.
type rpcRevert struct {
	data string
}

func (e rpcRevert) Error() string          { return "execution reverted" }
func (e rpcRevert) ErrorData() interface{} { return e.data }

func encodeRevert(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return append(selector, packed...)
}
