package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceSource reports the next nonce the node expects for an account.
type PendingNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator hands out sender nonces for this process. The node is asked
// once per account; after that nonces are counted locally until Resync.
type NonceAllocator struct {
	mu     sync.Mutex
	source PendingNonceSource
	next   map[common.Address]uint64
}

func NewNonceAllocator(source PendingNonceSource) *NonceAllocator {
	return &NonceAllocator{source: source, next: make(map[common.Address]uint64)}
}

// Next reserves the next nonce for account.
func (a *NonceAllocator) Next(ctx context.Context, account common.Address) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.next[account]
	if !ok {
		pending, err := a.source.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce: %w", err)
		}
		n = pending
	}
	a.next[account] = n + 1
	return n, nil
}

// Resync forgets the local counter so the next reservation asks the node.
// Called after a nonce conflict or a broadcast that may not have landed.
func (a *NonceAllocator) Resync(account common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.next, account)
}
