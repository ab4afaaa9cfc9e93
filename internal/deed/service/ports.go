package service

import (
	"context"
	"time"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/models"
	"titledeed/internal/deed/store"
	id "titledeed/pkg/domain"
)

// Store is the persistence port.
type Store = store.Store

// Ledger is the ledger client port.
type Ledger interface {
	BuildAndSubmit(ctx context.Context, call ledger.ContractCall, sender *ledger.Signer) (ledger.PendingTx, error)
	AwaitConfirmation(ctx context.Context, pending ledger.PendingTx, timeout time.Duration) (models.LedgerReceipt, error)
	LookupReceipt(ctx context.Context, txHash id.TxHash) (models.LedgerReceipt, ledger.LookupOutcome, error)
	GetTitleDeed(ctx context.Context, deed id.DeedNumber) (*ledger.TitleDeedView, error)
	ResyncNonce(sender *ledger.Signer)
}

// DeedNumbers generates deed numbers.
type DeedNumbers interface {
	Generate() id.DeedNumber
}

// Lease serializes issuance for one application across instances.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
