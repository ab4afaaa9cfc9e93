// Package store persists applications, issued deeds, the issuance attempt
// journal and the outbox.
package store

import (
	"context"

	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
)

// Store is implemented by PostgresStore and InMemoryStore.
type Store interface {
	// FetchApplication returns sentinel.ErrNotFound for an unknown application
	// and sentinel.ErrAlreadyUsed when a deed was already issued for it.
	FetchApplication(ctx context.Context, applicationID id.ApplicationID) (*models.Application, error)
	// FindDeedByApplication returns the issued deed or sentinel.ErrNotFound.
	FindDeedByApplication(ctx context.Context, applicationID id.ApplicationID) (*models.TitleDeedRecord, id.TxHash, error)
	// CommitIssuance applies the deed, land, log, outbox and attempt writes
	// atomically. Re-applying an identical issuance is a no-op.
	CommitIssuance(ctx context.Context, iss *models.Issuance) error

	BeginAttempt(ctx context.Context, attempt *models.Attempt) error
	MarkSubmitted(ctx context.Context, attemptID id.AttemptID, txHash id.TxHash, nonce uint64) error
	MarkState(ctx context.Context, attempt *models.Attempt) error
	FindOpenAttempt(ctx context.Context, applicationID id.ApplicationID) (*models.Attempt, error)
	FindAttemptByTxHash(ctx context.Context, txHash id.TxHash) (*models.Attempt, error)
	ListAttempts(ctx context.Context, states []models.State, limit int) ([]*models.Attempt, error)
}
