package models

import (
	"time"

	"github.com/google/uuid"
)

// EventDeedIssued is the outbox event type written in the commit transaction.
const EventDeedIssued = "deed.issued"

// OutboxEntry is a pending domain event awaiting publication.
type OutboxEntry struct {
	ID          uuid.UUID  `json:"id"`
	EventType   string     `json:"event_type"`
	AggregateID string     `json:"aggregate_id"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DeedIssuedEvent is the payload of a deed.issued outbox entry.
type DeedIssuedEvent struct {
	ApplicationID   int64     `json:"application_id"`
	DeedNumber      string    `json:"deed_number"`
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number"`
	LandCode        string    `json:"land_code"`
	OwnerID         int64     `json:"owner_id"`
	MetadataDigest  string    `json:"metadata_digest"`
	IssuedAt        time.Time `json:"issued_at"`
}

// Event derives the outbox payload for an issuance.
func (i *Issuance) Event(now time.Time) DeedIssuedEvent {
	return DeedIssuedEvent{
		ApplicationID:   int64(i.Deed.ApplicationID),
		DeedNumber:      i.Deed.DeedNumber.String(),
		TransactionHash: i.Receipt.TransactionHash.String(),
		BlockNumber:     i.Receipt.BlockNumber,
		LandCode:        i.Land.LandCode,
		OwnerID:         i.Land.OwnerID,
		MetadataDigest:  i.Log.MetadataDigest,
		IssuedAt:        now,
	}
}

// NewOutboxEntry wraps an encoded payload for the outbox table.
func NewOutboxEntry(eventType, aggregateID string, payload []byte, now time.Time) *OutboxEntry {
	return &OutboxEntry{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   now,
	}
}
