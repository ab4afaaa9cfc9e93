package models

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
)

// DeedValidity is how long an issued title deed remains valid.
const DeedValidity = 99 * 365 * 24 * time.Hour

// LandStatusOwned is the land_status value written once a deed is issued.
const LandStatusOwned = 0

// Application is the read-only projection of an approved application joined
// with its applicant and land parcel.
type Application struct {
	ApplicationID   id.ApplicationID `json:"application_id"`
	UserID          int64            `json:"user_id"`
	FullName        string           `json:"full_name"`
	NationID        string           `json:"nation_id"`
	PhoneNumber     string           `json:"phone_number"`
	LandCode        string           `json:"land_code"`
	LandType        string           `json:"land_type"`
	LandLayoutURL   string           `json:"land_layout_url"`
	ApplicationDate time.Time        `json:"application_date"`
}

// Validate checks the fields the ledger call and the relational commit rely on.
func (a *Application) Validate() error {
	if a.ApplicationID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "application id is required")
	}
	if a.UserID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "application has no applicant")
	}
	if a.LandCode == "" {
		return dErrors.New(dErrors.CodeValidation, "application has no land parcel")
	}
	return nil
}

// DeedRequest lives for the duration of one workflow run.
type DeedRequest struct {
	Application Application
	DeedNumber  id.DeedNumber
}

// ReceiptStatus mirrors the EVM receipt status field.
type ReceiptStatus uint64

const (
	ReceiptStatusFailed     ReceiptStatus = 0
	ReceiptStatusSuccessful ReceiptStatus = 1
)

// LedgerReceipt is proof that the attestation transaction reached finality.
type LedgerReceipt struct {
	TransactionHash   id.TxHash     `json:"transaction_hash"`
	BlockNumber       uint64        `json:"block_number"`
	BlockHash         string        `json:"block_hash"`
	Status            ReceiptStatus `json:"status"`
	GasUsed           uint64        `json:"gas_used"`
	EffectiveGasPrice string        `json:"effective_gas_price"`
	Confirmations     uint64        `json:"confirmations"`
}

// Succeeded reports whether execution succeeded.
func (r LedgerReceipt) Succeeded() bool { return r.Status == ReceiptStatusSuccessful }

// TitleDeedRecord is created exactly once per successful issuance.
//
// Invariants:
//   - DeedNumber is globally unique and immutable once Approved
//   - at most one record per ApplicationID
type TitleDeedRecord struct {
	ApplicationID id.ApplicationID `json:"application_id"`
	DeedNumber    id.DeedNumber    `json:"deed_number"`
	Approved      bool             `json:"approved"`
	ExpiryDate    time.Time        `json:"expiry_date"`
	TitleDeedName string           `json:"title_deed_name"`
	LandType      string           `json:"land_type"`
}

// LandRecord is mutated in place when a deed is issued.
type LandRecord struct {
	LandCode   string `json:"land_code"`
	OwnerID    int64  `json:"owner_id"`
	LandStatus int    `json:"land_status"`
}

// TransactionLogEntry is the append-only audit row for one issuance.
type TransactionLogEntry struct {
	UserID           int64         `json:"user_id"`
	TransactionHash  id.TxHash     `json:"transaction_hash"`
	DeedNumber       id.DeedNumber `json:"deed_number"`
	TitleDeedName    string        `json:"title_deed_name"`
	LandCode         string        `json:"land_code"`
	OwnerNationID    string        `json:"owner_nation_id"`
	OwnerPhoneNumber string        `json:"owner_phone_number"`
	LandType         string        `json:"land_type"`
	LandLayoutURL    string        `json:"land_layout_url"`
	MetadataDigest   string        `json:"metadata_digest"`
}

// Issuance bundles the three relational writes derived from a confirmed receipt.
type Issuance struct {
	Deed    TitleDeedRecord
	Land    LandRecord
	Log     TransactionLogEntry
	Receipt LedgerReceipt
}

// NewIssuance derives the relational records for a confirmed attestation.
func NewIssuance(req DeedRequest, receipt LedgerReceipt, now time.Time) (*Issuance, error) {
	if req.DeedNumber.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "deed number is required")
	}
	if receipt.TransactionHash.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "transaction hash is required")
	}
	if !receipt.Succeeded() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "cannot commit a reverted transaction")
	}
	app := req.Application
	return &Issuance{
		Deed: TitleDeedRecord{
			ApplicationID: app.ApplicationID,
			DeedNumber:    req.DeedNumber,
			Approved:      true,
			ExpiryDate:    now.Add(DeedValidity).UTC().Truncate(24 * time.Hour),
			TitleDeedName: app.FullName,
			LandType:      app.LandType,
		},
		Land: LandRecord{
			LandCode:   app.LandCode,
			OwnerID:    app.UserID,
			LandStatus: LandStatusOwned,
		},
		Log: TransactionLogEntry{
			UserID:           app.UserID,
			TransactionHash:  receipt.TransactionHash,
			DeedNumber:       req.DeedNumber,
			TitleDeedName:    app.FullName,
			LandCode:         app.LandCode,
			OwnerNationID:    app.NationID,
			OwnerPhoneNumber: app.PhoneNumber,
			LandType:         app.LandType,
			LandLayoutURL:    app.LandLayoutURL,
			MetadataDigest:   MetadataDigest(req),
		},
		Receipt: receipt,
	}, nil
}

var metadataDigestKey = [32]byte{
	't', 'i', 't', 'l', 'e', 'd', 'e', 'e', 'd', '.', 'm', 'e', 't', 'a', 'd', 'a',
	't', 'a', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// MetadataDigest is a keyed BLAKE3 digest over the mintTitleDeed arguments,
// in contract argument order, so a log row can be checked against the
// payload that was minted. The application ID is not an argument and is not
// covered.
func MetadataDigest(req DeedRequest) string {
	hasher, err := blake3.NewKeyed(metadataDigestKey[:])
	if err != nil {
		panic("models: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	app := req.Application
	for _, field := range []string{
		strconv.FormatInt(app.UserID, 10),
		req.DeedNumber.String(),
		app.FullName,
		app.LandCode,
		app.NationID,
		app.PhoneNumber,
		app.LandType,
		app.LandLayoutURL,
	} {
		_, _ = hasher.Write([]byte(field))
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// IssuanceResult is what a caller receives on success.
type IssuanceResult struct {
	ApplicationID   id.ApplicationID `json:"application_id"`
	DeedNumber      id.DeedNumber    `json:"deed_number"`
	TransactionHash id.TxHash        `json:"transaction_hash"`
}
