package domain

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "titledeed/pkg/domain-errors"
)

// ApplicationID identifies an approved land application row.
type ApplicationID int64

// ParseApplicationID parses a positive decimal application identifier.
func ParseApplicationID(s string) (ApplicationID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "application_id is required")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "application_id must be a positive integer")
	}
	return ApplicationID(n), nil
}

func (id ApplicationID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id ApplicationID) IsNil() bool { return id <= 0 }

// DeedNumberLen is the hex length of a deed number (16 random bytes).
const DeedNumberLen = 32

// DeedNumber is the opaque title deed identifier joining ledger and relational state.
type DeedNumber string

// ParseDeedNumber accepts exactly 32 lowercase hex characters.
func ParseDeedNumber(s string) (DeedNumber, error) {
	if len(s) != DeedNumberLen || strings.ToLower(s) != s {
		return "", dErrors.New(dErrors.CodeInvalidInput, "deed number must be 32 lowercase hex characters")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "deed number must be 32 lowercase hex characters")
	}
	return DeedNumber(s), nil
}

func (d DeedNumber) String() string { return string(d) }

func (d DeedNumber) IsNil() bool { return d == "" }

// TxHash is a 0x-prefixed, lowercase, 32-byte ledger transaction hash.
type TxHash string

// ParseTxHash normalizes case and validates the 0x + 64 hex form.
func ParseTxHash(s string) (TxHash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	body, ok := strings.CutPrefix(s, "0x")
	if !ok || len(body) != 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction hash must be 0x followed by 64 hex characters")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction hash must be 0x followed by 64 hex characters")
	}
	return TxHash(s), nil
}

func (h TxHash) String() string { return string(h) }

func (h TxHash) IsNil() bool { return h == "" }

// AttemptID identifies one issuance attempt in the reconciliation journal.
type AttemptID uuid.UUID

func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

func ParseAttemptID(s string) (AttemptID, error) {
	if s == "" {
		return AttemptID{}, dErrors.New(dErrors.CodeInvalidInput, "attempt id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil || parsed == uuid.Nil {
		return AttemptID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid attempt id")
	}
	return AttemptID(parsed), nil
}

func (id AttemptID) String() string { return uuid.UUID(id).String() }

func (id AttemptID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id AttemptID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *AttemptID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid attempt id")
	}
	*id = AttemptID(parsed)
	return nil
}
