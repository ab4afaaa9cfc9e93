package handler

import (
	"strings"

	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
)

const issuedMessage = "Title deed created successfully."

// IssueRequest is the body of POST /v1/title-deeds.
type IssueRequest struct {
	ApplicationID int64 `json:"application_id"`
}

func (r IssueRequest) Validate() (id.ApplicationID, error) {
	appID := id.ApplicationID(r.ApplicationID)
	if appID.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "application_id must be a positive integer")
	}
	return appID, nil
}

// IssueResponse is returned for a committed issuance.
type IssueResponse struct {
	ApplicationID   int64  `json:"application_id"`
	DeedNumber      string `json:"deed_number"`
	TransactionHash string `json:"transaction_hash"`
	Message         string `json:"message"`
}

func toIssueResponse(r *models.IssuanceResult) IssueResponse {
	return IssueResponse{
		ApplicationID:   int64(r.ApplicationID),
		DeedNumber:      r.DeedNumber.String(),
		TransactionHash: r.TransactionHash.String(),
		Message:         issuedMessage,
	}
}

// IssuedDeedResponse is the committed deed for an application.
type IssuedDeedResponse struct {
	*models.TitleDeedRecord
	TransactionHash id.TxHash `json:"transaction_hash,omitempty"`
}

// AttemptsResponse lists journal rows.
type AttemptsResponse struct {
	Attempts []*models.Attempt `json:"attempts"`
	Count    int               `json:"count"`
}

// parseStates reads a comma-separated state filter. Empty means all.
func parseStates(raw string) ([]models.State, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var states []models.State
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, ok := models.ParseState(part)
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown state: "+part)
		}
		states = append(states, st)
	}
	return states, nil
}
