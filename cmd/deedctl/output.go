package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"titledeed/internal/deed/client"
	"titledeed/internal/deed/models"
)

type tableWriter = table.Writer

func rowOf(cells ...any) table.Row { return table.Row(cells) }

func render(w io.Writer, asJSON bool, v any, fill func(tableWriter)) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	fill(tw)
	tw.Render()
	return nil
}

// explain adds the recovery hint the server returned with a failure.
func explain(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if !apiErr.Retryable() {
		return apiErr
	}
	scope, _ := apiErr.Details["retry_scope"].(string)
	hash, _ := apiErr.Details["transaction_hash"].(string)
	switch models.RetryScope(scope) {
	case models.RetryCommitOnly:
		return fmt.Errorf("%w\nledger write confirmed; run: deedctl retry-commit %s", apiErr, hash)
	case models.RetryReconcile:
		return fmt.Errorf("%w\noutcome unknown; run: deedctl reconcile %s", apiErr, hash)
	default:
		return fmt.Errorf("%w\nsafe to retry the issuance", apiErr)
	}
}
