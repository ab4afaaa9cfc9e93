package store

import "titledeed/internal/deed/models"

const defaultListLimit = 100

// openStates are the attempt states that may carry a ledger side effect not
// yet reflected in the relational records.
var openStates = []models.State{
	models.StateSubmitting,
	models.StateAwaitingConfirmation,
	models.StateCommitting,
	models.StateConfirmationUnknown,
	models.StateCommitFailed,
}

func stateNames(states []models.State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}
