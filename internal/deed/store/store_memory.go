package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	"titledeed/pkg/platform/sentinel"
	"titledeed/pkg/requestcontext"
)

// CommitStep names a write inside CommitIssuance, for failure injection.
type CommitStep string

const (
	StepLand    CommitStep = "land"
	StepDeed    CommitStep = "deed"
	StepLog     CommitStep = "log"
	StepOutbox  CommitStep = "outbox"
	StepAttempt CommitStep = "attempt"
)

// InMemoryStore mirrors PostgresStore for tests and local runs. Commits are
// staged and applied only when every step succeeds.
type InMemoryStore struct {
	mu           sync.RWMutex
	applications map[id.ApplicationID]models.Application
	lands        map[string]models.LandRecord
	deeds        map[id.ApplicationID]models.TitleDeedRecord
	deedNumbers  map[id.DeedNumber]id.ApplicationID
	logs         map[id.TxHash]models.TransactionLogEntry
	outbox       []models.OutboxEntry
	attempts     map[id.AttemptID]*models.Attempt

	failAt  map[CommitStep]error
	commits int
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		applications: make(map[id.ApplicationID]models.Application),
		lands:        make(map[string]models.LandRecord),
		deeds:        make(map[id.ApplicationID]models.TitleDeedRecord),
		deedNumbers:  make(map[id.DeedNumber]id.ApplicationID),
		logs:         make(map[id.TxHash]models.TransactionLogEntry),
		attempts:     make(map[id.AttemptID]*models.Attempt),
		failAt:       make(map[CommitStep]error),
	}
}

// AddApplication seeds an approved application and its land parcel.
func (s *InMemoryStore) AddApplication(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ApplicationID] = app
	if app.LandCode != "" {
		if _, ok := s.lands[app.LandCode]; !ok {
			s.lands[app.LandCode] = models.LandRecord{LandCode: app.LandCode, LandStatus: 1}
		}
	}
}

// FailCommitAt makes the next commits fail at step with err. A nil err clears it.
func (s *InMemoryStore) FailCommitAt(step CommitStep, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failAt, step)
		return
	}
	s.failAt[step] = err
}

// Commits counts successful CommitIssuance calls that wrote records.
func (s *InMemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *InMemoryStore) Land(code string) (models.LandRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lands[code]
	return l, ok
}

func (s *InMemoryStore) LogEntry(txHash id.TxHash) (models.TransactionLogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.logs[txHash]
	return e, ok
}

// Counts reports deed, log and unprocessed outbox totals.
func (s *InMemoryStore) Counts() (deeds, logs, outbox int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.outbox {
		if e.ProcessedAt == nil {
			outbox++
		}
	}
	return len(s.deeds), len(s.logs), outbox
}

func (s *InMemoryStore) FetchApplication(_ context.Context, applicationID id.ApplicationID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if _, issued := s.deeds[applicationID]; issued {
		return nil, sentinel.ErrAlreadyUsed
	}
	return &app, nil
}

func (s *InMemoryStore) FindDeedByApplication(_ context.Context, applicationID id.ApplicationID) (*models.TitleDeedRecord, id.TxHash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deed, ok := s.deeds[applicationID]
	if !ok {
		return nil, "", sentinel.ErrNotFound
	}
	for hash, entry := range s.logs {
		if entry.DeedNumber == deed.DeedNumber {
			return &deed, hash, nil
		}
	}
	return &deed, "", nil
}

func (s *InMemoryStore) CommitIssuance(ctx context.Context, iss *models.Issuance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, hasDeed := s.deeds[iss.Deed.ApplicationID]
	logged, hasLog := s.logs[iss.Log.TransactionHash]
	if hasDeed || hasLog {
		if hasDeed && hasLog && existing.DeedNumber == iss.Deed.DeedNumber && logged.DeedNumber == iss.Deed.DeedNumber {
			s.completeAttemptLocked(ctx, iss.Log.TransactionHash)
			return nil
		}
		return fmt.Errorf("application %s already issued: %w", iss.Deed.ApplicationID, sentinel.ErrConflict)
	}
	if _, taken := s.deedNumbers[iss.Deed.DeedNumber]; taken {
		return fmt.Errorf("insert title deed: %w", sentinel.ErrConflict)
	}
	land, ok := s.lands[iss.Land.LandCode]
	if !ok {
		return fmt.Errorf("land %s: %w", iss.Land.LandCode, sentinel.ErrNotFound)
	}

	// stage every write, then apply
	steps := []CommitStep{StepLand, StepDeed, StepLog, StepOutbox, StepAttempt}
	for _, step := range steps {
		if err := s.failAt[step]; err != nil {
			return fmt.Errorf("commit %s: %w", step, err)
		}
	}
	now := requestcontext.Now(ctx)
	payload, err := json.Marshal(iss.Event(now))
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	land.OwnerID = iss.Land.OwnerID
	land.LandStatus = iss.Land.LandStatus
	s.lands[land.LandCode] = land
	s.deeds[iss.Deed.ApplicationID] = iss.Deed
	s.deedNumbers[iss.Deed.DeedNumber] = iss.Deed.ApplicationID
	s.logs[iss.Log.TransactionHash] = iss.Log
	s.outbox = append(s.outbox, *models.NewOutboxEntry(models.EventDeedIssued, iss.Deed.DeedNumber.String(), payload, now))
	s.completeAttemptLocked(ctx, iss.Log.TransactionHash)
	s.commits++
	return nil
}

func (s *InMemoryStore) completeAttemptLocked(ctx context.Context, txHash id.TxHash) {
	for _, a := range s.attempts {
		if a.TxHash == txHash {
			a.Transition(models.StateCompleted, nil, requestcontext.Now(ctx))
		}
	}
}

func (s *InMemoryStore) BeginAttempt(_ context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ApplicationID == attempt.ApplicationID && slices.Contains(openStates, a.State) {
			return fmt.Errorf("begin attempt for application %s: %w", attempt.ApplicationID, sentinel.ErrConflict)
		}
	}
	cp := *attempt
	s.attempts[attempt.ID] = &cp
	return nil
}

func (s *InMemoryStore) MarkSubmitted(ctx context.Context, attemptID id.AttemptID, txHash id.TxHash, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return fmt.Errorf("mark submitted: %w", sentinel.ErrNotFound)
	}
	for _, other := range s.attempts {
		if other.ID != attemptID && other.TxHash == txHash {
			return fmt.Errorf("mark submitted: %w", sentinel.ErrConflict)
		}
	}
	a.TxHash = txHash
	a.Nonce = &nonce
	a.Transition(models.StateAwaitingConfirmation, nil, requestcontext.Now(ctx))
	return nil
}

func (s *InMemoryStore) MarkState(_ context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attempt.ID]
	if !ok {
		return fmt.Errorf("mark state: %w", sentinel.ErrNotFound)
	}
	if a.TxHash.IsNil() && !attempt.TxHash.IsNil() {
		a.TxHash = attempt.TxHash
	}
	if a.Nonce == nil && attempt.Nonce != nil {
		nonce := *attempt.Nonce
		a.Nonce = &nonce
	}
	a.State = attempt.State
	a.RetryScope = attempt.RetryScope
	a.LastError = attempt.LastError
	a.UpdatedAt = attempt.UpdatedAt
	return nil
}

func (s *InMemoryStore) FindOpenAttempt(_ context.Context, applicationID id.ApplicationID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Attempt
	for _, a := range s.attempts {
		if a.ApplicationID != applicationID || !slices.Contains(openStates, a.State) {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *InMemoryStore) FindAttemptByTxHash(_ context.Context, txHash id.TxHash) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.TxHash == txHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListAttempts(_ context.Context, states []models.State, limit int) ([]*models.Attempt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Attempt
	for _, a := range s.attempts {
		if len(states) > 0 && !slices.Contains(states, a.State) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Drain(ctx context.Context, limit int, publish func(context.Context, []models.OutboxEntry) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		batch   []models.OutboxEntry
		indexes []int
	)
	for i, e := range s.outbox {
		if e.ProcessedAt != nil {
			continue
		}
		batch = append(batch, e)
		indexes = append(indexes, i)
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}
	now := requestcontext.Now(ctx)
	for _, i := range indexes {
		s.outbox[i].ProcessedAt = &now
	}
	return len(batch), nil
}
