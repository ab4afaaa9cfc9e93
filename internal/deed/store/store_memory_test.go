package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	"titledeed/pkg/platform/sentinel"
	"titledeed/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store.AddApplication(testApplication(42))
}

func testApplication(appID id.ApplicationID) models.Application {
	return models.Application{
		ApplicationID: appID,
		UserID:        7,
		FullName:      "Amina Okafor",
		NationID:      "NG-1234",
		PhoneNumber:   "+2348000000",
		LandCode:      "LC-" + appID.String(),
		LandType:      "residential",
		LandLayoutURL: "https://files.example/layout.pdf",
	}
}

func testIssuance(s suite.TestingSuite, app models.Application, deed id.DeedNumber, hashByte string) *models.Issuance {
	req := models.DeedRequest{Application: app, DeedNumber: deed}
	receipt := models.LedgerReceipt{
		TransactionHash: id.TxHash("0x" + strings.Repeat(hashByte, 32)),
		BlockNumber:     100,
		Status:          models.ReceiptStatusSuccessful,
	}
	iss, err := models.NewIssuance(req, receipt, time.Now())
	if err != nil {
		s.T().Fatalf("build issuance: %v", err)
	}
	return iss
}

const (
	deedA id.DeedNumber = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	deedB id.DeedNumber = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func (s *InMemoryStoreSuite) TestFetchApplication() {
	s.Run("returns the application", func() {
		app, err := s.store.FetchApplication(s.ctx, 42)
		s.Require().NoError(err)
		s.Equal("Amina Okafor", app.FullName)
	})

	s.Run("unknown application", func() {
		_, err := s.store.FetchApplication(s.ctx, 999)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("already issued", func() {
		s.Require().NoError(s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab")))
		_, err := s.store.FetchApplication(s.ctx, 42)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})
}

func (s *InMemoryStoreSuite) TestCommitIssuance() {
	s.Run("applies every record", func() {
		s.SetupTest()
		iss := testIssuance(s, testApplication(42), deedA, "ab")
		s.Require().NoError(s.store.CommitIssuance(s.ctx, iss))

		land, ok := s.store.Land("LC-42")
		s.Require().True(ok)
		s.Equal(int64(7), land.OwnerID)
		s.Equal(models.LandStatusOwned, land.LandStatus)

		entry, ok := s.store.LogEntry(iss.Log.TransactionHash)
		s.Require().True(ok)
		s.Equal(deedA, entry.DeedNumber)

		deeds, logs, outbox := s.store.Counts()
		s.Equal([3]int{1, 1, 1}, [3]int{deeds, logs, outbox})

		deed, txHash, err := s.store.FindDeedByApplication(s.ctx, 42)
		s.Require().NoError(err)
		s.Equal(deedA, deed.DeedNumber)
		s.Equal(iss.Log.TransactionHash, txHash)
	})

	s.Run("re-applying the same issuance is a no-op", func() {
		s.SetupTest()
		iss := testIssuance(s, testApplication(42), deedA, "ab")
		s.Require().NoError(s.store.CommitIssuance(s.ctx, iss))
		s.Require().NoError(s.store.CommitIssuance(s.ctx, iss))

		deeds, logs, outbox := s.store.Counts()
		s.Equal([3]int{1, 1, 1}, [3]int{deeds, logs, outbox})
		s.Equal(1, s.store.Commits())
	})

	s.Run("different deed for an issued application conflicts", func() {
		s.SetupTest()
		s.Require().NoError(s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab")))
		err := s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedB, "cd"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("transaction hash reuse conflicts", func() {
		s.SetupTest()
		s.store.AddApplication(testApplication(43))
		s.Require().NoError(s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab")))
		err := s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(43), deedB, "ab"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("deed number reuse conflicts", func() {
		s.SetupTest()
		s.store.AddApplication(testApplication(43))
		s.Require().NoError(s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab")))
		err := s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(43), deedA, "cd"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	for _, step := range []CommitStep{StepLand, StepDeed, StepLog, StepOutbox, StepAttempt} {
		s.Run("failure at "+string(step)+" leaves nothing applied", func() {
			s.SetupTest()
			s.store.FailCommitAt(step, errors.New("disk full"))
			err := s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab"))
			s.Require().Error(err)

			deeds, logs, outbox := s.store.Counts()
			s.Equal([3]int{0, 0, 0}, [3]int{deeds, logs, outbox})
			land, _ := s.store.Land("LC-42")
			s.Zero(land.OwnerID)

			_, err = s.store.FetchApplication(s.ctx, 42)
			s.NoError(err)
		})
	}
}

func (s *InMemoryStoreSuite) TestAttemptJournal() {
	s.Run("one open attempt per application", func() {
		s.SetupTest()
		first := models.NewAttempt(42, deedA, "", s.now)
		s.Require().NoError(s.store.BeginAttempt(s.ctx, first))
		err := s.store.BeginAttempt(s.ctx, models.NewAttempt(42, deedB, "", s.now))
		s.ErrorIs(err, sentinel.ErrConflict)

		first.Transition(models.StateSubmissionFailed, errors.New("rejected"), s.now)
		s.Require().NoError(s.store.MarkState(s.ctx, first))
		s.NoError(s.store.BeginAttempt(s.ctx, models.NewAttempt(42, deedB, "", s.now)))
	})

	s.Run("commit completes the submitted attempt", func() {
		s.SetupTest()
		iss := testIssuance(s, testApplication(42), deedA, "ab")
		attempt := models.NewAttempt(42, deedA, "trace-1", s.now)
		s.Require().NoError(s.store.BeginAttempt(s.ctx, attempt))
		s.Require().NoError(s.store.MarkSubmitted(s.ctx, attempt.ID, iss.Log.TransactionHash, 7))

		open, err := s.store.FindOpenAttempt(s.ctx, 42)
		s.Require().NoError(err)
		s.Equal(models.StateAwaitingConfirmation, open.State)
		s.Require().NotNil(open.Nonce)
		s.Equal(uint64(7), *open.Nonce)

		s.Require().NoError(s.store.CommitIssuance(s.ctx, iss))
		byHash, err := s.store.FindAttemptByTxHash(s.ctx, iss.Log.TransactionHash)
		s.Require().NoError(err)
		s.Equal(models.StateCompleted, byHash.State)

		_, err = s.store.FindOpenAttempt(s.ctx, 42)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("list filters by state", func() {
		s.SetupTest()
		s.store.AddApplication(testApplication(43))
		a := models.NewAttempt(42, deedA, "", s.now)
		b := models.NewAttempt(43, deedB, "", s.now.Add(time.Second))
		s.Require().NoError(s.store.BeginAttempt(s.ctx, a))
		s.Require().NoError(s.store.BeginAttempt(s.ctx, b))
		b.Transition(models.StateConfirmationUnknown, errors.New("timeout"), s.now.Add(2*time.Second))
		s.Require().NoError(s.store.MarkState(s.ctx, b))

		got, err := s.store.ListAttempts(s.ctx, []models.State{models.StateConfirmationUnknown}, 10)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(b.ID, got[0].ID)
		s.Equal(models.RetryReconcile, got[0].RetryScope)

		all, err := s.store.ListAttempts(s.ctx, nil, 0)
		s.Require().NoError(err)
		s.Len(all, 2)
	})

	s.Run("state journal backfills a transaction missing from the row", func() {
		s.SetupTest()
		attempt := models.NewAttempt(42, deedA, "", s.now)
		s.Require().NoError(s.store.BeginAttempt(s.ctx, attempt))

		nonce := uint64(4)
		attempt.TxHash, attempt.Nonce = "0x0abc", &nonce
		attempt.Transition(models.StateCommitFailed, errors.New("commit failed"), s.now)
		s.Require().NoError(s.store.MarkState(s.ctx, attempt))

		found, err := s.store.FindAttemptByTxHash(s.ctx, "0x0abc")
		s.Require().NoError(err)
		s.Equal(attempt.ID, found.ID)
		s.Equal(models.RetryCommitOnly, found.RetryScope)
		s.Require().NotNil(found.Nonce)
		s.Equal(uint64(4), *found.Nonce)
	})

	s.Run("mark unknown attempt", func() {
		s.SetupTest()
		err := s.store.MarkSubmitted(s.ctx, id.NewAttemptID(), "0x01", 1)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestDrain() {
	s.Require().NoError(s.store.CommitIssuance(s.ctx, testIssuance(s, testApplication(42), deedA, "ab")))

	s.Run("publish failure keeps rows pending", func() {
		n, err := s.store.Drain(s.ctx, 10, func(context.Context, []models.OutboxEntry) error {
			return errors.New("broker down")
		})
		s.Require().Error(err)
		s.Zero(n)
		_, _, pending := s.store.Counts()
		s.Equal(1, pending)
	})

	s.Run("published rows are marked", func() {
		var got []models.OutboxEntry
		n, err := s.store.Drain(s.ctx, 10, func(_ context.Context, batch []models.OutboxEntry) error {
			got = batch
			return nil
		})
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(models.EventDeedIssued, got[0].EventType)
		s.Equal(deedA.String(), got[0].AggregateID)
		_, _, pending := s.store.Counts()
		s.Zero(pending)
	})
}
