package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	"titledeed/pkg/platform/sentinel"
	"titledeed/pkg/requestcontext"
)

const pgUniqueViolation = "23505"

// PostgresStore persists issuance state in PostgreSQL. The connection is
// expected to use the pgx stdlib driver.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, txTimeout: defaultTxTimeout}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *PostgresStore) FetchApplication(ctx context.Context, applicationID id.ApplicationID) (*models.Application, error) {
	query := `
		SELECT
			a.id,
			u.id,
			u.full_name,
			u.nation_id,
			u.phone_number,
			l.land_id,
			l.type,
			l.layout,
			a.application_date,
			EXISTS (SELECT 1 FROM title_deeds td WHERE td.application_number = a.id)
		FROM applications a
		LEFT JOIN users u ON a.user_id = u.id
		LEFT JOIN land l ON a.land_id = l.land_id
		WHERE a.id = $1
	`
	var (
		app      models.Application
		userID   sql.NullInt64
		fullName sql.NullString
		nationID sql.NullString
		phone    sql.NullString
		landCode sql.NullString
		landType sql.NullString
		layout   sql.NullString
		issued   bool
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, int64(applicationID)).Scan(
		&app.ApplicationID,
		&userID,
		&fullName,
		&nationID,
		&phone,
		&landCode,
		&landType,
		&layout,
		&app.ApplicationDate,
		&issued,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch application: %w", err)
	}
	if issued {
		return nil, sentinel.ErrAlreadyUsed
	}
	app.UserID = userID.Int64
	app.FullName = fullName.String
	app.NationID = nationID.String
	app.PhoneNumber = phone.String
	app.LandCode = landCode.String
	app.LandType = landType.String
	app.LandLayoutURL = layout.String
	return &app, nil
}

func (s *PostgresStore) FindDeedByApplication(ctx context.Context, applicationID id.ApplicationID) (*models.TitleDeedRecord, id.TxHash, error) {
	query := `
		SELECT td.application_number, td.deed_number, td.approved, td.expiry_date, td.title_deed, td.type,
			COALESCE(bt.transaction_hash, '')
		FROM title_deeds td
		LEFT JOIN blockchain_transactions bt ON bt.title_deed_number = td.deed_number
		WHERE td.application_number = $1
	`
	var (
		deed   models.TitleDeedRecord
		txHash string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, int64(applicationID)).Scan(
		&deed.ApplicationID,
		&deed.DeedNumber,
		&deed.Approved,
		&deed.ExpiryDate,
		&deed.TitleDeedName,
		&deed.LandType,
		&txHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", sentinel.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("find deed: %w", err)
	}
	return &deed, id.TxHash(txHash), nil
}

// CommitIssuance writes every relational effect of a confirmed attestation in
// one transaction. An issuance already committed with the same deed number and
// transaction hash returns nil; any other collision returns
// sentinel.ErrConflict.
func (s *PostgresStore) CommitIssuance(ctx context.Context, iss *models.Issuance) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		done, err := s.checkExisting(ctx, iss)
		if err != nil || done {
			return err
		}
		if err := s.updateLand(ctx, iss.Land); err != nil {
			return err
		}
		if err := s.insertDeed(ctx, iss.Deed); err != nil {
			return err
		}
		if err := s.insertLog(ctx, iss.Log, iss.Receipt.BlockNumber); err != nil {
			return err
		}
		if err := s.insertOutbox(ctx, iss); err != nil {
			return err
		}
		return s.completeAttempt(ctx, iss.Log.TransactionHash)
	})
}

// checkExisting locks the application's deed row, if any, and decides whether
// the commit already happened.
func (s *PostgresStore) checkExisting(ctx context.Context, iss *models.Issuance) (bool, error) {
	var existingDeed string
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT deed_number FROM title_deeds WHERE application_number = $1 FOR UPDATE`,
		int64(iss.Deed.ApplicationID),
	).Scan(&existingDeed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existingDeed = ""
	case err != nil:
		return false, fmt.Errorf("lock title deed: %w", err)
	}

	var loggedDeed string
	err = s.execer(ctx).QueryRowContext(ctx,
		`SELECT title_deed_number FROM blockchain_transactions WHERE transaction_hash = $1`,
		iss.Log.TransactionHash.String(),
	).Scan(&loggedDeed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		loggedDeed = ""
	case err != nil:
		return false, fmt.Errorf("lookup transaction log: %w", err)
	}

	if existingDeed == "" && loggedDeed == "" {
		return false, nil
	}
	if existingDeed == iss.Deed.DeedNumber.String() && loggedDeed == existingDeed {
		return true, s.completeAttempt(ctx, iss.Log.TransactionHash)
	}
	return false, fmt.Errorf("application %s already has deed %q (tx log deed %q): %w",
		iss.Deed.ApplicationID, existingDeed, loggedDeed, sentinel.ErrConflict)
}

func (s *PostgresStore) updateLand(ctx context.Context, land models.LandRecord) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE land SET owner_id = $1, land_status = $2 WHERE land_id = $3`,
		land.OwnerID, land.LandStatus, land.LandCode,
	)
	if err != nil {
		return fmt.Errorf("update land: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update land: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("land %s: %w", land.LandCode, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) insertDeed(ctx context.Context, deed models.TitleDeedRecord) error {
	query := `
		INSERT INTO title_deeds (application_number, deed_number, approved, expiry_date, title_deed, type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		int64(deed.ApplicationID),
		deed.DeedNumber.String(),
		deed.Approved,
		deed.ExpiryDate,
		deed.TitleDeedName,
		deed.LandType,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert title deed: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert title deed: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertLog(ctx context.Context, entry models.TransactionLogEntry, block uint64) error {
	query := `
		INSERT INTO blockchain_transactions (
			user_id, transaction_hash, title_deed_number, title_deed_name, land_code,
			owner_nation_id, owner_phone_number, land_type, land_layout_url,
			metadata_digest, block_number
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.UserID,
		entry.TransactionHash.String(),
		entry.DeedNumber.String(),
		entry.TitleDeedName,
		entry.LandCode,
		entry.OwnerNationID,
		entry.OwnerPhoneNumber,
		entry.LandType,
		entry.LandLayoutURL,
		entry.MetadataDigest,
		int64(block),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert transaction log: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transaction log: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertOutbox(ctx context.Context, iss *models.Issuance) error {
	now := requestcontext.Now(ctx)
	payload, err := json.Marshal(iss.Event(now))
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		"title_deed",
		iss.Deed.DeedNumber.String(),
		models.EventDeedIssued,
		payload,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) completeAttempt(ctx context.Context, txHash id.TxHash) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE issuance_attempts
		SET state = $1, retry_scope = $2, last_error = NULL, updated_at = $3
		WHERE tx_hash = $4
	`, string(models.StateCompleted), string(models.RetryNone), requestcontext.Now(ctx), txHash.String())
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	return nil
}

// =============================================================================
// Attempt journal
// =============================================================================

const attemptColumns = `id, application_id, deed_number, tx_hash, nonce, state, retry_scope,
	last_error, trace_id, metadata_digest, created_at, updated_at`

func (s *PostgresStore) BeginAttempt(ctx context.Context, a *models.Attempt) error {
	query := `
		INSERT INTO issuance_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, NULL, $6, NULLIF($7, ''), $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID),
		int64(a.ApplicationID),
		a.DeedNumber.String(),
		string(a.State),
		string(a.RetryScope),
		a.TraceID,
		a.MetadataDigest,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("begin attempt for application %s: %w", a.ApplicationID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("begin attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSubmitted(ctx context.Context, attemptID id.AttemptID, txHash id.TxHash, nonce uint64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE issuance_attempts
		SET tx_hash = $1, nonce = $2, state = $3, retry_scope = $4, updated_at = $5
		WHERE id = $6
	`,
		txHash.String(),
		int64(nonce),
		string(models.StateAwaitingConfirmation),
		string(models.RetryNone),
		requestcontext.Now(ctx),
		uuid.UUID(attemptID),
	)
	return checkAttemptUpdate(res, err, "mark submitted")
}

// MarkState journals a's state. A transaction hash and nonce carried by a
// are written too when the row does not have them yet.
func (s *PostgresStore) MarkState(ctx context.Context, a *models.Attempt) error {
	var (
		lastError sql.NullString
		nonce     sql.NullInt64
	)
	if a.LastError != "" {
		lastError = sql.NullString{String: a.LastError, Valid: true}
	}
	if a.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*a.Nonce), Valid: true}
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE issuance_attempts
		SET state = $1, retry_scope = $2, last_error = $3, updated_at = $4,
			tx_hash = COALESCE(tx_hash, NULLIF($5, '')), nonce = COALESCE(nonce, $6)
		WHERE id = $7
	`,
		string(a.State),
		string(a.RetryScope),
		lastError,
		a.UpdatedAt,
		a.TxHash.String(),
		nonce,
		uuid.UUID(a.ID),
	)
	return checkAttemptUpdate(res, err, "mark state")
}

func checkAttemptUpdate(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindOpenAttempt(ctx context.Context, applicationID id.ApplicationID) (*models.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM issuance_attempts
		WHERE application_id = $1 AND state = ANY($2)
		ORDER BY created_at DESC LIMIT 1`
	row := s.execer(ctx).QueryRowContext(ctx, query, int64(applicationID), pq.Array(stateNames(openStates)))
	return scanAttempt(row)
}

func (s *PostgresStore) FindAttemptByTxHash(ctx context.Context, txHash id.TxHash) (*models.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM issuance_attempts WHERE tx_hash = $1`
	return scanAttempt(s.execer(ctx).QueryRowContext(ctx, query, txHash.String()))
}

func (s *PostgresStore) ListAttempts(ctx context.Context, states []models.State, limit int) ([]*models.Attempt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = s.execer(ctx).QueryContext(ctx,
			`SELECT `+attemptColumns+` FROM issuance_attempts ORDER BY updated_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.execer(ctx).QueryContext(ctx,
			`SELECT `+attemptColumns+` FROM issuance_attempts WHERE state = ANY($1) ORDER BY updated_at DESC LIMIT $2`,
			pq.Array(stateNames(states)), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*models.Attempt, error) {
	var (
		a         models.Attempt
		attemptID uuid.UUID
		appID     int64
		deed      string
		txHash    sql.NullString
		nonce     sql.NullInt64
		state     string
		scope     string
		lastError sql.NullString
		traceID   sql.NullString
		digest    sql.NullString
	)
	err := row.Scan(&attemptID, &appID, &deed, &txHash, &nonce, &state, &scope,
		&lastError, &traceID, &digest, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	a.ID = id.AttemptID(attemptID)
	a.ApplicationID = id.ApplicationID(appID)
	a.DeedNumber = id.DeedNumber(deed)
	a.TxHash = id.TxHash(txHash.String)
	if nonce.Valid {
		n := uint64(nonce.Int64)
		a.Nonce = &n
	}
	a.State = models.State(state)
	a.RetryScope = models.RetryScope(scope)
	a.LastError = lastError.String
	a.TraceID = traceID.String
	a.MetadataDigest = digest.String
	return &a, nil
}
