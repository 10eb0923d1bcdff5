package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"educhain/internal/documents/models"
	"educhain/internal/identity"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	"educhain/pkg/platform/sentinel"
	txcontext "educhain/pkg/platform/tx"
)

// PostgresStore persists documents in PostgreSQL. The unique constraints on
// documents are the authority for duplicate detection.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const documentColumns = `
	id, public_id, kind, issuer_id, natural_key, holder_name, subject, roll_number,
	period_year, period_semester, identity_digest, identity_last4, content_hash,
	storage_key, public_url, ledger_tx_ref, anchor_status, anchor_skip_reason,
	claim_state, claimed_by, claimed_at, created_at`

func (s *PostgresStore) Exists(ctx context.Context, key models.UniquenessKey) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM documents
			WHERE issuer_id = $1 AND identity_digest = $2 AND natural_key = $3
		)
	`, uuid.UUID(key.IssuerID), key.Fingerprint, string(key.NaturalKey)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	return exists, nil
}

// Insert returns sentinel.ErrConflict when another document already holds the
// uniqueness key or public id.
func (s *PostgresStore) Insert(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	var claimedBy uuid.NullUUID
	if doc.ClaimedBy != nil {
		claimedBy = uuid.NullUUID{UUID: uuid.UUID(*doc.ClaimedBy), Valid: true}
	}
	var claimedAt sql.NullTime
	if doc.ClaimedAt != nil {
		claimedAt = sql.NullTime{Time: *doc.ClaimedAt, Valid: true}
	}
	var inserted uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(doc.ID),
		doc.PublicID,
		string(doc.Kind),
		uuid.UUID(doc.IssuerID),
		string(doc.NaturalKey),
		doc.HolderName,
		doc.Subject,
		doc.RollNumber,
		doc.Period.Year,
		doc.Period.Semester,
		doc.Identity.Digest,
		doc.Identity.LastFour,
		doc.ContentHash,
		doc.StorageKey,
		doc.PublicURL,
		doc.Anchor.TxRef,
		string(doc.Anchor.Status),
		string(doc.Anchor.SkipReason),
		string(doc.ClaimState),
		claimedBy,
		claimedAt,
		doc.CreatedAt,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", classify(err))
	}
	return nil
}

// classify maps constraint violations that ON CONFLICT does not absorb.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return sentinel.ErrConflict
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidState, pgErr.ConstraintName)
	default:
		return err
	}
}

func (s *PostgresStore) FindByPublicID(ctx context.Context, publicID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE public_id = $1`
	doc, err := scanDocument(s.execer(ctx).QueryRowContext(ctx, query, publicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document by public id: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) FindByTxRef(ctx context.Context, txRef string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE ledger_tx_ref = $1 AND anchor_status = $2
		ORDER BY created_at
		LIMIT 1`
	doc, err := scanDocument(s.execer(ctx).QueryRowContext(ctx, query, txRef, string(ledger.StatusAnchored)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document by tx ref: %w", err)
	}
	return doc, nil
}

// ClaimOne flips a single unclaimed document in one conditional UPDATE. When
// nothing matched it reports sentinel.ErrNotFound or sentinel.ErrAlreadyUsed.
func (s *PostgresStore) ClaimOne(ctx context.Context, key models.UniquenessKey, holder id.HolderID, at time.Time) (*models.Document, error) {
	query := `
		UPDATE documents
		SET claim_state = 'claimed', claimed_by = $4, claimed_at = $5
		WHERE issuer_id = $1 AND identity_digest = $2 AND natural_key = $3
		  AND claim_state = 'unclaimed'
		RETURNING ` + documentColumns
	exec := s.execer(ctx)
	doc, err := scanDocument(exec.QueryRowContext(ctx, query,
		uuid.UUID(key.IssuerID), key.Fingerprint, string(key.NaturalKey), uuid.UUID(holder), at))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim document: %w", classify(err))
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrAlreadyUsed
}

// ClaimAllUnclaimed claims every unclaimed document for the fingerprint in one
// statement, optionally restricted to a single issuer.
func (s *PostgresStore) ClaimAllUnclaimed(ctx context.Context, fingerprint string, issuer *id.IssuerID, holder id.HolderID, at time.Time) ([]*models.Document, error) {
	query := `
		UPDATE documents
		SET claim_state = 'claimed', claimed_by = $3, claimed_at = $4
		WHERE identity_digest = $1
		  AND claim_state = 'unclaimed'
		  AND ($2::uuid IS NULL OR issuer_id = $2)
		RETURNING ` + documentColumns
	var issuerArg uuid.NullUUID
	if issuer != nil {
		issuerArg = uuid.NullUUID{UUID: uuid.UUID(*issuer), Valid: true}
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, fingerprint, issuerArg, uuid.UUID(holder), at)
	if err != nil {
		return nil, fmt.Errorf("claim all documents: %w", classify(err))
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	sortByCreated(docs)
	return docs, nil
}

func (s *PostgresStore) ListByHolder(ctx context.Context, holder id.HolderID) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE claimed_by = $1 AND claim_state = 'claimed'
		ORDER BY created_at, public_id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(holder))
	if err != nil {
		return nil, fmt.Errorf("list documents by holder: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc        models.Document
		docID      uuid.UUID
		issuerID   uuid.UUID
		kind       string
		naturalKey string
		status     string
		reason     string
		claimState string
		claimedBy  uuid.NullUUID
		claimedAt  sql.NullTime
		digest     string
		lastFour   string
	)
	err := row.Scan(
		&docID,
		&doc.PublicID,
		&kind,
		&issuerID,
		&naturalKey,
		&doc.HolderName,
		&doc.Subject,
		&doc.RollNumber,
		&doc.Period.Year,
		&doc.Period.Semester,
		&digest,
		&lastFour,
		&doc.ContentHash,
		&doc.StorageKey,
		&doc.PublicURL,
		&doc.Anchor.TxRef,
		&status,
		&reason,
		&claimState,
		&claimedBy,
		&claimedAt,
		&doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.ID = id.DocumentID(docID)
	doc.IssuerID = id.IssuerID(issuerID)
	doc.Kind = models.Kind(kind)
	doc.NaturalKey = models.NaturalKey(naturalKey)
	doc.Identity = identity.Fingerprint{Digest: digest, LastFour: lastFour}
	doc.Anchor.Status = ledger.Status(status)
	doc.Anchor.SkipReason = ledger.SkipReason(reason)
	doc.ClaimState = models.ClaimState(claimState)
	if claimedBy.Valid {
		h := id.HolderID(claimedBy.UUID)
		doc.ClaimedBy = &h
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		doc.ClaimedAt = &t
	}
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
