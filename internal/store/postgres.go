package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/a2urelay/internal/domain"
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

const selectColumns = `identifier, user_reference, raw_address, destination_address, source_address,
	amount, memo, metadata, status, COALESCE(external_payment_id, ''), COALESCE(transaction_hash, ''),
	raw_response, created_at, updated_at`

// FindByIdentifier returns domain.ErrNotFound when no record exists.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*domain.PaymentRecord, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+selectColumns+" FROM a2u_payments WHERE identifier = $1", identifier)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment query failed: %w", err)
	}
	return rec, nil
}

// InsertIfAbsent is the duplicate-suppression gate: a single statement, so two racing
// requests for the same identifier cannot both observe created == true.
func (s *Store) InsertIfAbsent(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	tag, err := s.Db.Exec(ctx,
		`INSERT INTO a2u_payments
			(identifier, user_reference, raw_address, destination_address, source_address,
			 amount, memo, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (identifier) DO NOTHING`,
		rec.Identifier, rec.UserReference, rec.RawAddress, rec.DestinationAddress, rec.SourceAddress,
		rec.Amount, rec.Memo, metadata, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("payment reservation failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update advances a record only if it is still in the expected status (compare-and-set).
// The transaction hash column is write-once.
func (s *Store) Update(ctx context.Context, identifier string, expected domain.Status, u domain.RecordUpdate) error {
	if u.Status != expected && !expected.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, expected, u.Status)
	}
	tag, err := s.Db.Exec(ctx,
		`UPDATE a2u_payments SET
			status = $3,
			source_address = COALESCE($4, source_address),
			external_payment_id = COALESCE($5, external_payment_id),
			transaction_hash = COALESCE(transaction_hash, $6),
			raw_response = COALESCE($7, raw_response),
			updated_at = $8
		WHERE identifier = $1 AND status = $2`,
		identifier, string(expected), string(u.Status),
		nullIfEmpty(u.SourceAddress), nullIfEmpty(u.ExternalPaymentID), nullIfEmpty(u.TransactionHash),
		rawOrNil(u.RawResponse), u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payment update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindByIdentifier(ctx, identifier); errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.ErrStaleRecord
	}
	return nil
}

func scanRecord(row pgx.Row) (*domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	var status string
	var metadata, raw []byte
	err := row.Scan(
		&rec.Identifier, &rec.UserReference, &rec.RawAddress, &rec.DestinationAddress, &rec.SourceAddress,
		&rec.Amount, &rec.Memo, &metadata, &status, &rec.ExternalPaymentID, &rec.TransactionHash,
		&raw, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		rec.RawResponse = json.RawMessage(raw)
	}
	return &rec, nil
}

// decodeMetadata keeps numbers as json.Number so large integers survive a round trip.
func decodeMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rawOrNil hands pgx a string so the jsonb parameter is sent as text, or nil for NULL.
func rawOrNil(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
