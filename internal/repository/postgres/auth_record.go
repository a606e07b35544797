package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

var _ model.AuthRecordStore = (*AuthRecordRepository)(nil)

// AuthRecordRepository persists auth records as jsonb documents. The
// revision column backs the optimistic save: a stale writer gets
// model.ErrConflict and must re-read before retrying.
type AuthRecordRepository struct {
	db *Connection
}

func NewAuthRecordRepository(db *Connection) *AuthRecordRepository {
	return &AuthRecordRepository{
		db: db,
	}
}

func (r *AuthRecordRepository) Get(ctx context.Context, id string) (model.AuthRecord, error) {
	var (
		doc      []byte
		revision int64
	)
	query := `SELECT doc, revision FROM auth_records WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(&doc, &revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuthRecord{}, model.ErrNotFound
		}
		return model.AuthRecord{}, fmt.Errorf("failed to get auth record: %w", err)
	}

	var record model.AuthRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to decode auth record: %w", err)
	}
	record.Revision = revision

	return record, nil
}

func (r *AuthRecordRepository) Create(ctx context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to encode auth record: %w", err)
	}

	query := `INSERT INTO auth_records (id, email, status, doc, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now()
	_, err = r.db.Exec(ctx, query, record.ID, record.Email, string(record.Status), doc, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.AuthRecord{}, model.ErrConflict
		}
		return model.AuthRecord{}, fmt.Errorf("failed to create auth record: %w", err)
	}

	record.Revision = 1
	return record, nil
}

func (r *AuthRecordRepository) Save(ctx context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to encode auth record: %w", err)
	}

	query := `UPDATE auth_records
			  SET status = $2, doc = $3, revision = revision + 1, updated_at = $4
			  WHERE id = $1 AND revision = $5
			  RETURNING revision`

	var revision int64
	err = r.db.QueryRow(ctx, query, record.ID, string(record.Status), doc, time.Now(), record.Revision).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuthRecord{}, r.saveConflict(ctx, record.ID)
		}
		return model.AuthRecord{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	record.Revision = revision
	return record, nil
}

// saveConflict distinguishes a missing row from a lost revision race.
func (r *AuthRecordRepository) saveConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auth_records WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}
	if !exists {
		return model.ErrNotFound
	}
	return model.ErrConflict
}
