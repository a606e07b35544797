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

var _ model.OrgStore = (*OrgRepository)(nil)

// OrgRepository persists organizations as jsonb documents with the same
// optimistic revision scheme as auth records.
type OrgRepository struct {
	db *Connection
}

func NewOrgRepository(db *Connection) *OrgRepository {
	return &OrgRepository{
		db: db,
	}
}

func (r *OrgRepository) Get(ctx context.Context, id string) (model.Org, error) {
	var (
		doc      []byte
		revision int64
	)
	query := `SELECT doc, revision FROM orgs WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(&doc, &revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Org{}, model.ErrNotFound
		}
		return model.Org{}, fmt.Errorf("failed to get org: %w", err)
	}

	var org model.Org
	if err := json.Unmarshal(doc, &org); err != nil {
		return model.Org{}, fmt.Errorf("failed to decode org: %w", err)
	}
	org.Revision = revision

	return org, nil
}

func (r *OrgRepository) Create(ctx context.Context, org model.Org) (model.Org, error) {
	doc, err := json.Marshal(org)
	if err != nil {
		return model.Org{}, fmt.Errorf("failed to encode org: %w", err)
	}

	query := `INSERT INTO orgs (id, name, doc, updated_at) VALUES ($1, $2, $3, $4)`

	_, err = r.db.Exec(ctx, query, org.ID, org.Name, doc, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Org{}, model.ErrConflict
		}
		return model.Org{}, fmt.Errorf("failed to create org: %w", err)
	}

	org.Revision = 1
	return org, nil
}

func (r *OrgRepository) Save(ctx context.Context, org model.Org) (model.Org, error) {
	doc, err := json.Marshal(org)
	if err != nil {
		return model.Org{}, fmt.Errorf("failed to encode org: %w", err)
	}

	query := `UPDATE orgs
			  SET name = $2, doc = $3, revision = revision + 1, updated_at = $4
			  WHERE id = $1 AND revision = $5
			  RETURNING revision`

	var revision int64
	err = r.db.QueryRow(ctx, query, org.ID, org.Name, doc, time.Now(), org.Revision).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Org{}, r.saveConflict(ctx, org.ID)
		}
		return model.Org{}, fmt.Errorf("failed to save org: %w", err)
	}

	org.Revision = revision
	return org, nil
}

func (r *OrgRepository) saveConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orgs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to save org: %w", err)
	}
	if !exists {
		return model.ErrNotFound
	}
	return model.ErrConflict
}
