package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexwire/chatgate/internal/model"
)

// Schema is executed by the migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    tenant_id  VARCHAR(64)  NOT NULL PRIMARY KEY,
    blob       MEDIUMBLOB   NOT NULL,
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3)
) ENGINE=InnoDB;
`

type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

type credRow struct {
	TenantID  string    `db:"tenant_id"`
	Blob      []byte    `db:"blob"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *MySQLStore) Load(ctx context.Context, tenantID string) (*model.Credentials, error) {
	var row credRow
	err := s.db.GetContext(ctx, &row,
		`SELECT tenant_id, blob, updated_at FROM credentials WHERE tenant_id = ?`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &model.Credentials{TenantID: row.TenantID, Blob: row.Blob, UpdatedAt: row.UpdatedAt}, nil
}

func (s *MySQLStore) Save(ctx context.Context, creds *model.Credentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (tenant_id, blob) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE blob = VALUES(blob)`,
		creds.TenantID, creds.Blob)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
