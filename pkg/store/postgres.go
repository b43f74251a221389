package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/secrets"
)

// PostgresStore persists provider configurations in PostgreSQL. The config
// JSON is encrypted with the secrets service before insert, so the database
// never sees client secrets or private keys in cleartext.
type PostgresStore struct {
	db      *sql.DB
	secrets *secrets.Service
}

// PostgresConfig holds database connection configuration.
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// NewPostgresStore opens and pings a PostgreSQL connection pool.
func NewPostgresStore(cfg PostgresConfig, svc *secrets.Service) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{db: db, secrets: svc}, nil
}

// NewPostgresStoreWithDB wraps an existing connection. Used by tests.
func NewPostgresStoreWithDB(db *sql.DB, svc *secrets.Service) *PostgresStore {
	return &PostgresStore{db: db, secrets: svc}
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// GetStore retrieves one tenant record.
func (s *PostgresStore) GetStore(ctx context.Context, storeID string) (*StoreRecord, error) {
	rec := &StoreRecord{ID: storeID}
	err := s.db.QueryRowContext(ctx, `
		SELECT domain, enabled
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&rec.Domain, &rec.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query store: %w", err)
	}
	return rec, nil
}

// GetProvider retrieves and decrypts one provider record.
func (s *PostgresStore) GetProvider(ctx context.Context, storeID, providerID string) (*ProviderRecord, error) {
	var (
		encrypted string
		rec       = &ProviderRecord{StoreID: storeID, ProviderID: providerID}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, encrypted_config, created_at, updated_at
		FROM store_providers
		WHERE store_id = $1 AND provider_id = $2
	`, storeID, providerID).Scan(&rec.Enabled, &encrypted, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider: %w", err)
	}

	payload, err := secrets.Decrypt[configPayload](s.secrets, encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt provider config: %w", err)
	}
	rec.Config = payload.toConfig(rec.UpdatedAt)
	return rec, nil
}

// ListProviders retrieves the store's enabled providers ordered by ID.
func (s *PostgresStore) ListProviders(ctx context.Context, storeID string) ([]*ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, enabled, encrypted_config, created_at, updated_at
		FROM store_providers
		WHERE store_id = $1 AND enabled = true
		ORDER BY provider_id
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var records []*ProviderRecord
	for rows.Next() {
		var encrypted string
		rec := &ProviderRecord{StoreID: storeID}
		if err := rows.Scan(&rec.ProviderID, &rec.Enabled, &encrypted, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		payload, err := secrets.Decrypt[configPayload](s.secrets, encrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt provider %s: %w", rec.ProviderID, err)
		}
		rec.Config = payload.toConfig(rec.UpdatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertProvider encrypts the config and writes the record, bumping
// updated_at on conflict so cached engines roll over.
func (s *PostgresStore) UpsertProvider(ctx context.Context, rec *ProviderRecord) error {
	encrypted, err := s.secrets.Encrypt(toPayload(rec.Config))
	if err != nil {
		return fmt.Errorf("failed to encrypt provider config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO store_providers (store_id, provider_id, enabled, encrypted_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (store_id, provider_id)
		DO UPDATE SET enabled = $3, encrypted_config = $4, updated_at = NOW()
	`, rec.StoreID, rec.ProviderID, rec.Enabled, encrypted)
	if err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}
	return nil
}

// DeleteProvider removes a provider record.
func (s *PostgresStore) DeleteProvider(ctx context.Context, storeID, providerID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM store_providers
		WHERE store_id = $1 AND provider_id = $2
	`, storeID, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrProviderNotFound
	}
	return nil
}
