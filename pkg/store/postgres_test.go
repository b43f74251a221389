package store

import (
	"bytes"
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/secrets"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *secrets.Service) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := secrets.NewService(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	return NewPostgresStoreWithDB(db, svc), mock, svc
}

func encryptConfig(t *testing.T, svc *secrets.Service, cfg *provider.Config) string {
	t.Helper()
	token, err := svc.Encrypt(toPayload(cfg))
	require.NoError(t, err)
	return token
}

func TestPostgresGetStore(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	rows := sqlmock.NewRows([]string{"domain", "enabled"}).AddRow("shop.example.com", true)
	mock.ExpectQuery("SELECT domain, enabled").WithArgs("store-1").WillReturnRows(rows)

	rec, err := s.GetStore(context.Background(), "store-1")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", rec.Domain)
	assert.True(t, rec.Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetStoreNotFound(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	mock.ExpectQuery("SELECT domain, enabled").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "enabled"}))

	_, err := s.GetStore(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestPostgresGetProviderDecrypts(t *testing.T) {
	s, mock, svc := newPostgresStore(t)

	cfg := &provider.Config{
		Kind:         "google",
		Protocol:     provider.ProtocolOIDC,
		ClientID:     "client-1",
		ClientSecret: "hunter2",
	}
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"enabled", "encrypted_config", "created_at", "updated_at"}).
		AddRow(true, encryptConfig(t, svc, cfg), now, now)
	mock.ExpectQuery("SELECT enabled, encrypted_config, created_at, updated_at FROM store_providers").
		WithArgs("store-1", "google-main").
		WillReturnRows(rows)

	rec, err := s.GetProvider(context.Background(), "store-1", "google-main")
	require.NoError(t, err)
	assert.Equal(t, "google", rec.Config.Kind)
	assert.Equal(t, "hunter2", rec.Config.ClientSecret, "secrets survive the encrypt/decrypt round trip")
	assert.Equal(t, now, rec.Config.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetProviderNotFound(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	mock.ExpectQuery("SELECT enabled, encrypted_config").
		WithArgs("store-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "encrypted_config", "created_at", "updated_at"}))

	_, err := s.GetProvider(context.Background(), "store-1", "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestPostgresGetProviderRejectsCorruptCiphertext(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"enabled", "encrypted_config", "created_at", "updated_at"}).
		AddRow(true, "v1:not:really:encrypted", now, now)
	mock.ExpectQuery("SELECT enabled, encrypted_config").
		WithArgs("store-1", "google-main").
		WillReturnRows(rows)

	_, err := s.GetProvider(context.Background(), "store-1", "google-main")
	require.Error(t, err)
	var dErr *secrets.DecryptionError
	assert.ErrorAs(t, err, &dErr)
}

func TestPostgresListProviders(t *testing.T) {
	s, mock, svc := newPostgresStore(t)

	now := time.Now().UTC()
	oidcCfg := &provider.Config{Kind: "google", Protocol: provider.ProtocolOIDC, ClientID: "a", ClientSecret: "b"}
	samlCfg := &provider.Config{Kind: "okta", Protocol: provider.ProtocolSAML, EntryPoint: "https://idp", Issuer: "idp", Certificate: "PEM"}

	rows := sqlmock.NewRows([]string{"provider_id", "enabled", "encrypted_config", "created_at", "updated_at"}).
		AddRow("google-main", true, encryptConfig(t, svc, oidcCfg), now, now).
		AddRow("okta-main", true, encryptConfig(t, svc, samlCfg), now, now)
	mock.ExpectQuery("SELECT provider_id, enabled, encrypted_config, created_at, updated_at FROM store_providers").
		WithArgs("store-1").
		WillReturnRows(rows)

	records, err := s.ListProviders(context.Background(), "store-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "google", records[0].Config.Kind)
	assert.Equal(t, "okta", records[1].Config.Kind)
}

func TestPostgresUpsertProviderEncrypts(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	mock.ExpectExec("INSERT INTO store_providers").
		WithArgs("store-1", "google-main", true, encryptedConfigArg{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertProvider(context.Background(), &ProviderRecord{
		StoreID:    "store-1",
		ProviderID: "google-main",
		Enabled:    true,
		Config:     &provider.Config{Kind: "google", ClientID: "a", ClientSecret: "topsecret"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// encryptedConfigArg asserts that the persisted config column is a sealed
// token, never the plaintext secret.
type encryptedConfigArg struct{}

func (encryptedConfigArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return len(s) > 3 && s[:3] == "v1:" && !bytes.Contains([]byte(s), []byte("topsecret"))
}

func TestPostgresDeleteProvider(t *testing.T) {
	s, mock, _ := newPostgresStore(t)

	mock.ExpectExec("DELETE FROM store_providers").
		WithArgs("store-1", "gone").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.DeleteProvider(context.Background(), "store-1", "gone"))

	mock.ExpectExec("DELETE FROM store_providers").
		WithArgs("store-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.DeleteProvider(context.Background(), "store-1", "missing"), ErrProviderNotFound)
}
