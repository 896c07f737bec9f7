package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/errors"
)

// newMockDB returns a DB backed by sqlmock and fails the test on unmet
// expectations.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return NewFromSQLX(sqlx.NewDb(sqlDB, "postgres")), mock
}

// jsonArg matches a []byte argument holding JSON equal to want.
type jsonArg struct{ want string }

func (a jsonArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var got, want any
	if json.Unmarshal(raw, &got) != nil || json.Unmarshal([]byte(a.want), &want) != nil {
		return false
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	return string(gotJSON) == string(wantJSON)
}

func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errors.ErrorCode
	}{
		{"no rows", sql.ErrNoRows, errors.CodeNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, errors.CodeConflict},
		{"not null", &pq.Error{Code: "23502"}, errors.CodeValidation},
		{"check violation", &pq.Error{Code: "23514"}, errors.CodeValidation},
		{"canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"connection lost", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"other pq error", &pq.Error{Code: "42P01"}, errors.CodeDatabaseQuery},
		{"plain error", stderrors.New("driver: bad connection"), errors.CodeDatabaseQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("test op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.NotContains(t, err.Error(), "password")
		})
	}

	assert.NoError(t, sanitizeDBError("noop", nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.False(t, cfg.IsConfigured())

	cfg.Database = "portscout"
	cfg.Username = "scanner"
	assert.True(t, cfg.IsConfigured())
	assert.Contains(t, cfg.DSN(), "dbname=portscout")
}

func TestConnectRequiresConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	_, err := Connect(context.Background(), &cfg)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestMigratorUp(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_profiles")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("001_initial_schema", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ran, err := NewMigrator(database.DB).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema"}, ran)
}

func TestMigratorUpReportsFailedStatement(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_profiles")).
		WillReturnError(&pq.Error{Code: "42601", Message: "syntax error"})
	mock.ExpectRollback()

	ran, err := NewMigrator(database.DB).Up(context.Background())
	require.Error(t, err)
	assert.Empty(t, ran)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseQuery))

	var dbErr *errors.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "001_initial_schema.sql", dbErr.Query)
}

func TestMigratorUpSkipsApplied(t *testing.T) {
	database, mock := newMockDB(t)

	content, err := migrationFiles.ReadFile("001_initial_schema.sql")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", time.Now(), calculateChecksum(content)))

	ran, err := NewMigrator(database.DB).Up(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ran)
}

func TestMigratorStatus(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", time.Now(), "stale-checksum"))

	statuses, err := NewMigrator(database.DB).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[0].Modified)
}

func TestMigratorUpFailureRollsBack(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_profiles")).
		WillReturnError(stderrors.New("syntax error"))
	mock.ExpectRollback()

	_, err := NewMigrator(database.DB).Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_initial_schema")
}
