package database

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = fstest.MapFS{
	"001_create_stock_levels.up.sql":    {Data: []byte("CREATE TABLE stock_levels (id UUID PRIMARY KEY)")},
	"001_create_stock_levels.down.sql":  {Data: []byte("DROP TABLE stock_levels")},
	"002_create_stock_movements.up.sql": {Data: []byte("CREATE TABLE stock_movements (id UUID PRIMARY KEY)")},
	"migrations.go":                     {Data: []byte("package migrations")},
}

const appliedQuery = `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`

func expectApplied(mock pgxmock.PgxPoolIface, name string, applied bool) {
	mock.ExpectQuery(regexp.QuoteMeta(appliedQuery)).
		WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(applied))
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	expectApplied(mock, "001_create_stock_levels.up.sql", true)
	expectApplied(mock, "002_create_stock_movements.up.sql", false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE stock_movements").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_create_stock_movements.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, schema, quiet)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SQLErrorIsNotRetried(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	expectApplied(mock, "001_create_stock_levels.up.sql", false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE stock_levels").WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error"})
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, schema, quiet)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_create_stock_levels.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_NothingToDo(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err = RunMigrations(context.Background(), mock, fstest.MapFS{}, quiet)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
