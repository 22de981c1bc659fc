package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_InvalidComponent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = RunMigrations(context.Background(), db, "drop table--", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid component name")
}

func TestRunMigrations_AppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, Description: "create things", SQL: "CREATE TABLE things (id INT)"},
		{Version: 2, Description: "add column", SQL: "ALTER TABLE things ADD COLUMN name TEXT"},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS hierarchy_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// version 1 already applied
	mock.ExpectQuery("SELECT version FROM hierarchy_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE things ADD COLUMN name TEXT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO hierarchy_migrations").
		WithArgs(2, "add column").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), db, "hierarchy", migrations, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_NothingPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, Description: "create things", SQL: "CREATE TABLE things (id INT)"},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM audit_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	err = RunMigrations(context.Background(), db, "audit", migrations, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, Description: "broken", SQL: "CREATE TABLE broken"},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM catalog_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), db, "catalog", migrations, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute catalog migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
