package postgres

import (
	"context"
	"sort"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	versions := make([]string, len(Migrations))
	for i, m := range Migrations {
		versions[i] = m.Version
		assert.NotEmpty(t, m.SQL, m.Name)
	}
	assert.True(t, sort.StringsAreSorted(versions))
}

func TestMigrate_AppliesPendingAndSkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	for i, m := range Migrations {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(m.Version, m.Name).
			WillReturnResult(pgxmock.NewResult("INSERT", int64(i%2)))
		if i%2 == 1 {
			mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		}
		mock.ExpectCommit()
	}

	require.NoError(t, Migrate(context.Background(), mock, zerolog.Nop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FailureStops(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	first := Migrations[0]
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(first.Version, first.Name).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("CREATE").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock, zerolog.Nop())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), first.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
