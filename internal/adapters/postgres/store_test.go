package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, zap.NewNop()), mock
}

func TestCreateTables(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS metric_samples")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS metric_samples_series_id")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.CreateTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts and trims in one transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metric_samples")).
			WithArgs("system", at, []byte(`{"cpu":12.5}`)).
			WillReturnResult(sqlmock.NewResult(101, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM metric_samples")).
			WithArgs("system", 100).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.Record(context.Background(), "system", at, map[string]float64{"cpu": 12.5}, 100)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on insert failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metric_samples")).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := store.Record(context.Background(), "system", at, map[string]int{"cpu": 1}, 100)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert sample")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unencodable samples", func(t *testing.T) {
		store, mock := newMockStore(t)
		err := store.Record(context.Background(), "system", at, make(chan int), 100)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow([]byte(`{"cpu_percent":1}`)).
		AddRow([]byte(`{"cpu_percent":2}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM")).
		WithArgs("container:abc", 50).
		WillReturnRows(rows)

	got, err := store.Recent(context.Background(), "container:abc", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"cpu_percent":1}`, string(got[0]))
	assert.JSONEq(t, `{"cpu_percent":2}`, string(got[1]))
	assert.NoError(t, mock.ExpectationsWereMet())
}
