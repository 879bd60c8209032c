package output

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/eventstream/internal/models"
)

func newMockHandler(t *testing.T) (*PostgresOutputHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return newPostgresOutputHandler(db), mock
}

func TestPostgresWriteBlock(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocks")).
		WithArgs(int64(12), "manifest-1", blockTime, "FFEE", int64(1), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tx_errors")).
		WithArgs(int64(12), "ABC", int64(5), "out of gas", "500", "umfx").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, h.Write(context.Background(), testBlock(12)))
}

func TestPostgresWriteBlockIsIdempotent(t *testing.T) {
	h, mock := newMockHandler(t)

	block := testBlock(12)
	block.TxErrors = nil
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (height) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, h.Write(context.Background(), block))
}

func TestPostgresWriteBlockRollsBack(t *testing.T) {
	h, mock := newMockHandler(t)
	errConn := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocks")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tx_errors")).WillReturnError(errConn)
	mock.ExpectRollback()

	err := h.Write(context.Background(), testBlock(12))
	require.ErrorIs(t, err, errConn)
	assert.ErrorContains(t, err, "failed to insert tx error ABC")
}

func TestPostgresWriteHeader(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO headers")).
		WithArgs(int64(13), "manifest-1", blockTime, "PROPOSER", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, h.Write(context.Background(), testHeader(13)))
}

func TestPostgresLatestHeight(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(height), 0) FROM blocks")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(2270369)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(height), 0) FROM headers")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))

	height, err := h.LatestHeight(context.Background(), models.KindBlock)
	require.NoError(t, err)
	assert.Equal(t, uint64(2270369), height)

	height, err = h.LatestHeight(context.Background(), models.KindHeader)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)

	_, err = h.LatestHeight(context.Background(), "tx")
	assert.ErrorContains(t, err, `unsupported record kind "tx"`)
}

func TestPostgresClose(t *testing.T) {
	h, mock := newMockHandler(t)
	mock.ExpectClose()
	require.NoError(t, h.Close())
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS blocks")
	assert.Contains(t, string(up), "PRIMARY KEY (height, tx_hash)")

	_, err = migrationsFS.ReadFile("migrations/000001_init.down.sql")
	require.NoError(t, err)
}
