package output

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/manifest-network/eventstream/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	insertBlock = `INSERT INTO blocks (height, chain_id, time, last_hash, num_txs, historical, data)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (height) DO NOTHING`

	insertTxError = `INSERT INTO tx_errors (height, tx_hash, code, info, fee, denom)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (height, tx_hash) DO NOTHING`

	insertHeader = `INSERT INTO headers (height, chain_id, time, proposer, data)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (height) DO NOTHING`
)

var latestHeightQueries = map[string]string{
	models.KindBlock:  `SELECT COALESCE(MAX(height), 0) FROM blocks`,
	models.KindHeader: `SELECT COALESCE(MAX(height), 0) FROM headers`,
}

// PostgresOutputHandler stores blocks, headers and failed transactions. Inserts are idempotent.
type PostgresOutputHandler struct {
	db *sql.DB
}

// NewPostgresOutputHandler connects to dsn and applies the schema migrations.
func NewPostgresOutputHandler(ctx context.Context, dsn string) (*PostgresOutputHandler, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return newPostgresOutputHandler(db), nil
}

func newPostgresOutputHandler(db *sql.DB) *PostgresOutputHandler {
	return &PostgresOutputHandler{db: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		slog.Info("Database schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

func (h *PostgresOutputHandler) Write(ctx context.Context, record models.Record) error {
	switch r := record.(type) {
	case *models.StreamBlock:
		return h.writeBlock(ctx, r)
	case *models.BlockHeader:
		return h.writeHeader(ctx, r)
	default:
		return fmt.Errorf("unsupported record kind %q", record.Kind())
	}
}

func (h *PostgresOutputHandler) writeBlock(ctx context.Context, b *models.StreamBlock) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %d: %w", b.GetHeight(), err)
	}
	header := b.Block.Header

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Warn("Failed to roll back transaction", "height", b.GetHeight(), "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, insertBlock,
		int64(header.Height), header.ChainID, header.Time, header.LastBlockID.Hash,
		len(b.Block.Data.Txs), b.Historical, string(data),
	); err != nil {
		return fmt.Errorf("failed to insert block %d: %w", b.GetHeight(), err)
	}
	for _, e := range b.TxErrors {
		if _, err := tx.ExecContext(ctx, insertTxError,
			int64(e.BlockHeight), e.TxHash, int64(e.Code), e.Info, fmt.Sprint(e.Fee), e.Denom,
		); err != nil {
			return fmt.Errorf("failed to insert tx error %s: %w", e.TxHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", b.GetHeight(), err)
	}
	return nil
}

func (h *PostgresOutputHandler) writeHeader(ctx context.Context, header *models.BlockHeader) error {
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header %d: %w", header.GetHeight(), err)
	}
	if _, err := h.db.ExecContext(ctx, insertHeader,
		int64(header.Height), header.ChainID, header.Time, header.ProposerAddress, string(data),
	); err != nil {
		return fmt.Errorf("failed to insert header %d: %w", header.GetHeight(), err)
	}
	return nil
}

func (h *PostgresOutputHandler) LatestHeight(ctx context.Context, kind string) (uint64, error) {
	query, ok := latestHeightQueries[kind]
	if !ok {
		return 0, fmt.Errorf("unsupported record kind %q", kind)
	}
	var height int64
	if err := h.db.QueryRowContext(ctx, query).Scan(&height); err != nil {
		return 0, fmt.Errorf("failed to get latest %s height: %w", kind, err)
	}
	return uint64(height), nil
}

func (h *PostgresOutputHandler) Close() error {
	return h.db.Close()
}
