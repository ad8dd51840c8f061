package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/movalsociety/ledger/internal/jsonx"
	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/models"
)

const (
	pgUniqueViolation = "23505"

	// primary key of ledger_block_transactions; a violation means the
	// transaction is already sealed into another block
	pgBlockTxConstraint = "ledger_block_transactions_pkey"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_blocks (
	id              UUID PRIMARY KEY,
	sequence_number BIGINT NOT NULL UNIQUE CHECK (sequence_number > 0),
	timestamp       TIMESTAMPTZ NOT NULL,
	payload         TEXT NOT NULL,
	previous_hash   TEXT,
	current_hash    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_block_transactions (
	transaction_id  TEXT PRIMARY KEY,
	sequence_number BIGINT NOT NULL REFERENCES ledger_blocks (sequence_number)
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id              TEXT PRIMARY KEY,
	sender          TEXT,
	receiver        TEXT,
	amount          NUMERIC NOT NULL CHECK (amount > 0),
	description     TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	blockchain_hash TEXT
);

CREATE INDEX IF NOT EXISTS ledger_transactions_unchained
	ON ledger_transactions (created_at, id) WHERE blockchain_hash IS NULL;
`

// PostgresStore keeps the chain and the transaction table in PostgreSQL.
// The UNIQUE constraint on sequence_number is what serializes appends
// across processes, and the primary key of ledger_block_transactions
// keeps a transaction in at most one block.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with retries, applies the schema and checks
// the recorded schema version
func NewPostgresStore(ctx context.Context, dsn string, maxRetries int) (*PostgresStore, error) {
	db, err := connectPostgres(ctx, dsn, maxRetries)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func connectPostgres(ctx context.Context, dsn string, maxRetries int) (*sql.DB, error) {
	const retryDelay = 3 * time.Second
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logx.Warn("STORAGE", fmt.Sprintf("Retrying database connection (attempt %d/%d) after error: %v", attempt+1, maxRetries, lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			lastErr = fmt.Errorf("failed to open database connection: %w", err)
			continue
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			lastErr = fmt.Errorf("failed to ping database: %w", err)
			continue
		}

		logx.Info("STORAGE", "Database connection established")
		return db, nil
	}

	return nil, unavailable(fmt.Sprintf("connect after %d attempts", maxRetries), lastErr)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var recorded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = 'schema_version'`).Scan(&recorded)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := checkSchemaVersion(recorded); err != nil {
		return err
	}
	if recorded == "" {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ledger_meta (key, value) VALUES ('schema_version', $1) ON CONFLICT (key) DO NOTHING`,
			SchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto the storage sentinels
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		if pqErr.Constraint == pgBlockTxConstraint {
			return fmt.Errorf("%s: %w: %s", op, ErrTransactionChained, pqErr.Detail)
		}
		return fmt.Errorf("%s: %w: %s", op, ErrSequenceConflict, pqErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || isConnectionClass(pqErr) {
		return unavailable(op, err)
	}
	if pqErr != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Anything else without a server error code is a transport failure
	return unavailable(op, err)
}

// isConnectionClass reports SQLSTATE class 08 (connection exception) and
// 57P0x (operator intervention / shutdown)
func isConnectionClass(e *pq.Error) bool {
	if e == nil {
		return false
	}
	return e.Code.Class() == "08" || e.Code == "57P01" || e.Code == "57P02" || e.Code == "57P03"
}

// AppendBlock inserts the block only when it extends the current tip, and
// records which block holds each of its transactions in the same database
// transaction
func (s *PostgresStore) AppendBlock(ctx context.Context, block *models.Block) error {
	payload, err := jsonx.Marshal(block.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	ids, err := blockTxIDs(block)
	if err != nil {
		return err
	}

	op := fmt.Sprintf("append block %d", block.Sequence)
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO ledger_blocks (id, sequence_number, timestamp, payload, previous_hash, current_hash)
		SELECT $1::uuid, $2::bigint, $3::timestamptz, $4::text, $5::text, $6::text
		WHERE (SELECT COALESCE(MAX(sequence_number), 0) FROM ledger_blocks) = $2::bigint - 1`,
		block.ID, block.Sequence, block.Timestamp, string(payload), block.PreviousHash, block.Hash)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: tip moved: %w", op, ErrSequenceConflict)
	}

	if len(ids) > 0 {
		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO ledger_block_transactions (transaction_id, sequence_number)
			SELECT unnest($1::text[]), $2::bigint`,
			pq.Array(ids), block.Sequence)
		if err != nil {
			return classify(op, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// TransactionSequence returns the sequence of the block holding txID
func (s *PostgresStore) TransactionSequence(ctx context.Context, txID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT sequence_number FROM ledger_block_transactions WHERE transaction_id = $1`, txID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("transaction %s in chain: %w", txID, ErrNotFound)
	}
	if err != nil {
		return 0, classify("read transaction index", err)
	}
	return seq, nil
}

const blockColumns = `id, sequence_number, timestamp, payload, previous_hash, current_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*models.Block, error) {
	var (
		block    models.Block
		payload  string
		previous sql.NullString
	)
	if err := row.Scan(&block.ID, &block.Sequence, &block.Timestamp, &payload, &previous, &block.Hash); err != nil {
		return nil, err
	}
	block.Timestamp = block.Timestamp.UTC()
	if previous.Valid {
		block.PreviousHash = &previous.String
	}
	if err := jsonx.Unmarshal([]byte(payload), &block.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload of block %d: %w", block.Sequence, err)
	}
	return &block, nil
}

func (s *PostgresStore) queryBlock(ctx context.Context, what string, query string, arg any) (*models.Block, error) {
	block, err := scanBlock(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, classify(what, err)
	}
	return block, nil
}

// GetBlock retrieves a block by id
func (s *PostgresStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return s.queryBlock(ctx, "block "+id,
		`SELECT `+blockColumns+` FROM ledger_blocks WHERE id = $1`, id)
}

// GetBlockBySequence retrieves a block by sequence number
func (s *PostgresStore) GetBlockBySequence(ctx context.Context, seq int64) (*models.Block, error) {
	return s.queryBlock(ctx, fmt.Sprintf("block #%d", seq),
		`SELECT `+blockColumns+` FROM ledger_blocks WHERE sequence_number = $1`, seq)
}

// GetTip retrieves the highest-sequence block
func (s *PostgresStore) GetTip(ctx context.Context) (*models.Block, error) {
	block, err := scanBlock(s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM ledger_blocks ORDER BY sequence_number DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("read tip", err)
	}
	return block, nil
}

// ListBlocks returns blocks ordered by sequence
func (s *PostgresStore) ListBlocks(ctx context.Context, limit int, order Order) ([]*models.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM ledger_blocks ORDER BY sequence_number`
	if order == OrderDesc {
		query += ` DESC`
	}
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list blocks", err)
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, classify("list blocks", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list blocks", err)
	}
	return blocks, nil
}

// SaveTransaction upserts a transaction unless it is already chained
func (s *PostgresStore) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, sender, receiver, amount, description, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			sender = EXCLUDED.sender,
			receiver = EXCLUDED.receiver,
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			kind = EXCLUDED.kind,
			created_at = EXCLUDED.created_at
		WHERE ledger_transactions.blockchain_hash IS NULL`,
		tx.ID, tx.Sender, tx.Receiver, tx.Amount, tx.Description, string(tx.Kind), tx.CreatedAt)
	if err != nil {
		return classify("save transaction "+tx.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("save transaction", err)
	}
	if n == 0 {
		return fmt.Errorf("save transaction %s: %w", tx.ID, ErrTransactionChained)
	}
	return nil
}

const txColumns = `id, sender, receiver, amount, description, kind, created_at, blockchain_hash`

func scanTx(row rowScanner) (*models.Transaction, error) {
	var (
		tx               models.Transaction
		sender, receiver sql.NullString
		kind             string
		blockchainHash   sql.NullString
	)
	if err := row.Scan(&tx.ID, &sender, &receiver, &tx.Amount, &tx.Description, &kind, &tx.CreatedAt, &blockchainHash); err != nil {
		return nil, err
	}
	if sender.Valid {
		tx.Sender = &sender.String
	}
	if receiver.Valid {
		tx.Receiver = &receiver.String
	}
	tx.Kind = models.Kind(kind)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.BlockchainHash = blockchainHash.String
	return &tx, nil
}

// GetTransaction retrieves a transaction by id
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := scanTx(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify("read transaction "+id, err)
	}
	return tx, nil
}

// StampBlockHash sets blockchain_hash when unset or already equal
func (s *PostgresStore) StampBlockHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_transactions SET blockchain_hash = $2
		WHERE id = $1 AND (blockchain_hash IS NULL OR blockchain_hash = $2)`, id, hash)
	if err != nil {
		return classify("stamp transaction "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("stamp transaction", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetTransaction(ctx, id); err != nil {
		return fmt.Errorf("stamp transaction: %w", err)
	}
	return fmt.Errorf("stamp transaction %s: %w", id, ErrHashMismatch)
}

// ListUnchained returns pending transactions in creation order
func (s *PostgresStore) ListUnchained(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM ledger_transactions
		WHERE blockchain_hash IS NULL ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list pending transactions", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, classify("list pending transactions", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list pending transactions", err)
	}
	return txs, nil
}
