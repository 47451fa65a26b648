package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// DB implements storage.TxManager on top of a pool.
// Each WithTx call is one SQL transaction; stores lock rows with FOR UPDATE.
type DB struct {
	pool *Pool
}

// NewDB creates a new DB.
func NewDB(pool *Pool) *DB {
	return &DB{pool: pool}
}

// Compile-time interface check.
var _ storage.TxManager = (*DB)(nil)

// WithTx runs fn inside a READ COMMITTED transaction and commits if fn succeeds.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgTx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// No-op after a successful commit; also covers panics in fn.
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// tx binds the stores to one pgx transaction.
type tx struct {
	q pgx.Tx
}

func (t *tx) Collections() storage.CollectionStore { return &CollectionStore{q: t.q} }
func (t *tx) Swaps() storage.SwapStore             { return &SwapStore{q: t.q} }
func (t *tx) Accounts() storage.AccountStore       { return &AccountStore{q: t.q} }
func (t *tx) Assets() storage.AssetStore           { return &AssetStore{q: t.q} }
func (t *tx) Events() storage.EventStore           { return &EventStore{q: t.q} }

// PostgreSQL error codes
const (
	pgErrUniqueViolation   = "23505" // unique_violation
	pgErrCheckViolation    = "23514" // check_violation
	pgErrNumericOutOfRange = "22003" // numeric_value_out_of_range
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return hasPgCode(err, pgErrUniqueViolation)
}

// isInvalidInputError checks if error is a CHECK violation or an overflow.
func isInvalidInputError(err error) bool {
	return hasPgCode(err, pgErrCheckViolation) || hasPgCode(err, pgErrNumericOutOfRange)
}

func hasPgCode(err error, code string) bool {
	if err == nil {
		return false
	}

	// Use pgconn.PgError for reliable error code detection
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// keyArg encodes a public key as a column value. The zero key is stored as ''.
func keyArg(pk solana.PublicKey) string {
	if pk.IsZero() {
		return ""
	}
	return pk.String()
}

// parseKey decodes a column written by keyArg.
func parseKey(s string) (solana.PublicKey, error) {
	var pk solana.PublicKey
	if err := pk.UnmarshalText([]byte(s)); err != nil {
		return pk, err
	}
	return pk, nil
}

// parseKeys decodes several columns at once, stopping at the first error.
func parseKeys(pairs ...keyColumn) error {
	for _, p := range pairs {
		pk, err := parseKey(p.raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", p.name, err)
		}
		*p.dst = pk
	}
	return nil
}

type keyColumn struct {
	name string
	raw  string
	dst  *solana.PublicKey
}

// amountArg converts an amount to BIGINT range.
func amountArg(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount %d exceeds BIGINT", storage.ErrInvalidInput, v)
	}
	return int64(v), nil
}
