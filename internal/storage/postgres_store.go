package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const boxesSchema = `CREATE TABLE IF NOT EXISTS boxes (
	key        BYTEA PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// writerLockKey is the advisory lock every writing transaction holds, so
// transaction groups from all processes on one database run one at a time.
const writerLockKey int64 = 0x72696465_65736372

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the boxes table if it does not exist yet.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, boxesSchema); err != nil {
		return fmt.Errorf("migrate boxes: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return pgReader{p.db}.Get(ctx, key)
}

func (p *PostgresStore) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return p.Update(ctx, func(context.Context, Reader) ([]Op, error) { return ops, nil })
}

// Update runs fn inside one SQL transaction holding the writer lock. Reads
// go through the same transaction.
func (p *PostgresStore) Update(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return fmt.Errorf("writer lock: %w", err)
	}
	ops, err := fn(ctx, pgReader{tx})
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM boxes WHERE key=$1`, op.Key); err != nil {
				return fmt.Errorf("delete box: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO boxes(key, value, updated_at) VALUES($1,$2,now())
			ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, op.Key, op.Value); err != nil {
			return fmt.Errorf("put box: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgReader struct{ q rowQuerier }

func (r pgReader) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var v []byte
	err := r.q.QueryRowContext(ctx, `SELECT value FROM boxes WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
