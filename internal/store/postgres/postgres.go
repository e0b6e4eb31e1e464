// Package postgres backs the attribute cache spill with a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// KV implements drive.KV over a single key/value table.
type KV struct {
	db    *sql.DB
	table string
	mount string // namespace, so several mounts can share one table
}

// New connects and ensures the schema exists.
func New(connStr, table, mount string) (*KV, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to PostgreSQL")
	}
	kv := &KV{db: db, table: table, mount: mount}
	if err := kv.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing schema")
	}
	return kv, nil
}

func (kv *KV) initSchema() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mount VARCHAR(255) NOT NULL,
			key VARCHAR(4096) NOT NULL,
			value BYTEA,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (mount, key)
		);
	`, kv.table)
	_, err := kv.db.Exec(query)
	return err
}

// Get reads one value; the second return is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE mount = $1 AND key = $2", kv.table)
	var value []byte
	err := kv.db.QueryRowContext(ctx, query, kv.mount, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cache entry")
	}
	return value, true, nil
}

// Set upserts one value.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (mount, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (mount, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, kv.table)
	_, err := kv.db.ExecContext(ctx, query, kv.mount, key, value)
	return errors.Wrap(err, "writing cache entry")
}

// Close releases the connection pool.
func (kv *KV) Close() error {
	return kv.db.Close()
}
