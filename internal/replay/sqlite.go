package replay

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a Cache persisted across daemon restarts, grounded on
// the teacher's sqlite_store.go: the same WAL/synchronous/busy_timeout
// PRAGMA set and serializable-transaction discipline, applied to a
// single fingerprint/expiry table instead of an append-only log.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens or creates the replay database at dsn.
func OpenSQLiteCache(dsn string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS replay (
  fingerprint TEXT PRIMARY KEY,
  expiry      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS replay_expiry_idx ON replay(expiry);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *SQLiteCache) Close() error { return c.db.Close() }

// Remember implements Cache.
func (c *SQLiteCache) Remember(fp [FingerprintLen]byte, expiry time.Time) (Verdict, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := hex.EncodeToString(fp[:])

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Fresh, err
	}
	defer tx.Rollback()

	var existingExpiry int64
	err = tx.QueryRowContext(ctx, `SELECT expiry FROM replay WHERE fingerprint = ?`, key).Scan(&existingExpiry)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO replay(fingerprint, expiry) VALUES(?, ?)`, key, expiry.Unix()); err != nil {
			return Fresh, err
		}
		return Fresh, tx.Commit()
	case err != nil:
		return Fresh, err
	}

	if existingExpiry > time.Now().Unix() {
		return Replayed, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE replay SET expiry = ? WHERE fingerprint = ?`, expiry.Unix(), key); err != nil {
		return Fresh, err
	}
	return Fresh, tx.Commit()
}

// Purge implements Cache.
func (c *SQLiteCache) Purge(now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `DELETE FROM replay WHERE expiry < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
