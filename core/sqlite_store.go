package core

import (
	"database/sql"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a TxStore backed by a single SQLite file, modeled on
// Klingon-tech-klingdex's internal/storage package (a plain key/value
// table driven through database/sql, one writer mutex serialising
// commits — SQLite itself only allows one writer at a time anyway).
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the kv table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, wrapf(ErrTransientStorage, "open sqlite store %s", path)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	)`); err != nil {
		return nil, wrapf(ErrTransientStorage, "init sqlite schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// BeginTx takes the store's writer mutex and opens a SQL transaction with
// SQLite's default isolation, which is serializable (also in the WAL
// journal mode the store is opened with).
func (s *SQLiteStore) BeginTx() (Tx, error) {
	s.mu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return nil, wrapf(ErrTransientStorage, "begin sqlite tx")
	}
	return &sqliteTx{store: s, tx: tx}, nil
}

type sqliteTx struct {
	store *SQLiteStore
	tx    *sql.Tx
	done  bool
}

func (t *sqliteTx) Get(key []byte) ([]byte, bool) {
	var v []byte
	err := t.tx.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (t *sqliteTx) Set(key, value []byte) {
	_, _ = t.tx.Exec(`INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
}

func (t *sqliteTx) Delete(key []byte) {
	_, _ = t.tx.Exec(`DELETE FROM kv WHERE k = ?`, key)
}

func (t *sqliteTx) Has(key []byte) bool {
	_, ok := t.Get(key)
	return ok
}

func (t *sqliteTx) PrefixIterator(prefix []byte) [][2][]byte {
	rows, err := t.tx.Query(`SELECT k, v FROM kv WHERE k >= ? ORDER BY k`, prefix)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out [][2][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		if !hasPrefix(k, prefix) {
			break
		}
		out = append(out, [2][]byte{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][0]) < string(out[j][0]) })
	return out
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrConflict
	}
	t.done = true
	defer t.store.mu.Unlock()
	if err := t.tx.Commit(); err != nil {
		return wrapf(ErrTransientStorage, "commit sqlite tx")
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.Unlock()
	return t.tx.Rollback()
}
