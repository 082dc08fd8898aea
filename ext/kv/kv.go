// Package kv provides key/value store resources backed by database/sql.
// The pure-Go sqlite driver is the default; sqlite3 (cgo), postgres and
// mysql are also registered.
package kv

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/opcore/ext/fs"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "kv"

// DefaultDriver is used when neither the script nor the config names one.
const DefaultDriver = "sqlite"

const table = "opcore_kv"

// Config is the extension's state slot.
type Config struct {
	Driver string
}

// Entry is one stored pair.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store is an open key/value database.
type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects to source with driver and ensures the table exists.
func Open(ctx context.Context, driver, source string) (*Store, error) {
	d, err := newDialect(driver, table)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if d.singleWriter {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, d: d}, nil
}

func (s *Store) Name() string { return "kvStore" }

// Get returns the value for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.d.get, key).Scan(&v)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.d.set, key, value)
	return err
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.del, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// List returns the entries whose key starts with prefix, in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.d.list, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// New returns the kv extension. An empty driver means DefaultDriver.
func New(driver string) *op.Extension {
	if driver == "" {
		driver = DefaultDriver
	}
	return op.NewExtension(Name).
		Ops(
			op.Async("op_kv_open", opOpen),
			op.Async("op_kv_get", opGet),
			op.Async("op_kv_set", opSet),
			op.Async("op_kv_delete", opDelete),
			op.Async("op_kv_list", opList),
		).
		State(func(s *op.State) error {
			op.Put(s, &Config{Driver: driver})
			return nil
		}).
		Build()
}

// opOpen opens source with driver, or with the configured driver when none
// is given. File databases are checked against the fs permissions when the
// fs extension is loaded.
func opOpen(ctx context.Context, s *op.State, source string, driver string) (resource.ID, error) {
	if driver == "" {
		driver = op.Borrow[*Config](s).Driver
	}
	if perms, ok := op.TryBorrow[*fs.Permissions](s); ok && isFile(driver, source) {
		if err := perms.CheckWrite(filePath(source)); err != nil {
			return 0, err
		}
	}
	st, err := Open(ctx, driver, source)
	if err != nil {
		return 0, err
	}
	op.Logger().Debug("kv store opened", zap.String("driver", driver))
	return s.Resources.Add(st), nil
}

func opGet(ctx context.Context, s *op.State, rid resource.ID, key string) (any, error) {
	st, err := resource.Get[*Store](s.Resources, rid)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, key)
}

func opSet(ctx context.Context, s *op.State, rid resource.ID, e Entry) (op.Void, error) {
	st, err := resource.Get[*Store](s.Resources, rid)
	if err != nil {
		return op.Void{}, err
	}
	return op.Void{}, st.Set(ctx, e.Key, e.Value)
}

func opDelete(ctx context.Context, s *op.State, rid resource.ID, key string) (bool, error) {
	st, err := resource.Get[*Store](s.Resources, rid)
	if err != nil {
		return false, err
	}
	return st.Delete(ctx, key)
}

func opList(ctx context.Context, s *op.State, rid resource.ID, prefix string) ([]Entry, error) {
	st, err := resource.Get[*Store](s.Resources, rid)
	if err != nil {
		return nil, err
	}
	return st.List(ctx, prefix)
}

func isFile(driver, source string) bool {
	if driver != "sqlite" && driver != "sqlite3" {
		return false
	}
	return source != "" && !strings.Contains(source, ":memory:") && !strings.Contains(source, "mode=memory")
}

func filePath(source string) string {
	source = strings.TrimPrefix(source, "file:")
	if i := strings.IndexByte(source, '?'); i >= 0 {
		source = source[:i]
	}
	return source
}
