// Package db is the minimal SQL-ish persistence backend (spec.md §4.2)
// used by Archive, HashTable and SinkStateDB. It wraps database/sql over
// mattn/go-sqlite3, the same pairing the syncharness reference file in the
// retrieval pack uses for a local sync store.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jabolina/go-syncengine/internal/errs"
)

// Database is the thin key-value/SQL-ish persistence surface spec.md §4.2
// requires. Implementations must support on-the-fly table creation.
type Database interface {
	// Execute runs a statement that doesn't return rows (DDL, INSERT,
	// UPDATE, DELETE).
	Execute(stmt string, args ...interface{}) error

	// QuerySingleString runs a query expected to return at most one row
	// with a single text column, returning "" if no row matched.
	QuerySingleString(query string, args ...interface{}) (string, error)

	// QueryTable runs a query and returns every row as a slice of string
	// columns (column order follows the SELECT clause).
	QueryTable(query string, args ...interface{}) ([][]string, error)

	// LastRowID returns the rowid assigned by the most recent INSERT on
	// this connection.
	LastRowID() (int64, error)

	// TableExists reports whether the named table is present.
	TableExists(name string) (bool, error)

	// Close releases the underlying connection.
	Close() error
}

// SQLEscape escapes a string for safe inclusion in a single-quoted SQL
// literal. Prefer parameter binding; this exists for the rare
// identifier-adjacent case spec.md calls out explicitly.
func SQLEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// BindBlob wraps raw bytes for binary-safe parameter binding against a
// BLOB column. go-sqlite3 already binds []byte as BLOB, so this exists to
// make call sites self-documenting about intent, mirroring spec.md's
// explicit bind-blob operation.
func BindBlob(data []byte) interface{} {
	return data
}

type sqliteDatabase struct {
	conn *sql.DB
	last sql.Result
}

// Open opens (creating if absent) a sqlite3-backed Database at path.
func Open(path string) (Database, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Stack(errs.IoError, fmt.Sprintf("failed opening database at %s", path), err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errs.Stack(errs.IoError, fmt.Sprintf("failed pinging database at %s", path), err)
	}
	return &sqliteDatabase{conn: conn}, nil
}

func (d *sqliteDatabase) Execute(stmt string, args ...interface{}) error {
	res, err := d.conn.Exec(stmt, args...)
	if err != nil {
		return errs.Stack(errs.IoError, fmt.Sprintf("failed executing statement %q", stmt), err)
	}
	d.last = res
	return nil
}

func (d *sqliteDatabase) QuerySingleString(query string, args ...interface{}) (string, error) {
	row := d.conn.QueryRow(query, args...)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errs.Stack(errs.IoError, fmt.Sprintf("failed scanning query %q", query), err)
	}
	return value, nil
}

func (d *sqliteDatabase) QueryTable(query string, args ...interface{}) ([][]string, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, errs.Stack(errs.IoError, fmt.Sprintf("failed querying %q", query), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Stack(errs.IoError, "failed reading result columns", err)
	}

	var table [][]string
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Stack(errs.IoError, "failed scanning row", err)
		}
		row := make([]string, len(columns))
		for i, v := range raw {
			row[i] = stringify(v)
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Stack(errs.IoError, "failed iterating rows", err)
	}
	return table, nil
}

func (d *sqliteDatabase) LastRowID() (int64, error) {
	if d.last == nil {
		return 0, errs.New(errs.Generic, "no statement has been executed yet")
	}
	id, err := d.last.LastInsertId()
	if err != nil {
		return 0, errs.Stack(errs.IoError, "failed reading last row id", err)
	}
	return id, nil
}

func (d *sqliteDatabase) TableExists(name string) (bool, error) {
	value, err := d.QuerySingleString(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name)
	if err != nil {
		return false, err
	}
	return value == name, nil
}

func (d *sqliteDatabase) Close() error {
	if err := d.conn.Close(); err != nil {
		return errs.Stack(errs.IoError, "failed closing database", err)
	}
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
