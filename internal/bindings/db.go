package bindings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cryguy/turbox/internal/core"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// DB is the SQLite database behind the db binding. One DB is shared by
// every runtime instance; database/sql does the locking.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the SQLite database at path. ":memory:" gives
// a private in-memory database.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// ExecResult reports the effect of a statement run through Exec.
type ExecResult struct {
	Changes   int64 `json:"changes"`
	LastRowID int64 `json:"lastRowId"`
}

func checkStatement(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, blocked := range []string{"ATTACH", "DETACH", "VACUUM INTO"} {
		if strings.HasPrefix(upper, blocked) {
			return fmt.Errorf("db: %s statements are not allowed", blocked)
		}
	}
	return nil
}

// Query runs a row-returning statement and returns one map per row.
// BLOB columns come back as strings.
func (d *DB) Query(query string, params []any) ([]map[string]any, error) {
	if err := checkStatement(query); err != nil {
		return nil, err
	}
	rows, err := d.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("db: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("db: columns: %w", err)
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("db: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: rows: %w", err)
	}
	return out, nil
}

// Exec runs a statement that returns no rows.
func (d *DB) Exec(query string, params []any) (ExecResult, error) {
	if err := checkStatement(query); err != nil {
		return ExecResult{}, err
	}
	res, err := d.db.Exec(query, params...)
	if err != nil {
		return ExecResult{}, fmt.Errorf("db: exec: %w", err)
	}
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return ExecResult{Changes: changes, LastRowID: lastID}, nil
}

const dbJS = `
(function(g) {
	function call(fn, sql, args) {
		var params = Array.prototype.slice.call(args, 1);
		return JSON.parse(fn(String(sql), JSON.stringify(params)));
	}
	g.db = {
		query: function(sql) { return call(__turbox_db_query, sql, arguments); },
		first: function(sql) {
			var rows = call(__turbox_db_query, sql, arguments);
			return rows.length ? rows[0] : null;
		},
		exec: function(sql) { return call(__turbox_db_exec, sql, arguments); }
	};
})(globalThis);
`

func decodeParams(paramsJSON string) ([]any, error) {
	var params []any
	if paramsJSON == "" || paramsJSON == "[]" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return nil, fmt.Errorf("db: invalid parameters: %w", err)
	}
	return params, nil
}

// Extension returns the binding defining the global db object
// (db.query, db.first, db.exec). Calls are synchronous.
func (d *DB) Extension() core.Extension {
	return core.Extension{
		Name:          "db",
		MultiInstance: true,
		Setup: func(rt core.JSRuntime) error {
			if err := rt.RegisterFunc("__turbox_db_query", func(query, paramsJSON string) (string, error) {
				params, err := decodeParams(paramsJSON)
				if err != nil {
					return "", err
				}
				rows, err := d.Query(query, params)
				if err != nil {
					return "", err
				}
				data, err := json.Marshal(rows)
				return string(data), err
			}); err != nil {
				return fmt.Errorf("registering __turbox_db_query: %w", err)
			}
			if err := rt.RegisterFunc("__turbox_db_exec", func(query, paramsJSON string) (string, error) {
				params, err := decodeParams(paramsJSON)
				if err != nil {
					return "", err
				}
				res, err := d.Exec(query, params)
				if err != nil {
					return "", err
				}
				data, err := json.Marshal(res)
				return string(data), err
			}); err != nil {
				return fmt.Errorf("registering __turbox_db_exec: %w", err)
			}
			return rt.Eval(dbJS)
		},
	}
}
