// ABOUTME: SQLite-backed local spreadsheet connector for running connection workflows offline.
// ABOUTME: Sheets are ordered columns plus JSON rows numbered from 2, the header being row 1.
package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spyglass-search/talos/workflow"
)

// firstDataRow is the index of the first row below the header.
const firstDataRow = 2

// ErrSheetNotFound is returned when a spreadsheet/sheet pair has no columns.
var ErrSheetNotFound = errors.New("sheet not found")

// SQLiteSheets stores spreadsheet-like connections in a SQLite database.
type SQLiteSheets struct {
	db *sql.DB
}

// OpenSQLiteSheets opens or creates the sheet database at path.
func OpenSQLiteSheets(path string) (*SQLiteSheets, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sheet_columns (
			spreadsheet_id TEXT NOT NULL,
			sheet_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (spreadsheet_id, sheet_id, position)
		);

		CREATE TABLE IF NOT EXISTS sheet_rows (
			spreadsheet_id TEXT NOT NULL,
			sheet_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (spreadsheet_id, sheet_id, idx)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSheets{db: db}, nil
}

// Close closes the database.
func (s *SQLiteSheets) Close() error {
	return s.db.Close()
}

// CreateSheet defines a sheet's columns, replacing any existing definition.
// Existing rows are kept.
func (s *SQLiteSheets) CreateSheet(ctx context.Context, spreadsheetID, sheetID string, columns []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_columns WHERE spreadsheet_id = ? AND sheet_id = ?`, spreadsheetID, sheetID); err != nil {
		return fmt.Errorf("clear columns: %w", err)
	}
	for i, name := range columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheet_columns (spreadsheet_id, sheet_id, position, name) VALUES (?, ?, ?, ?)`,
			spreadsheetID, sheetID, i, name); err != nil {
			return fmt.Errorf("insert column %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// Execute runs a spreadsheet request.
func (s *SQLiteSheets) Execute(ctx context.Context, conn *workflow.ConnectionData, req Request, token string) (*Response, error) {
	if conn == nil || conn.ConnectionType != workflow.ConnectionGSheets {
		return nil, fmt.Errorf("%w for local sheets", ErrUnknownConnection)
	}
	switch req.Action {
	case ActionReadRows:
		return s.read(ctx, req)
	case ActionAppendRows:
		return s.write(ctx, req, false)
	case ActionUpdateRows:
		return s.write(ctx, req, true)
	default:
		return nil, fmt.Errorf("local sheets do not support %q", req.Action)
	}
}

// ProbeHeader returns the sheet's column names as a header row.
func (s *SQLiteSheets) ProbeHeader(ctx context.Context, conn *workflow.ConnectionData, token string) (workflow.Row, error) {
	if conn == nil {
		return nil, errors.New("connection is not configured")
	}
	cols, err := columns(ctx, s.db, conn.SpreadsheetID, conn.SheetID)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrSheetNotFound, conn.SpreadsheetID, conn.SheetID)
	}
	return headerRow(cols), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func columns(ctx context.Context, q querier, spreadsheetID, sheetID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sheet_columns WHERE spreadsheet_id = ? AND sheet_id = ? ORDER BY position`,
		spreadsheetID, sheetID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func headerRow(cols []string) workflow.Row {
	h := make(workflow.Row, len(cols))
	for _, c := range cols {
		h[c] = c
	}
	return h
}

func (s *SQLiteSheets) read(ctx context.Context, req Request) (*Response, error) {
	cols, err := columns(ctx, s.db, req.SpreadsheetID, req.SheetID)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrSheetNotFound, req.SpreadsheetID, req.SheetID)
	}
	query := `SELECT idx, data FROM sheet_rows WHERE spreadsheet_id = ? AND sheet_id = ? ORDER BY idx`
	args := []any{req.SpreadsheetID, req.SheetID}
	if req.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, req.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	resp := &Response{Rows: []workflow.Row{}, Header: headerRow(cols)}
	for rows.Next() {
		var (
			idx  int64
			data string
		)
		if err := rows.Scan(&idx, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := workflow.Row{}
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", idx, err)
		}
		for _, c := range cols {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
		row[workflow.RowIDField] = idx
		resp.Rows = append(resp.Rows, row)
	}
	return resp, rows.Err()
}

// write appends rows, or with update set, merges rows carrying a row id into
// the existing row at that index. Rows without an id are appended.
func (s *SQLiteSheets) write(ctx context.Context, req Request, update bool) (*Response, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cols, err := columns(ctx, tx, req.SpreadsheetID, req.SheetID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), ?) FROM sheet_rows WHERE spreadsheet_id = ? AND sheet_id = ?`,
		firstDataRow-1, req.SpreadsheetID, req.SheetID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next row: %w", err)
	}
	next++

	written := make([]workflow.Row, 0, len(req.Rows))
	for _, row := range req.Rows {
		data := make(map[string]any, len(row))
		var newCols []string
		for k, v := range row {
			if k == workflow.RowIDField {
				continue
			}
			data[k] = v
			if !known[k] {
				known[k] = true
				newCols = append(newCols, k)
			}
		}
		sort.Strings(newCols)
		for _, c := range newCols {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sheet_columns (spreadsheet_id, sheet_id, position, name) VALUES (?, ?, ?, ?)`,
				req.SpreadsheetID, req.SheetID, len(cols), c); err != nil {
				return nil, fmt.Errorf("add column %q: %w", c, err)
			}
			cols = append(cols, c)
		}

		idx, hasID := rowIndex(row)
		if update && hasID {
			if err := mergeRow(ctx, tx, req, idx, data); err != nil {
				return nil, err
			}
		} else {
			idx = next
			next++
			if err := insertRow(ctx, tx, req, idx, data); err != nil {
				return nil, err
			}
		}
		out := workflow.Row{workflow.RowIDField: idx}
		for k, v := range data {
			out[k] = v
		}
		written = append(written, out)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Response{Rows: written, Header: headerRow(cols)}, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, req Request, idx int64, data map[string]any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_rows (spreadsheet_id, sheet_id, idx, data) VALUES (?, ?, ?, ?)`,
		req.SpreadsheetID, req.SheetID, idx, string(b)); err != nil {
		return fmt.Errorf("insert row %d: %w", idx, err)
	}
	return nil
}

func mergeRow(ctx context.Context, tx *sql.Tx, req Request, idx int64, data map[string]any) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT data FROM sheet_rows WHERE spreadsheet_id = ? AND sheet_id = ? AND idx = ?`,
		req.SpreadsheetID, req.SheetID, idx).Scan(&existing)
	merged := map[string]any{}
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load row %d: %w", idx, err)
	default:
		if err := json.Unmarshal([]byte(existing), &merged); err != nil {
			return fmt.Errorf("decode row %d: %w", idx, err)
		}
	}
	for k, v := range data {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_rows (spreadsheet_id, sheet_id, idx, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(spreadsheet_id, sheet_id, idx) DO UPDATE SET data = excluded.data`,
		req.SpreadsheetID, req.SheetID, idx, string(b)); err != nil {
		return fmt.Errorf("update row %d: %w", idx, err)
	}
	return nil
}

// rowIndex reads a row's identity field, accepting the numeric forms that
// survive JSON and YAML decoding.
func rowIndex(row workflow.Row) (int64, bool) {
	switch v := row[workflow.RowIDField].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
