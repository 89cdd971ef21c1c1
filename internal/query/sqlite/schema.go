package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duckmesh/askdb/internal/schema"
)

const listTablesSQL = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

// ErrNoTables is returned for databases without user tables.
var ErrNoTables = errors.New("database contains no tables")

// ExtractSchema reads tables, columns, foreign keys and row counts. Tables
// come back sorted by name and that order is kept downstream.
func (e *Engine) ExtractSchema(ctx context.Context, path string) (schema.Schema, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return schema.Schema{}, err
	}
	defer func() { _ = db.Close() }()

	names, err := listTables(ctx, db)
	if err != nil {
		return schema.Schema{}, err
	}

	out := schema.Schema{Tables: make([]schema.Table, 0, len(names))}
	for _, name := range names {
		table := schema.Table{Name: name}
		if table.Columns, err = tableColumns(ctx, db, name); err != nil {
			return schema.Schema{}, err
		}
		if table.ForeignKeys, err = foreignKeys(ctx, db, name); err != nil {
			return schema.Schema{}, err
		}
		// Views over missing tables and similar oddities count as empty.
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&table.RowCount); err != nil {
			table.RowCount = 0
		}
		out.Tables = append(out.Tables, table)
	}
	return out, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, listTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []schema.Column
	for rows.Next() {
		var (
			cid          int
			name         string
			columnType   sql.NullString
			notNull      int
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		typ := columnType.String
		if typ == "" {
			typ = "TEXT"
		}
		columns = append(columns, schema.Column{Name: name, Type: typ, PrimaryKey: pk > 0, NotNull: notNull != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return columns, nil
}

func foreignKeys(ctx context.Context, db *sql.DB, table string) ([]schema.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA foreign_key_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("foreign keys %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []schema.ForeignKey
	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("scan foreign key of %q: %w", table, err)
		}
		keys = append(keys, schema.ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys of %q: %w", table, err)
	}
	return keys, nil
}

// CheckIntegrity runs PRAGMA integrity_check and reads one row from every table.
func (e *Engine) CheckIntegrity(ctx context.Context, path string) error {
	db, err := openReadOnly(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var status string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&status); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("integrity check failed: %s", status)
	}

	names, err := listTables(ctx, db)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return ErrNoTables
	}
	for _, name := range names {
		rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+quoteIdent(name)+" LIMIT 1")
		if err != nil {
			return fmt.Errorf("table %q is unreadable: %w", name, err)
		}
		_ = rows.Close()
	}
	return nil
}
