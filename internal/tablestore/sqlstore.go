package tablestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Dialect selects the database/sql driver backing a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore keeps every table in one table_rows relation keyed by (table_name, pos).
// pos 0 holds the header row.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens the database, applies the schema and seeds the header rows.
func OpenSQL(dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s dsn is required", dialect)
	}
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "postgres"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	for _, t := range Tables() {
		h, _ := Headers(t)
		raw, err := json.Marshal(h)
		if err != nil {
			return err
		}
		var n int
		if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM table_rows WHERE table_name = ? AND pos = 0`), t).Scan(&n); err != nil {
			return fmt.Errorf("check header %s: %w", t, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO table_rows (table_name, pos, cells) VALUES (?, 0, ?)`), t, string(raw)); err != nil {
			return fmt.Errorf("seed header %s: %w", t, err)
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, table string, row Row) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	const q = `
		INSERT INTO table_rows (table_name, pos, cells)
		SELECT ?, COALESCE(MAX(pos), -1) + 1, ?
		FROM table_rows
		WHERE table_name = ?`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), table, string(raw), table); err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) GetAllRows(ctx context.Context, table string) ([]Row, error) {
	if _, err := Headers(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT cells FROM table_rows WHERE table_name = ? ORDER BY pos`), table)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var r Row
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("unmarshal %s row: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateRow(ctx context.Context, table string, index int, row Row) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	if index == 0 {
		return ErrHeaderRow
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE table_rows SET cells = ? WHERE table_name = ? AND pos = ?`), string(raw), table, index)
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", table, index, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRowOutOfRange
	}
	return nil
}

func (s *SQLStore) DeleteRow(ctx context.Context, table string, index int) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	if index == 0 {
		return ErrHeaderRow
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM table_rows WHERE table_name = ? AND pos = ?`), table, index)
	if err != nil {
		return fmt.Errorf("delete %s row %d: %w", table, index, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRowOutOfRange
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE table_rows SET pos = pos - 1 WHERE table_name = ? AND pos > ?`), table, index); err != nil {
		return fmt.Errorf("shift %s rows: %w", table, err)
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
