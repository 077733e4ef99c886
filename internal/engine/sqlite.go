package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens a SQLite database file read-only.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

// LoadSQLite reads the order table from a SQLite table carrying the same
// columns as the CSV export. Every column is read as text so that both
// loaders share one row contract.
func LoadSQLite(ctx context.Context, db *sql.DB, table string, opts LoadOptions) (*ColumnStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	start := time.Now()
	log := opts.logger()

	cols := make([]string, len(orderColumns))
	for i, c := range orderColumns {
		cols[i] = fmt.Sprintf("COALESCE(CAST(%s AS TEXT), '')", c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(cols, ", "), table)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	idx := make(map[string]int, len(orderColumns))
	for i, c := range orderColumns {
		idx[c] = i
	}
	vals := make([]string, len(orderColumns))
	dest := make([]any, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}

	b := newStoreBuilder()
	line := 0
	for rows.Next() {
		line++
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan order row %d: %w", line, err)
		}
		rec, err := parseOrder(line, getter(idx, vals))
		if err != nil {
			if err := b.reject(err, opts); err != nil {
				return nil, err
			}
			continue
		}
		b.append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	store := b.finish()
	if b.skipped > 0 {
		log.Warn("malformed order rows skipped", zap.Int("skipped", b.skipped))
	}
	log.Info("orders loaded",
		zap.String("source", "sqlite"),
		zap.String("table", table),
		zap.Int("rows", store.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return store, nil
}
