package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinalytics/platform/pkg/dataset"
)

type copyFunc func(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error)

// Loader bulk-loads admissions rows into the source table over the COPY
// protocol. The copy function is injectable so conversion logic can be
// tested without a database.
type Loader struct {
	pool    *pgxpool.Pool
	catalog dataset.Catalog
	copyFn  copyFunc
}

func NewLoader(ctx context.Context, dsn string, catalog dataset.Catalog) (*Loader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	l := &Loader{pool: pool, catalog: catalog}
	l.copyFn = l.pgxCopy
	return l, nil
}

func (l *Loader) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

func (l *Loader) pgxCopy(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
	return l.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// EnsureSourceTable drops and recreates the source table with the shape a
// CSV import with type inference leaves behind: typed integers and doubles,
// raw text dates.
func (l *Loader) EnsureSourceTable(ctx context.Context, table string) error {
	if _, err := l.pool.Exec(ctx, dropTableSQL(table)); err != nil {
		return fmt.Errorf("drop source table: %w", err)
	}
	ddl, err := createTableSQL(l.catalog, table)
	if err != nil {
		return err
	}
	if _, err := l.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create source table: %w", err)
	}
	return nil
}

// Load converts rows per column kind and copies them in. Blank cells load
// as NULL; an integer or decimal cell that does not parse fails with a
// validation error naming the row and column.
func (l *Loader) Load(ctx context.Context, table string, rows [][]string) (int64, error) {
	converted := make([][]interface{}, 0, len(rows))
	for i, row := range rows {
		values, err := l.convertRow(row, int64(i+1))
		if err != nil {
			return 0, err
		}
		converted = append(converted, values)
	}
	return l.copyFn(ctx, table, l.catalog.DisplayNames(), converted)
}

func (l *Loader) convertRow(row []string, rowNum int64) ([]interface{}, error) {
	if len(row) != len(l.catalog.Columns) {
		return nil, ValidationError{reason: fmt.Errorf(
			"row %d has %d cells, expected %d: %w", rowNum, len(row), len(l.catalog.Columns), errBadCell)}
	}

	values := make([]interface{}, len(row))
	for i, col := range l.catalog.Columns {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			values[i] = nil
			continue
		}
		switch col.Kind {
		case dataset.KindInteger:
			n, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				return nil, ValidationError{reason: fmt.Errorf(
					"row %d column %q: %q is not an integer: %w", rowNum, col.Display, cell, errBadCell)}
			}
			values[i] = n
		case dataset.KindDecimal:
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, ValidationError{reason: fmt.Errorf(
					"row %d column %q: %q is not numeric: %w", rowNum, col.Display, cell, errBadCell)}
			}
			values[i] = f
		default:
			values[i] = cell
		}
	}
	return values, nil
}

func dropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))
}

func createTableSQL(catalog dataset.Catalog, table string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name required")
	}
	if len(catalog.Columns) == 0 {
		return "", fmt.Errorf("catalog has no columns")
	}

	cols := make([]string, 0, len(catalog.Columns))
	for _, col := range catalog.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(col.Display), columnType(col.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", ")), nil
}

func columnType(kind dataset.Kind) string {
	switch kind {
	case dataset.KindInteger:
		return "integer"
	case dataset.KindDecimal:
		return "double precision"
	default:
		// Dates arrive as display-formatted text; the pipeline coerces them.
		return "text"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
