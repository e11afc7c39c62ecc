// Package ingest fills the source admissions table: reading the published
// CSV, generating synthetic rows for demos and tests, and bulk-loading
// either into Postgres.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clinalytics/platform/pkg/dataset"
)

var (
	errHeaderMismatch = errors.New("header does not match dataset catalog")
	errBadCell        = errors.New("cell cannot be parsed")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Reader streams CSV rows aligned to the catalog's column order. The header
// is matched against the catalog display names case-insensitively and
// order-insensitively; a UTF-8 BOM on the first header cell is stripped.
type Reader struct {
	catalog dataset.Catalog
}

func NewReader(catalog dataset.Catalog) *Reader {
	return &Reader{catalog: catalog}
}

// Read validates the header, then invokes fn once per data row with the
// cells reordered into catalog column order. Values pass through raw; blank
// cells stay blank. Returns the number of data rows read.
func (r *Reader) Read(src io.Reader, fn func(row []string) error) (int64, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return 0, ValidationError{reason: fmt.Errorf("empty input: %w", errHeaderMismatch)}
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	order, err := r.headerOrder(header)
	if err != nil {
		return 0, err
	}

	var rows int64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", rows+1, err)
		}

		row := make([]string, len(r.catalog.Columns))
		for i, pos := range order {
			row[i] = strings.TrimSpace(record[pos])
		}
		rows++
		if err := fn(row); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// headerOrder maps catalog column index -> position in the CSV header.
func (r *Reader) headerOrder(header []string) ([]int, error) {
	positions := make(map[string]int, len(header))
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		positions[strings.ToLower(name)] = i
	}

	if len(positions) != len(r.catalog.Columns) {
		return nil, ValidationError{reason: fmt.Errorf(
			"expected %d columns, got %d: %w", len(r.catalog.Columns), len(positions), errHeaderMismatch)}
	}

	order := make([]int, len(r.catalog.Columns))
	for i, col := range r.catalog.Columns {
		pos, ok := positions[strings.ToLower(col.Display)]
		if !ok {
			return nil, ValidationError{reason: fmt.Errorf(
				"column %q missing from header: %w", col.Display, errHeaderMismatch)}
		}
		order[i] = pos
	}
	return order, nil
}
