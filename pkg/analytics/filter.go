package analytics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clinalytics/platform/pkg/dataset"
)

// ValidationError marks a request the caller can fix: an unknown field, a
// filter value that does not fit the column type, a bad limit.
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
	var v ValidationError
	return errors.As(err, &v)
}

func validationErrorf(format string, args ...interface{}) error {
	return ValidationError{reason: fmt.Errorf(format, args...)}
}

// Filter is one equality constraint on a canonical dataset field. Arg holds
// the value converted to the column's type for parameterized SQL; Value
// keeps the raw text for cache keys.
type Filter struct {
	Field string
	Value string
	Arg   interface{}
}

// reserved query parameters that are not dataset fields.
var reservedParams = map[string]bool{
	"limit": true,
}

// ParseFilters turns request query parameters into equality filters. Every
// non-reserved parameter must name a catalog column; values are converted
// per column kind so comparisons hit typed columns correctly. Filters come
// back sorted by field for deterministic cache keys.
func ParseFilters(catalog dataset.Catalog, values url.Values) ([]Filter, error) {
	var filters []Filter
	for key, vals := range values {
		if reservedParams[key] {
			continue
		}
		col, ok := catalog.Column(key)
		if !ok {
			return nil, validationErrorf("unknown filter field %q", key)
		}
		if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
			continue
		}
		raw := strings.TrimSpace(vals[0])
		arg, err := filterArg(catalog, col, raw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, Filter{Field: col.Name, Value: raw, Arg: arg})
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].Field < filters[j].Field })
	return filters, nil
}

func filterArg(catalog dataset.Catalog, col dataset.Column, raw string) (interface{}, error) {
	switch col.Kind {
	case dataset.KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, validationErrorf("filter %s: %q is not an integer", col.Name, raw)
		}
		return n, nil
	case dataset.KindDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, validationErrorf("filter %s: %q is not numeric", col.Name, raw)
		}
		return f, nil
	case dataset.KindDate:
		t, err := time.Parse(catalog.DateLayout, raw)
		if err != nil {
			return nil, validationErrorf("filter %s: %q is not a %s date", col.Name, raw, catalog.DateLayout)
		}
		return t, nil
	default:
		return raw, nil
	}
}

// filterConds renders the filters as parameterized conditions.
func filterConds(filters []Filter) ([]string, []interface{}) {
	conds := make([]string, 0, len(filters))
	args := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		conds = append(conds, quoteIdent(f.Field)+" = ?")
		args = append(args, f.Arg)
	}
	return conds, args
}

// filterKey serializes sorted filters for cache keys.
func filterKey(filters []Filter) string {
	if len(filters) == 0 {
		return "all"
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.Field+"="+f.Value)
	}
	return strings.Join(parts, "&")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
