package pipeline

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// markerList renders the catalog's missing markers as a lowercase SQL IN
// list, e.g. 'n/a', 'none', 'null'.
func markerList(markers []string) string {
	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		quoted = append(quoted, quoteLiteral(strings.ToLower(m)))
	}
	return strings.Join(quoted, ", ")
}

// missingTextCond renders the missing-value test for a text expression:
// NULL, blank after trim, or one of the catalog's marker literals.
func missingTextCond(expr string, markers []string) string {
	cond := fmt.Sprintf("%s IS NULL OR btrim(%s) = ''", expr, expr)
	if len(markers) > 0 {
		cond += fmt.Sprintf(" OR lower(btrim(%s)) IN (%s)", expr, markerList(markers))
	}
	return "(" + cond + ")"
}

func rowCount(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(table))
	if err := db.WithContext(ctx).Raw(q).Scan(&count).Error; err != nil {
		return 0, classify(err)
	}
	return count, nil
}
