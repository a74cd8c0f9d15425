package usage

import (
	"strconv"
	"strings"
	"time"
)

// buildWhereClause joins condition strings into a SQL WHERE clause.
// Returns an empty string when conditions is empty.
func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// sqlFilter turns params into SQL conditions and their arguments. dollar
// selects $n placeholders (PostgreSQL) instead of ?. bound converts the
// timestamp bounds into the driver's representation.
func sqlFilter(params UsageQueryParams, dollar bool, bound func(time.Time) any) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		ph := "?"
		if dollar {
			ph = "$" + strconv.Itoa(len(args))
		}
		conditions = append(conditions, strings.Replace(cond, "?", ph, 1))
	}

	if !params.StartDate.IsZero() {
		add("timestamp >= ?", bound(dayStart(params.StartDate)))
	}
	if !params.EndDate.IsZero() {
		add("timestamp < ?", bound(dayStart(params.EndDate).AddDate(0, 0, 1)))
	}
	if params.Endpoint != "" {
		add("endpoint = ?", params.Endpoint)
	}
	if params.Provider != "" {
		add("provider = ?", params.Provider)
	}
	return buildWhereClause(conditions), args
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeInterval(interval string) string {
	switch interval {
	case "weekly", "monthly", "yearly":
		return interval
	default:
		return "daily"
	}
}
