package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements UsageReader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL usage reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func pgBound(t time.Time) any { return t }

func (r *PostgreSQLReader) GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error) {
	where, args := sqlFilter(params, true, pgBound)
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> 'ok'),
		COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM gateway_usage` + where

	summary := &UsageSummary{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRequests, &summary.FailedCalls, &summary.TotalInput, &summary.TotalOutput, &summary.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return summary, nil
}

func pgGroupExpr(interval string) string {
	switch interval {
	case "weekly":
		return `to_char(timestamp AT TIME ZONE 'UTC', 'IYYY-"W"IW')`
	case "monthly":
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM')`
	case "yearly":
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY')`
	default:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	}
}

func (r *PostgreSQLReader) GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error) {
	groupExpr := pgGroupExpr(normalizeInterval(params.Interval))
	where, args := sqlFilter(params, true, pgBound)

	query := fmt.Sprintf(`SELECT %s AS period, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM gateway_usage%s GROUP BY period ORDER BY period`, groupExpr, where)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	result := make([]DailyUsage, 0)
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Date, &d.Requests, &d.InputTokens, &d.OutputTokens, &d.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage row: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage rows: %w", err)
	}
	return result, nil
}
