package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/storage"
)

func TestSQLiteStoreAndReader(t *testing.T) {
	conn, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "usage.db")})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	res, err := New(ctx, conn, Config{Enabled: true, BufferSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, res.Reader)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	entries := []*UsageEntry{
		{ID: "a", RequestID: "r1", Timestamp: day1, Endpoint: "chat", Provider: "openai", Operation: OperationChat, Status: StatusOK, InputTokens: 3, OutputTokens: 2, TotalTokens: 5},
		{ID: "b", RequestID: "r2", Timestamp: day1.Add(time.Hour), Endpoint: "chat", Provider: "openai", Operation: OperationStream, Status: "upstream_unavailable", Attempts: 2},
		{ID: "c", RequestID: "r3", Timestamp: day2, Endpoint: "embed", Provider: "bedrock", Operation: OperationEmbeddings, Status: StatusOK, InputTokens: 7, TotalTokens: 7},
	}
	for _, e := range entries {
		res.Recorder.Record(e)
	}
	// Close drains the buffer into the store
	require.NoError(t, res.Close())

	summary, err := res.Reader.GetSummary(ctx, UsageQueryParams{})
	require.NoError(t, err)
	assert.Equal(t, &UsageSummary{TotalRequests: 3, FailedCalls: 1, TotalInput: 10, TotalOutput: 2, TotalTokens: 12}, summary)

	summary, err = res.Reader.GetSummary(ctx, UsageQueryParams{Endpoint: "chat"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRequests)

	summary, err = res.Reader.GetSummary(ctx, UsageQueryParams{StartDate: day2, EndDate: day2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRequests)
	assert.Equal(t, int64(7), summary.TotalTokens)

	daily, err := res.Reader.GetDailyUsage(ctx, UsageQueryParams{Provider: "openai"})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2026-03-01", daily[0].Date)
	assert.Equal(t, 2, daily[0].Requests)

	monthly, err := res.Reader.GetDailyUsage(ctx, UsageQueryParams{Interval: "monthly"})
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, "2026-03", monthly[0].Date)
}

func TestNew_Disabled(t *testing.T) {
	res, err := New(context.Background(), nil, Config{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, Discard, res.Recorder)
	assert.Nil(t, res.Reader)
	assert.NoError(t, res.Close())
}

func TestSQLFilter_Placeholders(t *testing.T) {
	start := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	where, args := sqlFilter(UsageQueryParams{StartDate: start, Endpoint: "e"}, true, func(t time.Time) any { return t })
	assert.Equal(t, " WHERE timestamp >= $1 AND endpoint = $2", where)
	require.Len(t, args, 2)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), args[0])
}
