package usage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements UsageReader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB usage reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(collectionName)}, nil
}

// matchStage builds the $match stage for params, or nil when unfiltered.
func matchStage(params UsageQueryParams) bson.D {
	match := bson.D{}
	ts := bson.D{}
	if !params.StartDate.IsZero() {
		ts = append(ts, bson.E{Key: "$gte", Value: dayStart(params.StartDate)})
	}
	if !params.EndDate.IsZero() {
		ts = append(ts, bson.E{Key: "$lt", Value: dayStart(params.EndDate).AddDate(0, 0, 1)})
	}
	if len(ts) > 0 {
		match = append(match, bson.E{Key: "timestamp", Value: ts})
	}
	if params.Endpoint != "" {
		match = append(match, bson.E{Key: "endpoint", Value: params.Endpoint})
	}
	if params.Provider != "" {
		match = append(match, bson.E{Key: "provider", Value: params.Provider})
	}
	if len(match) == 0 {
		return nil
	}
	return bson.D{{Key: "$match", Value: match}}
}

func (r *MongoDBReader) GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error) {
	pipeline := bson.A{}
	if m := matchStage(params); m != nil {
		pipeline = append(pipeline, m)
	}
	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "total_requests", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "failed", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$ne", Value: bson.A{"$status", StatusOK}}}, 1, 0,
		}}}}}},
		{Key: "total_input", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
		{Key: "total_output", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
		{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
	}}})

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	summary := &UsageSummary{}
	if cursor.Next(ctx) {
		var result struct {
			TotalRequests int   `bson:"total_requests"`
			Failed        int   `bson:"failed"`
			TotalInput    int64 `bson:"total_input"`
			TotalOutput   int64 `bson:"total_output"`
			TotalTokens   int64 `bson:"total_tokens"`
		}
		if err := cursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
		summary.TotalRequests = result.TotalRequests
		summary.FailedCalls = result.Failed
		summary.TotalInput = result.TotalInput
		summary.TotalOutput = result.TotalOutput
		summary.TotalTokens = result.TotalTokens
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}
	return summary, nil
}

func mongoDateFormat(interval string) string {
	switch interval {
	case "weekly":
		return "%G-W%V"
	case "monthly":
		return "%Y-%m"
	case "yearly":
		return "%Y"
	default:
		return "%Y-%m-%d"
	}
}

func (r *MongoDBReader) GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error) {
	pipeline := bson.A{}
	if m := matchStage(params); m != nil {
		pipeline = append(pipeline, m)
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: mongoDateFormat(normalizeInterval(params.Interval))},
				{Key: "date", Value: "$timestamp"},
			}}}},
			{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "input_tokens", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
			{Key: "output_tokens", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily usage: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]DailyUsage, 0)
	for cursor.Next(ctx) {
		var row struct {
			Date         string `bson:"_id"`
			Requests     int    `bson:"requests"`
			InputTokens  int64  `bson:"input_tokens"`
			OutputTokens int64  `bson:"output_tokens"`
			TotalTokens  int64  `bson:"total_tokens"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode daily usage row: %w", err)
		}
		result = append(result, DailyUsage(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage cursor: %w", err)
	}
	return result, nil
}
