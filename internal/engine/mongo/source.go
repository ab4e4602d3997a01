// Package mongo implements engine.Source on MongoDB, including Atlas Search
// stages compiled into filters.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
)

var _ engine.Source = (*Source)(nil)

// Config holds connection parameters.
type Config struct {
	URI      string
	Database string
}

// Source reads and writes one MongoDB database.
type Source struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB. The caller owns Close.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.URI == "" {
		return nil, errors.New("uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("database is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Source{client: client, db: client.Database(cfg.Database)}, nil
}

// Ping checks connectivity.
func (s *Source) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WaitForReady polls Ping until the server responds or timeout expires.
func (s *Source) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Close disconnects the client.
func (s *Source) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Find implements engine.Source.
func (s *Source) Find(ctx context.Context, collection string, q engine.Query) ([]body.Document, error) {
	coll := s.db.Collection(collection)

	var (
		cur *mongo.Cursor
		err error
	)
	if _, ok := q.Filters[engine.SearchStage]; ok {
		cur, err = coll.Aggregate(ctx, findPipeline(q))
	} else {
		cur, err = coll.Find(ctx, filterDoc(q.Filters), findOptions(q))
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	out := make([]body.Document, len(raw))
	for i, d := range raw {
		out[i] = normalize(d).(map[string]any)
	}
	return out, nil
}

// Count implements engine.Source. Filters carrying a search stage are counted
// through an aggregation.
func (s *Source) Count(ctx context.Context, collection string, filters map[string]any) (int64, error) {
	coll := s.db.Collection(collection)

	if _, ok := filters[engine.SearchStage]; !ok {
		n, err := coll.CountDocuments(ctx, filterDoc(filters))
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", collection, err)
		}
		return n, nil
	}

	cur, err := coll.Aggregate(ctx, countPipeline(filters))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var res []struct {
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return 0, fmt.Errorf("decode count %s: %w", collection, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0].Count, nil
}

// Insert implements engine.Source.
func (s *Source) Insert(ctx context.Context, collection string, doc body.Document) (any, error) {
	res, err := s.db.Collection(collection).InsertOne(ctx, encode(doc))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	return res.InsertedID, nil
}

// Update implements engine.Source. Modifiers without operators replace the
// first matching document.
func (s *Source) Update(ctx context.Context, collection string, filters, modifier map[string]any) (int64, error) {
	coll := s.db.Collection(collection)

	var (
		res *mongo.UpdateResult
		err error
	)
	if isOperatorDoc(modifier) {
		res, err = coll.UpdateMany(ctx, filterDoc(filters), encode(modifier))
	} else {
		res, err = coll.ReplaceOne(ctx, filterDoc(filters), encode(modifier))
	}
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	return res.MatchedCount, nil
}

// Delete implements engine.Source.
func (s *Source) Delete(ctx context.Context, collection string, filters map[string]any) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filterDoc(filters))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

func findOptions(q engine.Query) *options.FindOptions {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDoc(q.Sort))
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Fields != nil {
		opts.SetProjection(projection(q.Fields))
	}
	return opts
}

// findPipeline runs a search stage first, as Atlas requires, then the
// remaining filters and options.
func findPipeline(q engine.Query) mongo.Pipeline {
	stage, rest := splitSearch(q.Filters)
	p := mongo.Pipeline{{{Key: "$search", Value: encode(stage)}}}
	if len(rest) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: encode(rest)}})
	}
	if len(q.Sort) > 0 {
		p = append(p, bson.D{{Key: "$sort", Value: sortDoc(q.Sort)}})
	}
	if q.Skip > 0 {
		p = append(p, bson.D{{Key: "$skip", Value: q.Skip}})
	}
	if q.Limit > 0 {
		p = append(p, bson.D{{Key: "$limit", Value: q.Limit}})
	}
	if q.Fields != nil {
		p = append(p, bson.D{{Key: "$project", Value: projection(q.Fields)}})
	}
	return p
}

func countPipeline(filters map[string]any) mongo.Pipeline {
	stage, rest := splitSearch(filters)
	p := mongo.Pipeline{{{Key: "$search", Value: encode(stage)}}}
	if len(rest) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: encode(rest)}})
	}
	return append(p, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
	}}})
}

func splitSearch(filters map[string]any) (any, map[string]any) {
	rest := make(map[string]any, len(filters))
	for k, v := range filters {
		if k != engine.SearchStage {
			rest[k] = v
		}
	}
	return filters[engine.SearchStage], rest
}

func filterDoc(filters map[string]any) any {
	if len(filters) == 0 {
		return bson.D{}
	}
	return encode(filters)
}

func sortDoc(s body.Sort) bson.D {
	d := make(bson.D, 0, len(s))
	for _, f := range s {
		d = append(d, bson.E{Key: f.Field, Value: encode(f.Order)})
	}
	return d
}

func projection(fields []string) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		d = append(d, bson.E{Key: f, Value: 1})
	}
	return d
}

func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !body.IsDirective(k) {
			return false
		}
	}
	return true
}

// encode converts ordered sorts into bson.D so key order survives marshalling.
func encode(v any) any {
	switch x := v.(type) {
	case body.Sort:
		return sortDoc(x)
	case map[string]any:
		out := make(bson.M, len(x))
		for k, item := range x {
			out[k] = encode(item)
		}
		return out
	case []any:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = encode(item)
		}
		return out
	default:
		return v
	}
}

// normalize turns driver types into the plain maps and slices the rest of
// the code works with.
func normalize(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	default:
		return v
	}
}
