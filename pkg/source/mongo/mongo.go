// SPDX-License-Identifier: Apache-2.0

// Package mongo implements source.Adapter for MongoDB, treating each
// database as a schema and each collection as a table per spec.md §4.2.
package mongo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
)

var systemDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// Handle wraps an open mongo.Client.
type Handle struct {
	client *mongo.Client
}

func (h *Handle) Close() error {
	return h.client.Disconnect(context.Background())
}

// Adapter is the MongoDB source.Adapter implementation. A collection's
// "columns" are synthesized from a representative document sample since
// MongoDB has no fixed schema; see describeColumns.
type Adapter struct {
	// SampleSize bounds how many documents describeColumns inspects to
	// build a column list. Defaults to 100 when zero.
	SampleSize int64
}

func New() *Adapter { return &Adapter{SampleSize: 100} }

// Open establishes a client session and pings admin to confirm
// reachability, per spec.md §4.2's MongoDB-specific open semantics.
func (a *Adapter) Open(ctx context.Context, connString string) (source.Handle, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connString).
		SetSocketTimeout(600*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping admin: %w", err)
	}
	return &Handle{client: client}, nil
}

func (a *Adapter) ListTables(ctx context.Context, h source.Handle) ([]schema.Table, error) {
	hh := h.(*Handle)
	dbNames, err := hh.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}

	var out []schema.Table
	for _, dbName := range dbNames {
		if systemDatabases[dbName] {
			continue
		}
		collNames, err := hh.client.Database(dbName).ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, err
		}
		for _, c := range collNames {
			if strings.HasPrefix(c, "system.") {
				continue
			}
			out = append(out, schema.Table{Schema: dbName, Name: c})
		}
	}
	return out, nil
}

func (a *Adapter) sampleSize() int64 {
	if a.SampleSize > 0 {
		return a.SampleSize
	}
	return 100
}

// DescribeColumns synthesizes a column list from the union of top-level
// field names observed across a document sample, since MongoDB
// collections have no declared schema. Nested documents and arrays are
// reported with BSON_DOCUMENT/BSON_ARRAY as their type so the target
// type-mapping table (spec.md §4.3) renders them as JSONB.
func (a *Adapter) DescribeColumns(ctx context.Context, h source.Handle, schemaName, table string) ([]source.ColumnInfo, error) {
	hh := h.(*Handle)
	coll := hh.client.Database(schemaName).Collection(table)

	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(a.sampleSize()))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	order := []string{}
	seen := map[string]string{}
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		for _, elem := range doc {
			bt := bsonFieldType(elem.Value)
			if existing, ok := seen[elem.Key]; ok {
				if existing != bt {
					seen[elem.Key] = "BSON_DOCUMENT" // widen on type conflict
				}
				continue
			}
			seen[elem.Key] = bt
			order = append(order, elem.Key)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	out := make([]source.ColumnInfo, 0, len(order))
	for _, name := range order {
		col := source.ColumnInfo{Name: name, Type: seen[name], Nullable: true}
		if name == "_id" {
			col.Key = "PRI"
		}
		out = append(out, col)
	}
	return out, nil
}

func bsonFieldType(v any) string {
	switch v.(type) {
	case bson.D, bson.M, map[string]any:
		return "BSON_DOCUMENT"
	case bson.A, []any:
		return "BSON_ARRAY"
	case bool:
		return "BOOLEAN"
	case int32, int64, int:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE"
	default:
		return "TEXT"
	}
}

// DetectPK always returns ["_id"] — every MongoDB document has one.
func (a *Adapter) DetectPK(ctx context.Context, h source.Handle, schemaName, table string) ([]string, error) {
	return []string{"_id"}, nil
}

var timeFieldPreference = []string{
	"updated_at", "modified_at", "last_modified", "updated_time",
	"created_at", "created_time", "timestamp",
}

func (a *Adapter) DetectTimeColumn(ctx context.Context, h source.Handle, schemaName, table string) (string, error) {
	cols, err := a.DescribeColumns(ctx, h, schemaName, table)
	if err != nil {
		return "", err
	}
	byName := make(map[string]bool, len(cols))
	for _, c := range cols {
		byName[strings.ToLower(c.Name)] = true
	}
	for _, want := range timeFieldPreference {
		if byName[want] {
			return want, nil
		}
	}
	for _, c := range cols {
		lower := strings.ToLower(c.Name)
		if strings.HasSuffix(lower, "_at") || strings.HasPrefix(lower, "fecha_") {
			return c.Name, nil
		}
	}
	return "", nil
}

func (a *Adapter) Count(ctx context.Context, h source.Handle, schemaName, table string) (int64, error) {
	hh := h.(*Handle)
	return hh.client.Database(schemaName).Collection(table).CountDocuments(ctx, bson.D{})
}

// ReadChunk uses Find().Skip().Limit() per spec.md §4.2's MongoDB-specific
// read_chunk semantics. PK/TEMPORAL_PK strategies still advance via
// Skip/Limit rather than a range filter, since _id's BSON ObjectID does
// not round-trip cleanly through the adapter's string-keyed Row type.
func (a *Adapter) ReadChunk(ctx context.Context, h source.Handle, schemaName, table string, cursor source.Cursor, chunkSize int, pkColumns, candidateColumns []string) (source.Chunk, error) {
	hh := h.(*Handle)
	coll := hh.client.Database(schemaName).Collection(table)

	colInfos, err := a.DescribeColumns(ctx, h, schemaName, table)
	if err != nil {
		return source.Chunk{}, err
	}
	colTypes := make(map[string]string, len(colInfos))
	for _, c := range colInfos {
		colTypes[c.Name] = c.Type
	}

	offset := cursor.Offset
	findCursor, err := coll.Find(ctx, bson.D{}, options.Find().
		SetSkip(offset).SetLimit(int64(chunkSize)).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return source.Chunk{}, err
	}
	defer findCursor.Close(ctx)

	var rows []source.Row
	for findCursor.Next(ctx) {
		var doc bson.D
		if err := findCursor.Decode(&doc); err != nil {
			return source.Chunk{}, err
		}
		rows = append(rows, docToRow(doc))
	}
	if err := findCursor.Err(); err != nil {
		return source.Chunk{}, err
	}

	next := cursor
	next.Offset = offset + int64(len(rows))

	return source.Chunk{Rows: rows, NextCursor: next, ColumnTypes: colTypes}, nil
}

func docToRow(doc bson.D) source.Row {
	r := make(source.Row, len(doc))
	for _, elem := range doc {
		switch v := elem.Value.(type) {
		case nil:
			r[elem.Key] = nil
		case string:
			r[elem.Key] = &v
		default:
			s := renderValue(v)
			r[elem.Key] = &s
		}
	}
	return r
}

func renderValue(v any) string {
	switch val := v.(type) {
	case bson.D, bson.M, bson.A, []any:
		b, err := bson.MarshalExtJSON(val, true, true)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (a *Adapter) ExistsInSource(ctx context.Context, h source.Handle, schemaName, table string, pkColumn string, pkValues []string) (map[string]bool, error) {
	hh := h.(*Handle)
	coll := hh.client.Database(schemaName).Collection(table)

	out := make(map[string]bool, len(pkValues))
	const subBatch = 500
	for start := 0; start < len(pkValues); start += subBatch {
		end := start + subBatch
		if end > len(pkValues) {
			end = len(pkValues)
		}
		batch := pkValues[start:end]

		values := make([]any, len(batch))
		for i, v := range batch {
			values[i] = v
		}

		cursor, err := coll.Find(ctx, bson.D{{Key: pkColumn, Value: bson.D{{Key: "$in", Value: values}}}},
			options.Find().SetProjection(bson.D{{Key: pkColumn, Value: 1}}))
		if err != nil {
			return nil, err
		}

		present := make(map[string]bool, len(batch))
		for cursor.Next(ctx) {
			var doc bson.D
			if err := cursor.Decode(&doc); err != nil {
				cursor.Close(ctx)
				return nil, err
			}
			for _, elem := range doc {
				if elem.Key == pkColumn {
					present[renderValue(elem.Value)] = true
				}
			}
		}
		if err := cursor.Err(); err != nil {
			cursor.Close(ctx)
			return nil, err
		}
		cursor.Close(ctx)

		for _, v := range batch {
			out[v] = present[v]
		}
	}
	return out, nil
}
