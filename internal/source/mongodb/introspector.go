// Package mongodb implements the MongoDB variant of every source-side
// component, mirroring internal/source/postgres's split: introspection
// (C3), change-stream decoding (C4b), the file-backed cursor (C5), and
// bulk copy (C7).
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/types"
)

// sampleSize is how many documents introspectCollection reads to build a
// field list when a collection's configuration carries no explicit one
//.
const sampleSize = 100

// Introspector implements C3 for MongoDB.
type Introspector struct {
	db     *mongo.Database
	config config.MongoDBConfig
}

func NewIntrospector(db *mongo.Database, cfg config.MongoDBConfig) *Introspector {
	return &Introspector{db: db, config: cfg}
}

// IntrospectAll builds one TableSchema per configured collection.
func (in *Introspector) IntrospectAll(ctx context.Context) ([]types.TableSchema, error) {
	schemas := make([]types.TableSchema, 0, len(in.config.Collections))
	for _, coll := range in.config.Collections {
		schema, err := in.introspectCollection(ctx, coll.CollectionName)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// introspectCollection samples up to sampleSize documents and unions
// their top-level field names, treating _id as the primary key (spec
// §4.3). Sampled BSON types are recorded as a hint for internal/typemap.
// Only fields seen in at least one sampled document get a column; _id is
// always present and gets type "objectId" when no sample carried it.
func (in *Introspector) introspectCollection(ctx context.Context, name string) (types.TableSchema, error) {
	ref := types.SourceRef{Schema: in.db.Name(), Name: name}

	cur, err := in.db.Collection(name).Find(ctx, bson.D{}, nil)
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("mongodb: sample %s: %w", ref, err)
	}
	defer cur.Close(ctx)

	fieldTypes := make(map[string]string)
	order := make([]string, 0)
	sampled := 0
	for cur.Next(ctx) && sampled < sampleSize {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return types.TableSchema{}, fmt.Errorf("mongodb: decode sample for %s: %w", ref, err)
		}
		for _, elem := range doc {
			if _, seen := fieldTypes[elem.Key]; !seen {
				order = append(order, elem.Key)
			}
			fieldTypes[elem.Key] = bsonKindName(elem.Value)
		}
		sampled++
	}
	if err := cur.Err(); err != nil {
		return types.TableSchema{}, fmt.Errorf("mongodb: cursor error sampling %s: %w", ref, err)
	}

	if _, ok := fieldTypes["_id"]; !ok {
		order = append([]string{"_id"}, order...)
		fieldTypes["_id"] = "objectId"
	}

	columns := make([]types.ColumnSpec, 0, len(order))
	for i, field := range order {
		columns = append(columns, types.ColumnSpec{
			Name:         field,
			SourceType:   types.SourceType{Kind: "mongodb", Name: fieldTypes[field]},
			Nullable:     field != "_id",
			IsPrimaryKey: field == "_id",
			Ordinal:      i,
		})
	}

	return types.TableSchema{
		SourceRef:  ref,
		Columns:    columns,
		PrimaryKey: []string{"_id"},
	}, nil
}

func bsonKindName(v interface{}) string {
	switch v.(type) {
	case int32:
		return "int32"
	case int64:
		return "int64"
	case float64:
		return "double"
	case bool:
		return "bool"
	case string:
		return "string"
	case bson.M, bson.D:
		return "object"
	case bson.A:
		return "array"
	default:
		return "string"
	}
}
