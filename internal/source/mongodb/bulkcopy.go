// C7 for MongoDB: find({}) over the collection, streamed in
// copy_batch_size batches into the sink with _version = 0, identical
// version assignment to the Postgres bulk copier.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

// BulkCopy streams every document of schema's collection to sink in
// batches of batchSize, at _version = 0.
func BulkCopy(ctx context.Context, db *mongo.Database, schema types.TableSchema, batchSize int64, sink source.Sink) error {
	cur, err := db.Collection(schema.SourceRef.Name).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongodb: find %s: %w", schema.SourceRef, err)
	}
	defer cur.Close(ctx)

	var batch []types.Row
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.InsertBatch(ctx, schema.SourceRef, schema, batch, 0); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for cur.Next(ctx) {
		row, err := decodeDocument(cur.Current)
		if err != nil {
			return fmt.Errorf("mongodb: decode document for %s: %w", schema.SourceRef, err)
		}
		batch = append(batch, row)
		if int64(len(batch)) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("mongodb: cursor error for %s: %w", schema.SourceRef, err)
	}
	return flush()
}
