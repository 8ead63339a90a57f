// Network half of C4b: tails a change stream with the mongo-driver,
// opened with the stored resume token when present or from "now"
// otherwise, feeding raw events through decode.go's pure
// translation.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

// changeStreamHistoryLostCode is the MongoDB server error code returned
// when a resume token no longer refers to an entry retained in the
// oplog.
const changeStreamHistoryLostCode = 286

// ErrCursorLost is the non-retryable error Peek returns once the server
// reports ChangeStreamHistoryLost.
var ErrCursorLost = errors.New("mongodb: change stream history lost")

// pollTimeout bounds how long Peek blocks for the stream's internal
// getMore before returning whatever it has accumulated so far.
const pollTimeout = 10 * time.Second

// Decoder tails a change stream across every configured collection in
// one database.
type Decoder struct {
	db     *mongo.Database
	dbName string
	coll   []string
	stream *mongo.ChangeStream
}

// NewDecoder opens a change stream over the configured collections. A
// nil resumeToken opens the stream from "now".
func NewDecoder(ctx context.Context, db *mongo.Database, collections []string, resumeToken types.OpaqueBytes) (*Decoder, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: collections}}},
		}}},
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeToken) > 0 {
		opts = opts.SetResumeAfter(bson.Raw(resumeToken))
	}

	stream, err := db.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: open change stream on %s: %w", db.Name(), err)
	}

	return &Decoder{db: db, dbName: db.Name(), coll: collections, stream: stream}, nil
}

// Peek reads up to limit decoded ChangeRecords, returning early (Empty)
// once the stream yields nothing within pollTimeout.
func (d *Decoder) Peek(ctx context.Context, limit int64) source.PeekResult {
	tr := otel.Tracer("clockpipe")
	ctx, span := tr.Start(ctx, "mongodb.peek")
	defer span.End()

	var changes []types.ChangeRecord
	var lastToken types.OpaqueBytes

	deadline := time.Now().Add(pollTimeout)
	for int64(len(changes)) < limit && time.Now().Before(deadline) {
		if !d.stream.TryNext(ctx) {
			if err := d.stream.Err(); err != nil {
				if isChangeStreamHistoryLost(err) {
					return source.PeekResult{Err: ErrCursorLost}
				}
				if errors.Is(ctx.Err(), context.Canceled) {
					return source.PeekResult{Empty: true}
				}
				return source.PeekResult{Err: fmt.Errorf("mongodb: change stream: %w", err), Transient: true}
			}
			if len(changes) > 0 || ctx.Err() != nil {
				break
			}
			continue
		}

		var ev changeEvent
		if err := d.stream.Decode(&ev); err != nil {
			return source.PeekResult{Err: fmt.Errorf("mongodb: decode change event: %w", err), Transient: true}
		}

		rec, err := translateChangeEvent(d.dbName, ev)
		if err != nil {
			return source.PeekResult{Err: err}
		}
		lastToken = types.OpaqueBytes(d.stream.ResumeToken())
		if rec != nil {
			changes = append(changes, *rec)
		}
	}

	if len(changes) == 0 {
		return source.PeekResult{Empty: true}
	}
	return source.PeekResult{Changes: changes, LastToken: lastToken}
}

// Ack is a no-op at the protocol level; MongoDB change streams carry no
// server-side acknowledgement, so durability is entirely CursorSave's
// responsibility.
func (d *Decoder) Ack(ctx context.Context, token types.OpaqueBytes) error {
	return nil
}

func (d *Decoder) Close(ctx context.Context) error {
	return d.stream.Close(ctx)
}

func isChangeStreamHistoryLost(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == changeStreamHistoryLostCode
	}
	return false
}
