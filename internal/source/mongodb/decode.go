// Pure translation half of C4b: turns one decoded change-stream event
// document into a types.ChangeRecord, kept separate from stream.go's
// cursor tailing loop the same way postgres/decode.go is split from
// postgres/stream.go, so the mapping can be tested without a live
// change stream.
package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/myyrakle/clockpipe/internal/types"
)

// changeEvent mirrors the subset of a MongoDB change-stream document
// clockpipe cares about.
type changeEvent struct {
	ID                bson.Raw `bson:"_id"`
	OperationType     string   `bson:"operationType"`
	FullDocument      bson.Raw `bson:"fullDocument"`
	DocumentKey       bson.Raw `bson:"documentKey"`
	Ns                struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// translateChangeEvent maps one change-stream document to a
// ChangeRecord: insert -> Insert with fullDocument; update/replace ->
// Update with the post-image (fullDocument: updateLookup keeps this
// populated); delete -> Delete carrying only _id; drop/dropDatabase/
// rename -> Truncate of the affected collection. It
// returns (nil, nil) for operation types clockpipe does not act on
// (e.g. "invalidate").
func translateChangeEvent(dbName string, ev changeEvent) (*types.ChangeRecord, error) {
	ref := types.SourceRef{Schema: dbName, Name: ev.Ns.Coll}
	token := types.OpaqueBytes(ev.ID)

	switch ev.OperationType {
	case "insert":
		row, err := decodeDocument(ev.FullDocument)
		if err != nil {
			return nil, fmt.Errorf("mongodb: decode fullDocument for insert on %s: %w", ref, err)
		}
		return &types.ChangeRecord{
			SourceRef:  ref,
			Op:         types.ChangeOp{Kind: types.OpInsert},
			Row:        row,
			LSNOrToken: token,
		}, nil

	case "update", "replace":
		if ev.FullDocument == nil {
			// fullDocument can still be nil if the document was deleted
			// before the lookup executed; nothing to apply.
			return nil, nil
		}
		row, err := decodeDocument(ev.FullDocument)
		if err != nil {
			return nil, fmt.Errorf("mongodb: decode fullDocument for update on %s: %w", ref, err)
		}
		return &types.ChangeRecord{
			SourceRef:  ref,
			Op:         types.ChangeOp{Kind: types.OpUpdate},
			Row:        row,
			LSNOrToken: token,
		}, nil

	case "delete":
		key, err := decodeDocument(ev.DocumentKey)
		if err != nil {
			return nil, fmt.Errorf("mongodb: decode documentKey for delete on %s: %w", ref, err)
		}
		return &types.ChangeRecord{
			SourceRef:  ref,
			Op:         types.ChangeOp{Kind: types.OpDelete},
			Row:        key,
			LSNOrToken: token,
		}, nil

	case "drop", "dropDatabase", "rename":
		return &types.ChangeRecord{
			SourceRef:  ref,
			Op:         types.ChangeOp{Kind: types.OpTruncate},
			LSNOrToken: token,
		}, nil

	default:
		return nil, nil
	}
}

// decodeDocument converts a raw BSON document into a Row of tagged
// Values, the same dynamic-typing boundary postgres/decode.go crosses
// for textual tuple columns.
func decodeDocument(raw bson.Raw) (types.Row, error) {
	if raw == nil {
		return types.Row{}, nil
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	row := make(types.Row, len(elems))
	for _, elem := range elems {
		row[elem.Key()] = valueFromBSON(elem.Value())
	}
	return row, nil
}

func valueFromBSON(v bson.RawValue) types.Value {
	switch v.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return types.NullValue()
	case bson.TypeBoolean:
		return types.BoolValue(v.Boolean())
	case bson.TypeInt32:
		return types.IntValue(int64(v.Int32()))
	case bson.TypeInt64:
		return types.IntValue(v.Int64())
	case bson.TypeDouble:
		return types.FloatValue(v.Double())
	case bson.TypeString:
		return types.StringValue(v.StringValue())
	case bson.TypeDateTime:
		return types.TimestampValue(v.Time().UnixMicro())
	case bson.TypeTimestamp:
		t, _ := v.Timestamp()
		return types.TimestampValue(int64(t) * 1_000_000)
	case bson.TypeObjectID:
		return types.StringValue(v.ObjectID().Hex())
	case bson.TypeBinary:
		_, data := v.Binary()
		return types.BytesValue(data)
	case bson.TypeArray:
		elems, _ := v.Array().Elements()
		arr := make([]types.Value, len(elems))
		for i, e := range elems {
			arr[i] = valueFromBSON(e.Value())
		}
		return types.ArrayValue(arr)
	case bson.TypeEmbeddedDocument:
		doc, err := decodeDocument(v.Document())
		if err != nil {
			return types.StringValue(v.String())
		}
		return types.DocumentValue(doc)
	case bson.TypeDecimal128:
		dec := v.Decimal128()
		return types.DecimalValue(dec.String())
	default:
		return types.StringValue(v.String())
	}
}
