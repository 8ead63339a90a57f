package postgres

import (
	"testing"

	"github.com/jackc/pglogrepl"

	"github.com/myyrakle/clockpipe/internal/types"
)

func refOf(namespace, name string) types.SourceRef {
	return types.SourceRef{Schema: namespace, Name: name}
}

func TestTranslateMessageRelationFirstSightProducesNoSchemaChange(t *testing.T) {
	cache := NewRelationCache()
	rec, schema, err := TranslateMessage(cache, relMsg(1, "id", "name"), refOf)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if rec != nil {
		t.Fatal("expected a Relation message to never produce a ChangeRecord")
	}
	if schema != nil {
		t.Fatal("expected no schema-change signal the first time a relation is seen")
	}
}

func TestTranslateMessageRelationDriftProducesSchemaChange(t *testing.T) {
	cache := NewRelationCache()
	if _, _, err := TranslateMessage(cache, relMsg(1, "id", "name"), refOf); err != nil {
		t.Fatalf("seed TranslateMessage: %v", err)
	}

	rec, schema, err := TranslateMessage(cache, relMsg(1, "id", "name", "age"), refOf)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if rec != nil {
		t.Fatal("expected a Relation message to never produce a ChangeRecord")
	}
	if schema == nil {
		t.Fatal("expected a schema-change signal once a column is added")
	}
	if len(schema.Columns) != 3 {
		t.Fatalf("expected the rebuilt schema to carry all 3 columns, got %d", len(schema.Columns))
	}
	added, ok := schema.ColumnByName("age")
	if !ok {
		t.Fatal("expected the rebuilt schema to include the new column")
	}
	if !added.Nullable || added.IsPrimaryKey {
		t.Fatalf("expected a non-key added column to be nullable, got %+v", added)
	}
	idCol, ok := schema.ColumnByName("id")
	if !ok || !idCol.IsPrimaryKey || idCol.Nullable {
		t.Fatalf("expected the key column to remain primary-key/non-nullable, got %+v", idCol)
	}
	if len(schema.PrimaryKey) != 1 || schema.PrimaryKey[0] != "id" {
		t.Fatalf("expected primary key [id], got %v", schema.PrimaryKey)
	}
}

func TestTranslateMessageInsertUsesCachedRelation(t *testing.T) {
	cache := NewRelationCache()
	cache.Store(relMsg(1, "id", "name"))

	insert := &pglogrepl.InsertMessage{
		RelationID: 1,
		Tuple: &pglogrepl.TupleData{
			Columns: []*pglogrepl.TupleDataColumn{
				{DataType: 't', Data: []byte("1")},
				{DataType: 't', Data: []byte("alice")},
			},
		},
	}

	rec, schema, err := TranslateMessage(cache, insert, refOf)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if schema != nil {
		t.Fatal("expected no schema-change signal for an Insert message")
	}
	if rec == nil {
		t.Fatal("expected a ChangeRecord for an Insert message")
	}
	if rec.Op.Kind != types.OpInsert {
		t.Fatalf("expected OpInsert, got %v", rec.Op.Kind)
	}
	if rec.Row["name"].Str != "alice" {
		t.Fatalf("expected decoded name=alice, got %+v", rec.Row["name"])
	}
}
