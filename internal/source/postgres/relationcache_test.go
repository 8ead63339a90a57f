package postgres

import (
	"testing"

	"github.com/jackc/pglogrepl"
)

func relMsg(oid uint32, names ...string) *pglogrepl.RelationMessage {
	cols := make([]*pglogrepl.RelationMessageColumn, len(names))
	for i, n := range names {
		flags := uint8(0)
		dataType := uint32(25) // text
		switch n {
		case "id", "age":
			flags = 0
			dataType = 23 // int4
		}
		if n == "id" {
			flags = 1
		}
		cols[i] = &pglogrepl.RelationMessageColumn{Flags: flags, Name: n, DataType: dataType}
	}
	return &pglogrepl.RelationMessage{RelationID: oid, Namespace: "public", RelationName: "users", Columns: cols}
}

func TestRelationCacheStoreReportsNoChangeOnFirstSight(t *testing.T) {
	c := NewRelationCache()
	if changed := c.Store(relMsg(1, "id", "name")); changed {
		t.Fatal("expected no drift on first Store for a relation")
	}
}

func TestRelationCacheStoreDetectsAddedColumn(t *testing.T) {
	c := NewRelationCache()
	c.Store(relMsg(1, "id", "name"))
	if changed := c.Store(relMsg(1, "id", "name", "age")); !changed {
		t.Fatal("expected drift once a column is added to the relation")
	}
}

func TestRelationCacheStoreReportsNoChangeWhenColumnsIdentical(t *testing.T) {
	c := NewRelationCache()
	c.Store(relMsg(1, "id", "name"))
	if changed := c.Store(relMsg(1, "id", "name")); changed {
		t.Fatal("expected no drift when the column list is unchanged")
	}
}

func TestColumnsChangedDetectsRename(t *testing.T) {
	rel := relMsg(1, "id", "renamed")
	if !ColumnsChanged(rel, []string{"id", "name"}) {
		t.Fatal("expected ColumnsChanged to report true for a renamed column")
	}
}
