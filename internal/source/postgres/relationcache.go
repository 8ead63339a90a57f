package postgres

import (
	"sync"

	"github.com/jackc/pglogrepl"
)

// RelationCache maps a relation OID to the latest Relation message seen
// this session. It is populated the first time a relation is
// emitted and refreshed whenever the server re-emits one (e.g. after a
// DDL change causes Postgres to resend Relation metadata).
type RelationCache struct {
	mu   sync.RWMutex
	rels map[uint32]*pglogrepl.RelationMessage
}

func NewRelationCache() *RelationCache {
	return &RelationCache{rels: make(map[uint32]*pglogrepl.RelationMessage)}
}

// Store caches msg, replacing whatever was previously held for its
// RelationID, and reports whether the column set changed relative to the
// prior entry (false the first time a relation is seen). The caller uses
// the report to trigger a reconcile against the target before the next
// row for this relation is written (S4 in the spec's scenario catalog).
func (c *RelationCache) Store(msg *pglogrepl.RelationMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, existed := c.rels[msg.RelationID]
	c.rels[msg.RelationID] = msg
	if !existed {
		return false
	}
	prevNames := make([]string, len(prev.Columns))
	for i, col := range prev.Columns {
		prevNames[i] = col.Name
	}
	return ColumnsChanged(msg, prevNames)
}

// Get returns the cached Relation message for relationID, and false if no
// Relation message has been seen for it yet.
func (c *RelationCache) Get(relationID uint32) (*pglogrepl.RelationMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.rels[relationID]
	return rel, ok
}

// ColumnsChanged reports whether the stored Relation's column names
// differ from prevColumnNames.
func ColumnsChanged(rel *pglogrepl.RelationMessage, prevColumnNames []string) bool {
	if len(rel.Columns) != len(prevColumnNames) {
		return true
	}
	for i, col := range rel.Columns {
		if col.Name != prevColumnNames[i] {
			return true
		}
	}
	return false
}
