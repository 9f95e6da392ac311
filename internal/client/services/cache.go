package services

import (
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// collectionCache is the in-memory view of every table the coordinator has
// touched. Records are stored and handed out as clones.
type collectionCache struct {
	mu     sync.RWMutex
	tables map[string]map[string]models.Record
}

func newCollectionCache() *collectionCache {
	return &collectionCache{tables: make(map[string]map[string]models.Record)}
}

func (c *collectionCache) put(rec models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[rec.Table]
	if !ok {
		t = make(map[string]models.Record)
		c.tables[rec.Table] = t
	}
	t[rec.ID] = rec.Clone()
}

func (c *collectionCache) get(table, id string) (models.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.tables[table][id]
	if !ok {
		return models.Record{}, false
	}
	return rec.Clone(), true
}

// find looks id up in every table.
func (c *collectionCache) find(id string) (models.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tables {
		if rec, ok := t[id]; ok {
			return rec.Clone(), true
		}
	}
	return models.Record{}, false
}

func (c *collectionCache) remove(table, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables[table], id)
}

func (c *collectionCache) setState(table, id string, state models.RecordState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.tables[table][id]; ok {
		rec.State = state
		c.tables[table][id] = rec
	}
}

// list returns the table ordered by UpdatedAt, then ID.
func (c *collectionCache) list(table string, filter models.Filter) []models.Record {
	c.mu.RLock()
	out := make([]models.Record, 0, len(c.tables[table]))
	for _, rec := range c.tables[table] {
		if rec.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, rec.Clone())
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Record) int {
		if n := a.UpdatedAt.Compare(b.UpdatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// replace swaps the whole table for recs.
func (c *collectionCache) replace(table string, recs map[string]models.Record) {
	t := make(map[string]models.Record, len(recs))
	for id, rec := range recs {
		t[id] = rec.Clone()
	}
	c.mu.Lock()
	c.tables[table] = t
	c.mu.Unlock()
}

func (c *collectionCache) tableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tables))
	for name := range c.tables {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
