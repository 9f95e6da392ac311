package services

import (
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// Projection is the view a selection exposes. Generation is the
// reconciliation pass that produced it.
type Projection struct {
	Record     models.Record
	Generation uint64
}

// Selection is a derived view of one record. It is replaced wholesale on
// every reconciliation and never edited in place.
type Selection struct {
	table string
	id    string

	cur atomic.Pointer[Projection]

	mu      sync.Mutex
	changed chan struct{}
}

func newSelection(table, id string) *Selection {
	return &Selection{table: table, id: id, changed: make(chan struct{})}
}

func (s *Selection) Table() string { return s.table }
func (s *Selection) ID() string    { return s.id }

// Current returns the latest projection. It reports false when the record is
// not in the collection.
func (s *Selection) Current() (Projection, bool) {
	p := s.cur.Load()
	if p == nil {
		return Projection{}, false
	}
	out := *p
	out.Record = p.Record.Clone()
	return out, true
}

// Changed returns a channel closed at the next swap.
func (s *Selection) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Selection) swap(p *Projection) {
	s.cur.Store(p)
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Selections indexes selections by table and id.
type Selections struct {
	mu      sync.Mutex
	byTable map[string]map[string][]*Selection
}

func NewSelections() *Selections {
	return &Selections{byTable: make(map[string]map[string][]*Selection)}
}

func (s *Selections) add(sel *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.byTable[sel.table]
	if !ok {
		ids = make(map[string][]*Selection)
		s.byTable[sel.table] = ids
	}
	ids[sel.id] = append(ids[sel.id], sel)
}

// Release stops refreshing sel.
func (s *Selections) Release(sel *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byTable[sel.table][sel.id]
	for i, x := range list {
		if x == sel {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byTable[sel.table], sel.id)
		return
	}
	s.byTable[sel.table][sel.id] = list
}

// refresh recomputes every selection of table from collection.
func (s *Selections) refresh(table string, collection []models.Record, gen uint64) {
	index := make(map[string]models.Record, len(collection))
	for _, rec := range collection {
		index[rec.ID] = rec
	}

	s.mu.Lock()
	targets := make([]*Selection, 0)
	for _, list := range s.byTable[table] {
		targets = append(targets, list...)
	}
	s.mu.Unlock()

	for _, sel := range targets {
		rec, ok := index[sel.id]
		if !ok {
			sel.swap(nil)
			continue
		}
		sel.swap(&Projection{Record: rec.Clone(), Generation: gen})
	}
}
