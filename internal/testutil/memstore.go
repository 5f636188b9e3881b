package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

// MemStore is an in-memory collection with the same paging semantics as
// docstore.DB. Hooks let tests fail individual calls.
type MemStore struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	nextKey int64

	// FindHook runs before every Find; a non-nil error is returned as is.
	FindHook func(call int, q models.Query, w models.Window) error
	// UpsertHook runs before every Upsert.
	UpsertHook func(doc models.Document) error

	findCalls int
	upserts   int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]models.Document)}
}

// Find mirrors docstore.DB.Find.
func (m *MemStore) Find(_ context.Context, q models.Query, s models.Sort, w models.Window) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.FindHook != nil {
		if err := m.FindHook(m.findCalls, q, w); err != nil {
			return nil, err
		}
	}
	if !s.Stable() {
		return nil, fmt.Errorf("memstore: %w", apperr.ErrUnstableSort)
	}

	matched, err := m.matchLocked(q)
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		var less bool
		if s.Field == models.SortByID {
			less = matched[i].ID < matched[j].ID
		} else {
			less = matched[i].Key < matched[j].Key
		}
		if s.Desc {
			return !less
		}
		return less
	})

	if w.Skip >= len(matched) {
		return []models.Document{}, nil
	}
	end := min(w.Skip+w.Limit, len(matched))
	out := make([]models.Document, 0, end-w.Skip)
	for _, d := range matched[w.Skip:end] {
		out = append(out, cloneDoc(d))
	}
	return out, nil
}

func (m *MemStore) matchLocked(q models.Query) ([]models.Document, error) {
	paths := make([]offsetpath.Path, 0, len(q.Populated))
	for _, raw := range q.Populated {
		p, err := offsetpath.Parse(raw)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	var out []models.Document
	for _, d := range m.docs {
		if q.IDFrom != "" && d.ID < q.IDFrom {
			continue
		}
		if q.IDTo != "" && d.ID >= q.IDTo {
			continue
		}
		if q.AfterKey > 0 && d.Key <= q.AfterKey {
			continue
		}
		ok := true
		for _, p := range paths {
			if _, found := offsetpath.Lookup(d.Body, p); !found {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Upsert mirrors docstore.DB.Upsert: existing documents keep their key.
func (m *MemStore) Upsert(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertHook != nil {
		if err := m.UpsertHook(doc); err != nil {
			return err
		}
	}
	if doc.ID == "" {
		return fmt.Errorf("memstore: %w: empty id", apperr.ErrInvalidArgument)
	}
	m.upserts++
	if old, ok := m.docs[doc.ID]; ok {
		doc.Key = old.Key
	} else {
		m.nextKey++
		doc.Key = m.nextKey
	}
	m.docs[doc.ID] = cloneDoc(doc)
	return nil
}

// Delete removes id.
func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// Get returns a copy of id.
func (m *MemStore) Get(_ context.Context, id string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return models.Document{}, apperr.ErrNotFound
	}
	return cloneDoc(d), nil
}

// CountPopulated mirrors docstore.DB.CountPopulated.
func (m *MemStore) CountPopulated(_ context.Context, q models.Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched, err := m.matchLocked(q)
	return len(matched), err
}

// Len returns the number of documents.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Upserts returns how many writes succeeded.
func (m *MemStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// FindCalls returns how many windows were requested.
func (m *MemStore) FindCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls
}

// Snapshot returns copies of all documents keyed by id.
func (m *MemStore) Snapshot() map[string]models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Document, len(m.docs))
	for id, d := range m.docs {
		out[id] = cloneDoc(d)
	}
	return out
}

func cloneDoc(d models.Document) models.Document {
	out := d
	if d.Body != nil {
		out.Body = cloneValue(d.Body).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}
