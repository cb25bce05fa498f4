package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Collection. It backs STORE_DRIVER=memory and tests.
type Memory struct {
	name string

	mu       sync.RWMutex
	docs     map[string]*Document
	archived map[string]bool
	now      func() time.Time
}

// NewMemory creates an empty collection.
func NewMemory(name string) *Memory {
	return &Memory{
		name:     name,
		docs:     make(map[string]*Document),
		archived: make(map[string]bool),
		now:      time.Now,
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Create(ctx context.Context, props Properties) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, opErr("create", m.name, "", err)
	}
	now := m.now().UTC()
	doc := &Document{
		ID:         uuid.NewString(),
		Collection: m.name,
		Properties: compact(props),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	return copyDoc(doc), nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, opErr("get", m.name, id, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok || m.archived[id] {
		return nil, opErr("get", m.name, id, ErrNotFound)
	}
	return copyDoc(doc), nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, opErr("query", m.name, "", err)
	}
	m.mu.RLock()
	out := make([]Document, 0, len(m.docs))
	for id, doc := range m.docs {
		if m.archived[id] || !Matches(doc.Properties, q) {
			continue
		}
		out = append(out, *copyDoc(doc))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Update(ctx context.Context, id string, props Properties) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, opErr("update", m.name, id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || m.archived[id] {
		return nil, opErr("update", m.name, id, ErrNotFound)
	}
	merged := doc.Properties.Clone()
	for k, v := range props {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	doc.Properties = merged
	doc.UpdatedAt = m.now().UTC()
	return copyDoc(doc), nil
}

func (m *Memory) Archive(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return opErr("archive", m.name, id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok || m.archived[id] {
		return opErr("archive", m.name, id, ErrNotFound)
	}
	m.archived[id] = true
	return nil
}

// Len returns the number of live documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs) - len(m.archived)
}

func compact(props Properties) Properties {
	out := make(Properties, len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func copyDoc(d *Document) *Document {
	c := *d
	c.Properties = d.Properties.Clone()
	return &c
}

// Memories hands out one Memory per collection name, so collections survive
// the workspaces that use them.
type Memories struct {
	mu   sync.Mutex
	byID map[string]*Memory
}

func NewMemories() *Memories {
	return &Memories{byID: make(map[string]*Memory)}
}

func (ms *Memories) Collection(name string) Collection {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.byID[name]
	if !ok {
		m = NewMemory(name)
		ms.byID[name] = m
	}
	return m
}
