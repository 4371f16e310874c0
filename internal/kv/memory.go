package kv

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type memoryStore struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	tables  map[string]map[string]Item
}

// NewMemory returns an in-process Store holding one table per schema. Items
// are deep-copied on the way in and out.
func NewMemory(schemas ...Schema) Store {
	s := &memoryStore{
		schemas: make(map[string]Schema, len(schemas)),
		tables:  make(map[string]map[string]Item, len(schemas)),
	}
	for _, schema := range schemas {
		s.schemas[schema.Table] = schema
		s.tables[schema.Table] = make(map[string]Item)
	}
	return s
}

func (s *memoryStore) schema(table string) (Schema, error) {
	schema, ok := s.schemas[table]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return schema, nil
}

func (s *memoryStore) Get(ctx context.Context, table string, key Key) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	schema, err := s.schema(table)
	if err != nil {
		return nil, false, err
	}
	encoded, err := schema.encodeKey(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.tables[table][encoded]
	if !ok {
		return nil, false, nil
	}
	return cloneItem(item), true, nil
}

func (s *memoryStore) Put(ctx context.Context, table string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	encoded, err := schema.encodeKey(item)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table][encoded] = cloneItem(item)
	return nil
}

type memoryRow struct {
	pos  position
	item Item
}

func (s *memoryStore) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return QueryOutput{}, err
	}
	schema, err := s.schema(in.Table)
	if err != nil {
		return QueryOutput{}, err
	}
	idx, err := schema.index(in.Index)
	if err != nil {
		return QueryOutput{}, err
	}
	start, resume, err := schema.startPosition(idx, in.ExclusiveStartKey)
	if err != nil {
		return QueryOutput{}, err
	}

	s.mu.RLock()
	rows := make([]memoryRow, 0)
	for encoded, item := range s.tables[in.Table] {
		if pv, ok := item.String(idx.PartitionKey); !ok || pv != in.PartitionValue {
			continue
		}
		sortVal, ok := item.String(idx.SortKey)
		if !ok {
			continue
		}
		pos := position{sort: sortVal, key: encoded}
		if resume && !start.precedes(pos, in.Ascending) {
			continue
		}
		rows = append(rows, memoryRow{pos: pos, item: cloneItem(item)})
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, func(a, b memoryRow) int {
		if in.Ascending {
			return comparePositions(a.pos, b.pos)
		}
		return comparePositions(b.pos, a.pos)
	})

	out := QueryOutput{Items: make([]Item, 0, len(rows))}
	if in.Limit > 0 && len(rows) > in.Limit {
		rows = rows[:in.Limit]
		out.LastEvaluatedKey = schema.lastKey(idx, rows[len(rows)-1].item)
	}
	for _, row := range rows {
		out.Items = append(out.Items, row.item)
	}
	return out, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
