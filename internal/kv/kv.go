// Package kv defines the key-value storage contract shared by the cache and the
// history store, plus the in-memory, DynamoDB and Valkey backends behind it.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrUnknownTable is returned when a backend has no schema for the table.
	ErrUnknownTable = errors.New("kv: unknown table")
	// ErrUnknownIndex is returned when a query names an index the table lacks.
	ErrUnknownIndex = errors.New("kv: unknown index")
	// ErrMissingKey is returned when an item or key lacks a key attribute.
	ErrMissingKey = errors.New("kv: missing key attribute")
)

// Item is a stored record: attribute name to JSON-compatible value.
type Item map[string]any

// Key identifies an item (or a resume position) by its key attributes.
type Key map[string]any

// Index describes a secondary index ordered by SortKey within PartitionKey.
type Index struct {
	PartitionKey string
	SortKey      string
}

// Schema describes the key layout of a table. Backends that emulate tables
// (memory, valkey) need it; DynamoDB owns the layout server-side.
type Schema struct {
	Table        string
	PartitionKey string
	SortKey      string
	// TTLAttribute names a numeric epoch-seconds attribute after which the
	// backend may drop the item. Readers must not rely on the drop happening.
	TTLAttribute string
	Indexes      map[string]Index
}

// QueryInput selects a page of items from a secondary index.
type QueryInput struct {
	Table          string
	Index          string
	PartitionKey   string
	PartitionValue string
	Limit          int
	Ascending      bool
	// ExclusiveStartKey resumes strictly after the position it encodes.
	ExclusiveStartKey Key
}

// QueryOutput is one page of a query. LastEvaluatedKey is nil when the
// backend reports no further items.
type QueryOutput struct {
	Items            []Item
	LastEvaluatedKey Key
}

// Store is the storage backend consumed by the cache and history layers.
type Store interface {
	Get(ctx context.Context, table string, key Key) (Item, bool, error)
	Put(ctx context.Context, table string, item Item) error
	Query(ctx context.Context, in QueryInput) (QueryOutput, error)
	Close(ctx context.Context) error
}

// ItemFrom flattens a JSON-tagged value into an Item.
func ItemFrom(v any) (Item, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("kv: encode item: %w", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("kv: encode item: %w", err)
	}
	if item == nil {
		return nil, errors.New("kv: encode item: value is not an object")
	}
	return item, nil
}

// Decode copies the item into out, matching attributes by json tag.
func (i Item) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("kv: decode item: %w", err)
	}
	if err := dec.Decode(map[string]any(i)); err != nil {
		return fmt.Errorf("kv: decode item: %w", err)
	}
	return nil
}

// String returns the attribute rendered as a key string.
func (i Item) String(attr string) (string, bool) {
	return keyString(i[attr])
}

// String returns the attribute rendered as a key string.
func (k Key) String(attr string) (string, bool) {
	return keyString(k[attr])
}

// encodeKey renders the primary key of item as a single string.
func (s Schema) encodeKey(item map[string]any) (string, error) {
	attrs := s.keyAttrs()
	parts := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		v, ok := keyString(item[attr])
		if !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrMissingKey, s.Table, attr)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, keySeparator), nil
}

func (s Schema) keyAttrs() []string {
	if s.SortKey == "" {
		return []string{s.PartitionKey}
	}
	return []string{s.PartitionKey, s.SortKey}
}

func (s Schema) index(name string) (Index, error) {
	idx, ok := s.Indexes[name]
	if !ok {
		return Index{}, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, s.Table, name)
	}
	return idx, nil
}

// lastKey builds the resume key for item within idx: index keys plus table keys.
func (s Schema) lastKey(idx Index, item Item) Key {
	key := Key{}
	for _, attr := range append([]string{idx.PartitionKey, idx.SortKey}, s.keyAttrs()...) {
		if v, ok := item[attr]; ok {
			key[attr] = v
		}
	}
	return key
}

const keySeparator = "\x00"

func keyString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

func cloneItem(in map[string]any) Item {
	if in == nil {
		return nil
	}
	out := make(Item, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(cloneItem(val))
	case Item:
		return cloneItem(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	default:
		return val
	}
}
