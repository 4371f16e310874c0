package kv

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

// valkeyStore keeps each item as a JSON string under <table>:item:<key> and
// each index partition as a sorted set whose members sort lexicographically as
// <sort value>\x00<table key>.
type valkeyStore struct {
	client  valkey.Client
	schemas map[string]Schema
}

// NewValkey dials the server and pings it before returning.
func NewValkey(cfg ValkeyConfig, schemas ...Schema) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("kv: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("kv: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("kv: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("kv: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("kv: valkey ping: %w", err)
	}

	s := &valkeyStore{client: client, schemas: make(map[string]Schema, len(schemas))}
	for _, schema := range schemas {
		s.schemas[schema.Table] = schema
	}
	return s, nil
}

func (s *valkeyStore) schema(table string) (Schema, error) {
	schema, ok := s.schemas[table]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return schema, nil
}

func itemKey(table, encoded string) string {
	return table + ":item:" + encoded
}

func indexKey(table, index, partition string) string {
	return table + ":idx:" + index + ":" + partition
}

func (s *valkeyStore) Get(ctx context.Context, table string, key Key) (Item, bool, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, false, err
	}
	encoded, err := schema.encodeKey(key)
	if err != nil {
		return nil, false, err
	}
	resp := s.client.Do(ctx, s.client.B().Get().Key(itemKey(table, encoded)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("kv: valkey get bytes: %w", err)
	}
	var item Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, false, fmt.Errorf("kv: valkey unmarshal: %w", err)
	}
	return item, true, nil
}

func (s *valkeyStore) Put(ctx context.Context, table string, item Item) error {
	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	encoded, err := schema.encodeKey(item)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("kv: valkey marshal: %w", err)
	}

	key := itemKey(table, encoded)
	set := s.client.B().Set().Key(key).Value(string(payload)).Build()
	if ttl, ok := s.expiry(schema, item); ok {
		set = s.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	}
	cmds := valkey.Commands{set}
	// Index members are never removed; rewriting an item under a new sort
	// value leaves the old member behind. History items are append-only.
	for name, idx := range schema.Indexes {
		pv, ok := item.String(idx.PartitionKey)
		if !ok {
			continue
		}
		sortVal, ok := item.String(idx.SortKey)
		if !ok {
			continue
		}
		member := sortVal + keySeparator + encoded
		cmds = append(cmds, s.client.B().Zadd().Key(indexKey(table, name, pv)).ScoreMember().ScoreMember(0, member).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("kv: valkey put: %w", err)
		}
	}
	return nil
}

// expiry maps the schema TTL attribute onto key expiry.
func (s *valkeyStore) expiry(schema Schema, item Item) (time.Duration, bool) {
	if schema.TTLAttribute == "" {
		return 0, false
	}
	epoch, ok := item[schema.TTLAttribute].(float64)
	if !ok {
		if n, isInt := item[schema.TTLAttribute].(int64); isInt {
			epoch, ok = float64(n), true
		}
	}
	if !ok {
		return 0, false
	}
	ttl := time.Until(time.Unix(int64(epoch), 0))
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

func (s *valkeyStore) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
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

	zkey := indexKey(in.Table, in.Index, in.PartitionValue)
	var count int64
	if in.Limit > 0 {
		count = int64(in.Limit) + 1
	}

	var cmd valkey.Completed
	if in.Ascending {
		lower := "-"
		if resume {
			lower = lexLowerBound(start)
		}
		b := s.client.B().Zrangebylex().Key(zkey).Min(lower).Max("+")
		cmd = b.Build()
		if count > 0 {
			cmd = b.Limit(0, count).Build()
		}
	} else {
		upper := "+"
		if resume {
			upper = lexUpperBound(start)
		}
		b := s.client.B().Zrevrangebylex().Key(zkey).Max(upper).Min("-")
		cmd = b.Build()
		if count > 0 {
			cmd = b.Limit(0, count).Build()
		}
	}
	members, err := s.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return QueryOutput{}, fmt.Errorf("kv: valkey range: %w", err)
	}

	more := in.Limit > 0 && len(members) > in.Limit
	if more {
		members = members[:in.Limit]
	}
	out := QueryOutput{Items: make([]Item, 0, len(members))}
	if len(members) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		_, encoded, found := strings.Cut(member, keySeparator)
		if !found {
			return QueryOutput{}, fmt.Errorf("kv: valkey malformed index member %q", member)
		}
		keys = append(keys, itemKey(in.Table, encoded))
	}
	values, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return QueryOutput{}, fmt.Errorf("kv: valkey mget: %w", err)
	}
	for _, value := range values {
		if value.IsNil() {
			continue
		}
		payload, err := value.ToString()
		if err != nil {
			return QueryOutput{}, fmt.Errorf("kv: valkey mget value: %w", err)
		}
		var item Item
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return QueryOutput{}, fmt.Errorf("kv: valkey unmarshal: %w", err)
		}
		out.Items = append(out.Items, item)
	}
	if more && len(out.Items) > 0 {
		out.LastEvaluatedKey = schema.lastKey(idx, out.Items[len(out.Items)-1])
	}
	return out, nil
}

// lexLowerBound is the exclusive ZRANGEBYLEX minimum for resuming after p.
func lexLowerBound(p position) string {
	if p.partial {
		return "[" + p.sort + "\x01"
	}
	return "(" + p.sort + keySeparator + p.key
}

// lexUpperBound is the exclusive ZREVRANGEBYLEX maximum for resuming after p.
func lexUpperBound(p position) string {
	if p.partial {
		return "(" + p.sort + keySeparator
	}
	return "(" + p.sort + keySeparator + p.key
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
