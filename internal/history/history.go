// Package history persists combined planet and weather records under a single
// time-ordered secondary index and pages through them with opaque cursors. It
// also stores arbitrary JSON blobs outside that index.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/l0p7/planetcast/internal/kv"
	"github.com/l0p7/planetcast/internal/metrics"
)

const (
	// IndexName is the secondary index ordering history by timestamp.
	IndexName = "HistoryByTimestampIndex"
	// PartitionTag is shared by every history record so they collate into
	// one index partition.
	PartitionTag = "HISTORY"
	// TimestampLayout is ISO-8601 with milliseconds, always rendered in UTC.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

const (
	attrPlanetID  = "planetId"
	attrTag       = "gsiType"
	attrTimestamp = "timestamp"
	attrID        = "id"
)

var (
	// ErrPutItem is returned for any failed write. The cause is logged only.
	ErrPutItem = errors.New("failed to put item")
	// ErrGetItems is returned for any failed query. The cause is logged only.
	ErrGetItems = errors.New("failed to get items")
)

// Schema describes the history table: primary key (planetId, timestamp) and
// the (gsiType, timestamp) index.
func Schema(table string) kv.Schema {
	return kv.Schema{
		Table:        table,
		PartitionKey: attrPlanetID,
		SortKey:      attrTimestamp,
		Indexes: map[string]kv.Index{
			IndexName: {PartitionKey: attrTag, SortKey: attrTimestamp},
		},
	}
}

// BlobSchema describes a table of opaque blobs keyed by id.
func BlobSchema(table string) kv.Schema {
	return kv.Schema{Table: table, PartitionKey: attrID}
}

// Blob is an opaque JSON payload stored verbatim as a compact string.
type Blob struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Data      string `json:"data"`
}

// Page is one slice of history. Next is nil on the last page.
type Page struct {
	Items []Record
	Next  *Cursor
}

type Options struct {
	Store   kv.Store
	Table   string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
	NewID   func() string
}

// Store appends to and reads from one kv table.
type Store struct {
	kv      kv.Store
	table   string
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

func New(opts Options) (*Store, error) {
	if opts.Store == nil {
		return nil, errors.New("history: store required")
	}
	if opts.Table == "" {
		return nil, errors.New("history: table required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{
		kv:      opts.Store,
		table:   opts.Table,
		logger:  logger.With(slog.String("agent", "history"), slog.String("table", opts.Table)),
		metrics: opts.Metrics,
		now:     now,
		newID:   newID,
	}, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimestampLayout)
}

// Append stamps record with the partition tag and the current time, writes
// it, and returns what was written.
func (s *Store) Append(ctx context.Context, record Record) (Record, error) {
	record.GSIType = PartitionTag
	record.Timestamp = s.timestamp()
	logger := s.logger.With(slog.String("planetId", record.PlanetID))

	item, err := kv.ItemFrom(record)
	if err == nil {
		logger.Debug("putting item", slog.String("type", "history"))
		err = s.kv.Put(ctx, s.table, item)
	}
	s.metrics.ObserveHistory(metrics.HistoryAppend, err)
	if err != nil {
		logger.Error("failed to store item", slog.Any("error", err))
		return Record{}, ErrPutItem
	}
	logger.Info("item stored")
	return record, nil
}

// AppendOpaque stores payload as a compact JSON string under a fresh id.
func (s *Store) AppendOpaque(ctx context.Context, payload json.RawMessage) (Blob, error) {
	data, err := compact(payload)
	if err != nil {
		return Blob{}, fmt.Errorf("history: blob payload: %w", err)
	}
	blob := Blob{ID: s.newID(), Timestamp: s.timestamp(), Data: data}
	logger := s.logger.With(slog.String("id", blob.ID))

	item, err := kv.ItemFrom(blob)
	if err == nil {
		logger.Debug("putting item", slog.String("type", "json"))
		err = s.kv.Put(ctx, s.table, item)
	}
	s.metrics.ObserveHistory(metrics.HistoryAppendOpaque, err)
	if err != nil {
		logger.Error("failed to store item", slog.Any("error", err))
		return Blob{}, ErrPutItem
	}
	logger.Info("item stored")
	return blob, nil
}

// Query returns up to pageSize records from the history index, newest first
// unless ascending is set, resuming strictly after cursor when one is given.
func (s *Store) Query(ctx context.Context, pageSize int, ascending bool, cursor *Cursor) (Page, error) {
	in := kv.QueryInput{
		Table:          s.table,
		Index:          IndexName,
		PartitionKey:   attrTag,
		PartitionValue: PartitionTag,
		Limit:          pageSize,
		Ascending:      ascending,
	}
	if cursor != nil {
		in.ExclusiveStartKey = cursor.startKey()
	}
	s.logger.Debug("querying history",
		slog.Int("pageSize", pageSize),
		slog.Bool("ascending", ascending),
		slog.Bool("hasCursor", cursor != nil),
	)

	page, err := s.query(ctx, in)
	s.metrics.ObserveHistory(metrics.HistoryQuery, err)
	if err != nil {
		s.logger.Error("failed to get items",
			slog.Any("error", err),
			slog.Int("pageSize", pageSize),
			slog.Bool("ascending", ascending),
		)
		return Page{}, ErrGetItems
	}
	s.logger.Info("history page retrieved", slog.Int("itemCount", len(page.Items)), slog.Bool("hasMore", page.Next != nil))
	return page, nil
}

func (s *Store) query(ctx context.Context, in kv.QueryInput) (Page, error) {
	out, err := s.kv.Query(ctx, in)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: make([]Record, 0, len(out.Items))}
	for _, item := range out.Items {
		var record Record
		if err := item.Decode(&record); err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, record)
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.Next = cursorFromKey(out.LastEvaluatedKey)
	}
	return page, nil
}

func compact(payload json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return "", err
	}
	return buf.String(), nil
}
