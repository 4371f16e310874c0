package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/l0p7/planetcast/internal/kv"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("history: invalid cursor")

// Cursor is the sort position of the last record on a page. PlanetID breaks
// ties between records sharing a timestamp; without it the next page starts
// after every record at Timestamp.
type Cursor struct {
	Timestamp string `json:"timestamp"`
	PlanetID  string `json:"planetId,omitempty"`
}

// EncodeCursor renders c as URL-escaped JSON.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(c)
	return url.PathEscape(string(raw))
}

// UnmarshalJSON accepts planetId as either a JSON string or a number.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp string          `json:"timestamp"`
		PlanetID  json.RawMessage `json:"planetId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Timestamp = raw.Timestamp
	c.PlanetID = ""
	id := bytes.TrimSpace(raw.PlanetID)
	switch {
	case len(id) == 0 || bytes.Equal(id, []byte("null")):
	case id[0] == '"':
		if err := json.Unmarshal(id, &c.PlanetID); err != nil {
			return err
		}
	default:
		var n json.Number
		if err := json.Unmarshal(id, &n); err != nil {
			return fmt.Errorf("planetId must be a string or number: %w", err)
		}
		c.PlanetID = n.String()
	}
	return nil
}

// DecodeCursor parses a cursor produced by EncodeCursor. The JSON is
// trusted as-is apart from requiring a timestamp.
func DecodeCursor(s string) (*Cursor, error) {
	unescaped, err := url.PathUnescape(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal([]byte(unescaped), &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if c.Timestamp == "" {
		return nil, fmt.Errorf("%w: timestamp missing", ErrInvalidCursor)
	}
	return &c, nil
}

// startKey merges the cursor with the partition tag into an exclusive start key.
func (c Cursor) startKey() kv.Key {
	key := kv.Key{attrTag: PartitionTag, attrTimestamp: c.Timestamp}
	if c.PlanetID != "" {
		key[attrPlanetID] = c.PlanetID
	}
	return key
}

func cursorFromKey(key kv.Key) *Cursor {
	ts, _ := key.String(attrTimestamp)
	id, _ := key.String(attrPlanetID)
	return &Cursor{Timestamp: ts, PlanetID: id}
}
