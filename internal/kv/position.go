package kv

import (
	"fmt"
	"strings"
)

// position is a point in an index ordering: sort value, then table key.
type position struct {
	sort string
	key  string
	// partial positions carry no table key and sit past every row that
	// shares their sort value.
	partial bool
}

// startPosition converts an exclusive start key into a position. A start key
// without the table key attributes still resumes, but skips every row that
// shares its sort value.
func (s Schema) startPosition(idx Index, start Key) (position, bool, error) {
	if len(start) == 0 {
		return position{}, false, nil
	}
	sortVal, ok := start.String(idx.SortKey)
	if !ok {
		return position{}, false, fmt.Errorf("%w: exclusive start key lacks %s", ErrMissingKey, idx.SortKey)
	}
	key, err := s.encodeKey(start)
	if err != nil {
		return position{sort: sortVal, partial: true}, true, nil
	}
	return position{sort: sortVal, key: key}, true, nil
}

// precedes reports whether row lies strictly after p in the scan direction.
func (p position) precedes(row position, ascending bool) bool {
	c := strings.Compare(row.sort, p.sort)
	if c == 0 && !p.partial {
		c = strings.Compare(row.key, p.key)
	}
	if ascending {
		return c > 0
	}
	return c < 0
}

func comparePositions(a, b position) int {
	if c := strings.Compare(a.sort, b.sort); c != 0 {
		return c
	}
	return strings.Compare(a.key, b.key)
}
