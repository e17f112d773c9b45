package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Access path names. Baked into cursors so a continuation is only honored by
// the filter shape that produced it.
const (
	pathAll           = "all"
	pathCompound      = "compound"
	pathCategory      = "category"
	pathCountryMerge  = "country_merge"
	pathCategoryMerge = "category_merge"
)

// ErrBadCursor is returned when a continuation cursor is malformed or was
// produced by a different filter. Offset-style cursors are deliberately
// unsupported; a cursor always carries resumable per-key scan positions.
var ErrBadCursor = errors.New("query: invalid cursor")

type cursorState struct {
	Path  string           `json:"p"`
	After map[string]int64 `json:"a"`
}

func encodeCursor(path string, sources []*source) string {
	st := cursorState{Path: path, After: make(map[string]int64, len(sources))}
	for _, src := range sources {
		st.After[src.key] = src.after
	}
	raw, _ := json.Marshal(st)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor parses an opaque cursor and checks it against the planned path
// and key set. An empty cursor means start from the beginning.
func decodeCursor(cursor, path string, sources []*source) (cursorState, error) {
	st := cursorState{After: map[string]int64{}}
	if cursor == "" {
		return st, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if st.Path != path {
		return st, fmt.Errorf("%w: cursor for path %q, filter plans %q", ErrBadCursor, st.Path, path)
	}
	if len(st.After) != len(sources) {
		return st, fmt.Errorf("%w: key count mismatch", ErrBadCursor)
	}
	for _, src := range sources {
		if _, ok := st.After[src.key]; !ok {
			return st, fmt.Errorf("%w: missing key %q", ErrBadCursor, src.key)
		}
	}
	if st.After == nil {
		st.After = map[string]int64{}
	}
	return st, nil
}
