package keypager

import (
	"fmt"
	"slices"
)

// PageRequest describes one page read: normalized orderings, the resolved
// limit (NoLimit for unlimited), the decoded cursor and the direction the
// page is read in.
type PageRequest struct {
	Sort      Orderings
	Limit     int
	Cursor    *Cursor
	Direction PageDirection
}

// HasCursor reports whether the request continues from a cursor.
func (r PageRequest) HasCursor() bool {
	return !r.Cursor.IsEmpty()
}

// EffectiveSort returns the orderings the window must be fetched with.
func (r PageRequest) EffectiveSort() Orderings {
	return r.Sort.Effective(r.Direction)
}

// DatasetLimit returns the number of rows to fetch: Limit+1, or NoLimit.
func (r PageRequest) DatasetLimit() int {
	if r.Limit == NoLimit {
		return NoLimit
	}

	return r.Limit + 1
}

// PageResult is a generic paginated result container.
type PageResult[T any] struct {
	// Items result elements in the natural order of the ordering.
	Items []T `json:"docs"`
	// HasNext is true when rows exist after the last item.
	HasNext bool `json:"hasNext"`
	// HasPrevious is true when rows exist before the first item.
	HasPrevious bool `json:"hasPrevious"`
	// NextCursor token for the next page, empty unless HasNext.
	NextCursor string `json:"next,omitempty"`
	// PreviousCursor token for the previous page, empty unless HasPrevious.
	PreviousCursor string `json:"previous,omitempty"`
	// TotalCount of matching rows, when it was counted.
	TotalCount *int64 `json:"totalDocs,omitempty"`
}

// BuildPage turns a fetched window into a page.
//
// rows must be ordered by req.EffectiveSort() and hold at most
// req.DatasetLimit() rows. The extra row, if present, only proves that more
// rows exist and is dropped. Backward windows are read nearest-first, so
// they are trimmed first and then reversed back into the natural order.
//
// Suppose limit = 2 and rows = [a, b, c]:
//
//   - Forward → items [a, b], hasNext, next cursor from b.
//   - Backward → items [b, a], hasPrevious, previous cursor from b.
func BuildPage[T any](rows []T, req PageRequest, extractor Extractor[T], totalCount *int64) (*PageResult[T], error) {
	if len(req.Sort) == 0 {
		return nil, fmt.Errorf("cannot build page: %w: empty ordering list", ErrSortTieBreakerMissing)
	}

	if req.Limit < 0 {
		return nil, fmt.Errorf("cannot build page: negative limit %d", req.Limit)
	}

	items := rows
	hasMore := false
	if req.Limit != NoLimit && len(items) > req.Limit {
		hasMore = true
		items = items[:req.Limit]
	}

	items = slices.Clone(items)
	if items == nil {
		items = make([]T, 0)
	}

	if req.Direction == Backward {
		slices.Reverse(items)
	}

	ret := &PageResult[T]{
		Items:      items,
		TotalCount: totalCount,
	}

	if req.Direction == Backward {
		ret.HasPrevious, ret.HasNext = hasMore, req.HasCursor()
	} else {
		ret.HasNext, ret.HasPrevious = hasMore, req.HasCursor()
	}

	if len(items) == 0 {
		return ret, nil
	}

	var err error
	if ret.HasNext {
		ret.NextCursor, err = boundaryToken(items[len(items)-1], req.Sort, extractor)
		if err != nil {
			return nil, fmt.Errorf("cannot build next page cursor: %w", err)
		}
	}

	if ret.HasPrevious {
		ret.PreviousCursor, err = boundaryToken(items[0], req.Sort, extractor)
		if err != nil {
			return nil, fmt.Errorf("cannot build previous page cursor: %w", err)
		}
	}

	return ret, nil
}

func boundaryToken[T any](item T, orderings Orderings, extractor Extractor[T]) (string, error) {
	values, err := extractor.Extract(item, orderings)
	if err != nil {
		return "", err
	}

	if len(values) != len(orderings) {
		return "", fmt.Errorf("%w: extracted %d values for %d columns", ErrCursorArityMismatch, len(values), len(orderings))
	}

	return Encode(values...), nil
}
