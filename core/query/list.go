package query

import (
	"sort"

	"github.com/kilianp07/griddispatch/core/model"
)

const (
	// DefaultPageSize applies when the caller leaves the size unset.
	DefaultPageSize = 50
	// MaxPageSize caps caller-supplied sizes.
	MaxPageSize = 1000
)

// PageRequest selects one page of a listing. A zero Size means
// DefaultPageSize; sizes above MaxPageSize are clamped. An empty
// Cursor starts from the beginning.
type PageRequest struct {
	Size   int
	Cursor string
}

// Page is one page of results. NextCursor is empty on the last page.
// Total counts every match of the filter, not just this page.
type Page struct {
	Dispatches []model.Dispatch
	NextCursor string
	Total      int
}

// List filters, sorts and paginates a store snapshot. The snapshot is
// typically Store.Snapshot output, already isolated from concurrent
// writers, so one List call sees one consistent dataset and a page can
// never contain duplicates or holes of its own making.
func List(snapshot []model.Dispatch, filter *Filter, opts SortOptions, page PageRequest) (Page, error) {
	if err := filter.Validate(); err != nil {
		return Page{}, err
	}
	key, descending := opts.normalize()

	matched := make([]*model.Dispatch, 0, len(snapshot))
	for i := range snapshot {
		if filter.Matches(&snapshot[i]) {
			matched = append(matched, &snapshot[i])
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return less(matched[i], matched[j], key, descending)
	})

	start := 0
	if page.Cursor != "" {
		p, err := decodeCursor(page.Cursor, key, descending)
		if err != nil {
			return Page{}, err
		}
		start = sort.Search(len(matched), func(i int) bool {
			return afterCursor(p, matched[i], key, descending)
		})
	}

	size := page.Size
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}

	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	out := Page{
		Dispatches: make([]model.Dispatch, 0, end-start),
		Total:      len(matched),
	}
	for _, d := range matched[start:end] {
		out.Dispatches = append(out.Dispatches, *d)
	}
	if end < len(matched) {
		out.NextCursor = encodeCursor(matched[end-1], key, descending)
	}
	return out, nil
}
