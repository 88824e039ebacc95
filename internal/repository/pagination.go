package repository

// Paged flag listings walk a stable (created_at, id) order, so a page number
// keeps addressing the same rows until new flags are submitted.
const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

type PageRequest struct {
	Page     int
	PageSize int
}

// Normalized starts at page 1 and keeps the size within (0, MaxPageSize].
func (p PageRequest) Normalized() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows before the page. p must be normalized.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type PageResult[T any] struct {
	Items      []T
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

func newPageResult[T any](items []T, req PageRequest, total int64) PageResult[T] {
	pages := 0
	if total > 0 {
		size := int64(req.PageSize)
		pages = int((total + size - 1) / size)
	}
	return PageResult[T]{Items: items, Page: req.Page, PageSize: req.PageSize, Total: total, TotalPages: pages}
}

func (r PageResult[T]) HasNext() bool {
	return r.Page < r.TotalPages
}
