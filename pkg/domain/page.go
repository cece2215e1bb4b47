package domain

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxPageNumber keeps (Number-1)*Size well inside an int.
	MaxPageNumber = 1 << 20
)

type PageReq struct {
	Number int
	Size   int
}

func NewPageReq(number, size int) PageReq {
	if number <= 0 {
		number = 1
	}
	if number > MaxPageNumber {
		number = MaxPageNumber
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return PageReq{Number: number, Size: size}
}
func (p PageReq) Offset() int { return (p.Number - 1) * p.Size }

// Limit asks for one extra row so a following page can be detected.
func (p PageReq) Limit() int { return p.Size + 1 }

type Page[T any] struct {
	Items           []T  `json:"items"`
	PageNumber      int  `json:"pageNumber"`
	PageSize        int  `json:"pageSize"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	HasNextPage     bool `json:"hasNextPage"`
}

// NewPage trims the sentinel row fetched by Limit.
func NewPage[T any](rows []T, req PageReq) Page[T] {
	hasNext := len(rows) > req.Size
	if hasNext {
		rows = rows[:req.Size]
	}
	if rows == nil {
		rows = []T{}
	}
	return Page[T]{
		Items:           rows,
		PageNumber:      req.Number,
		PageSize:        req.Size,
		HasPreviousPage: req.Number > 1,
		HasNextPage:     hasNext,
	}
}

func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	items := make([]U, len(p.Items))
	for i, it := range p.Items {
		items[i] = fn(it)
	}
	return Page[U]{
		Items:           items,
		PageNumber:      p.PageNumber,
		PageSize:        p.PageSize,
		HasPreviousPage: p.HasPreviousPage,
		HasNextPage:     p.HasNextPage,
	}
}
