package domain

// OrderField names a mention field that listings can be ordered by.
type OrderField string

const (
	OrderCreatedAt OrderField = "created_at"
	OrderSource    OrderField = "source"
	OrderTarget    OrderField = "target"
)

// Order is a listing sort: a field plus a direction.
type Order struct {
	Field OrderField
	Desc  bool
}

// DefaultOrder is newest-first, matching the write order of the repository.
var DefaultOrder = Order{Field: OrderCreatedAt, Desc: true}

// Filter restricts a listing. Zero-valued fields do not filter.
type Filter struct {
	// SourceHost matches mentions whose source URL has this host.
	SourceHost string

	// Source and Target match exactly.
	Source string
	Target string

	// Verified matches the verification flag when non-nil.
	Verified *bool
}

// Pagination selects between bounded (page + limit) and unbounded retrieval.
// Construct it with AllMentions or PageOf so the two modes stay distinct;
// the zero value behaves like AllMentions.
type Pagination struct {
	bounded bool
	page    int
	limit   int
}

// AllMentions retrieves every matching mention in a single page.
func AllMentions() Pagination {
	return Pagination{}
}

// PageOf retrieves the given 1-based page of at most limit mentions.
func PageOf(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	return Pagination{bounded: true, page: page, limit: limit}
}

// Unbounded reports whether every matching mention should be returned.
func (p Pagination) Unbounded() bool { return !p.bounded }

// Page returns the requested 1-based page. Meaningless when unbounded.
func (p Pagination) Page() int { return p.page }

// Limit returns the page size. Meaningless when unbounded.
func (p Pagination) Limit() int { return p.limit }

// ListOptions are the inputs to a mention listing.
type ListOptions struct {
	Filter     Filter
	Order      Order
	Pagination Pagination
}

// PageMeta describes where a page sits within the full result set.
type PageMeta struct {
	// Page is the current 1-based page.
	Page int

	// Pages is the total number of pages for the current filter.
	Pages int

	// Limit is the page size. In unbounded mode it equals Total.
	Limit int

	// Total is the number of matching mentions across all pages.
	Total int

	// Prev and Next are the adjacent page numbers, nil at the boundaries.
	Prev *int
	Next *int
}

// Page is one page of a mention listing.
type Page struct {
	Data []Mention
	Meta PageMeta
}

// NewPageMeta computes pagination metadata for a result set of total rows.
func NewPageMeta(total int, p Pagination) PageMeta {
	if p.Unbounded() {
		return PageMeta{Page: 1, Pages: 1, Limit: total, Total: total}
	}

	meta := PageMeta{
		Page:  p.Page(),
		Pages: (total + p.Limit() - 1) / p.Limit(),
		Limit: p.Limit(),
		Total: total,
	}
	if meta.Page > 1 {
		prev := meta.Page - 1
		meta.Prev = &prev
	}
	if meta.Page < meta.Pages {
		next := meta.Page + 1
		meta.Next = &next
	}
	return meta
}
