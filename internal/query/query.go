// Package query turns raw request parameters into a backend-neutral read query.
//
// A Query is a pure description: conditions, ordering, projection, name search,
// a geo-radius constraint and optional pagination. Storage implementations
// compile it into their own query language and perform the actual fetch.
package query

import (
	"errors"
	"math"
)

// ErrMalformedQuery reports unparsable pagination, geo, or filter parameters.
var ErrMalformedQuery = errors.New("query: malformed query")

// Operator identifies the comparison applied by a Condition.
type Operator string

const (
	OpEq  Operator = "eq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// Condition is a single field comparison. Value is kept as the raw string and
// converted by the storage layer according to the field's type.
type Condition struct {
	Field string
	Op    Operator
	Value string
}

// SortKey orders results by Field.
type SortKey struct {
	Field string
	Desc  bool
}

// Geo selects documents whose location lies within Radius of the center.
// Radius uses the same unit as the stored coordinates.
type Geo struct {
	Lon    float64
	Lat    float64
	Radius float64
}

// Pagination describes the requested page window.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Offset returns the number of rows skipped before the page starts.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Query is the refined read description produced by Features.
type Query struct {
	Conditions []Condition
	Sort       []SortKey
	Fields     []string
	Search     string
	Geo        *Geo
	Pagination *Pagination
}

// With returns a copy of q with every condition on field replaced by an
// equality condition. It is used to force server-side constraints over
// whatever the client supplied.
func (q Query) With(field, value string) Query {
	out := q
	out.Conditions = make([]Condition, 0, len(q.Conditions)+1)
	for _, c := range q.Conditions {
		if c.Field == field {
			continue
		}
		out.Conditions = append(out.Conditions, c)
	}
	out.Conditions = append(out.Conditions, Condition{Field: field, Op: OpEq, Value: value})
	return out
}

// Page is a fetched result set together with its pagination metadata.
type Page[T any] struct {
	Items     []T
	Total     int
	Page      int
	Pages     int
	Paginated bool
}

// NewPage assembles a Page from fetched items, the total match count and the
// pagination that produced them.
func NewPage[T any](items []T, total int, p *Pagination) Page[T] {
	page := Page[T]{Items: items, Total: total}
	if p == nil {
		return page
	}
	page.Paginated = true
	page.Page = p.Page
	if p.Limit > 0 {
		page.Pages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	return page
}

// MapPage converts the items of a page while keeping its metadata.
func MapPage[T, U any](in Page[T], fn func(T) U) Page[U] {
	out := Page[U]{Total: in.Total, Page: in.Page, Pages: in.Pages, Paginated: in.Paginated}
	out.Items = make([]U, 0, len(in.Items))
	for _, item := range in.Items {
		out.Items = append(out.Items, fn(item))
	}
	return out
}
