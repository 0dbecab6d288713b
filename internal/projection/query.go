package projection

import (
	"math"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/order-index/internal/domain"
)

const (
	// DefaultPage is the first page; pages are 1-indexed.
	DefaultPage = 1
	// DefaultLimit is the page size used when none is given.
	DefaultLimit = 10
	// MaxLimit caps the page size.
	MaxLimit = 100
	// MaxOffset is the deepest result offset a page may start at. Pages past
	// it are out of range and return no data.
	MaxOffset = math.MaxInt32
)

// recencySort orders newest first; the id tiebreak keeps pages disjoint
// when timestamps collide.
var recencySort = []string{"-" + domain.DocFieldCreatedAt, "_id"}

// Pagination selects one page of results.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Normalize applies defaults and bounds.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Offset is the number of hits skipped before this page.
func (p Pagination) Offset() int {
	p = p.Normalize()
	if p.OutOfRange() {
		return MaxOffset
	}
	return (p.Page - 1) * p.Limit
}

// OutOfRange reports whether the page starts past MaxOffset. The check is
// done by division so a huge page cannot overflow.
func (p Pagination) OutOfRange() bool {
	p = p.Normalize()
	return p.Page-1 > MaxOffset/p.Limit
}

// Page is a paginated result envelope.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// NewPage builds the envelope; pages = ceil(total / limit). A page past the
// end has empty data but keeps total and pages.
func NewPage[T any](data []T, total int, p Pagination) Page[T] {
	p = p.Normalize()
	if data == nil {
		data = []T{}
	}
	return Page[T]{
		Data:  data,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: (total + p.Limit - 1) / p.Limit,
	}
}

// Filter narrows an order search. Zero values are ignored.
type Filter struct {
	CustomerID  string        `json:"customer_id,omitempty"`
	Status      domain.Status `json:"status,omitempty"`
	Text        string        `json:"text,omitempty"`
	MinTotal    *float64      `json:"min_total,omitempty"`
	MaxTotal    *float64      `json:"max_total,omitempty"`
	CreatedFrom *time.Time    `json:"created_from,omitempty"`
	CreatedTo   *time.Time    `json:"created_to,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f Filter) IsEmpty() bool {
	return f.CustomerID == "" && f.Status == "" && f.Text == "" &&
		f.MinTotal == nil && f.MaxTotal == nil &&
		f.CreatedFrom == nil && f.CreatedTo == nil
}

// BuildQuery constructs a Bleve query from the filter. Exact filters use
// term queries, free text an analyzed match across fields, and ranges are
// inclusive on the bounds actually supplied.
func (f Filter) BuildQuery() query.Query {
	if f.IsEmpty() {
		return bleve.NewMatchAllQuery()
	}

	var must []query.Query

	if f.CustomerID != "" {
		q := bleve.NewTermQuery(f.CustomerID)
		q.SetField(domain.DocFieldCustomerID)
		must = append(must, q)
	}

	if f.Status != "" {
		q := bleve.NewTermQuery(string(f.Status))
		q.SetField(domain.DocFieldStatus)
		must = append(must, q)
	}

	if f.Text != "" {
		nameQuery := bleve.NewMatchQuery(f.Text)
		nameQuery.SetField(domain.DocPathItemProductName)

		productQuery := bleve.NewMatchQuery(f.Text)
		productQuery.SetField(domain.DocPathItemProductID)

		customerQuery := bleve.NewMatchQuery(f.Text)
		customerQuery.SetField(domain.DocFieldCustomerID)

		must = append(must, bleve.NewDisjunctionQuery(nameQuery, productQuery, customerQuery))
	}

	if f.MinTotal != nil || f.MaxTotal != nil {
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(f.MinTotal, f.MaxTotal, &inclusive, &inclusive)
		q.SetField(domain.DocFieldTotal)
		must = append(must, q)
	}

	if f.CreatedFrom != nil || f.CreatedTo != nil {
		var start, end time.Time
		if f.CreatedFrom != nil {
			start = f.CreatedFrom.UTC()
		}
		if f.CreatedTo != nil {
			end = f.CreatedTo.UTC()
		}
		inclusive := true
		q := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
		q.SetField(domain.DocFieldCreatedAt)
		must = append(must, q)
	}

	if len(must) == 1 {
		return must[0]
	}
	return bleve.NewConjunctionQuery(must...)
}

// CustomerFilter selects one customer's orders.
func CustomerFilter(customerID string) Filter {
	return Filter{CustomerID: customerID}
}
