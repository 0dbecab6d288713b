package domain

import "time"

// SearchDocument is the denormalized shape of an Order stored in the search
// index under document id == order UUID.
type SearchDocument struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customer_id"`
	Status     string         `json:"status"`
	Total      float64        `json:"total"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ItemCount  int            `json:"item_count"`
	Items      []DocumentItem `json:"items"`
}

// DocumentItem is one nested order line inside a SearchDocument.
type DocumentItem struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Subtotal    float64 `json:"subtotal"`
}

// Index field names shared by the mapping and the query builder.
const (
	DocFieldID              = "id"
	DocFieldCustomerID      = "customer_id"
	DocFieldStatus          = "status"
	DocFieldTotal           = "total"
	DocFieldCreatedAt       = "created_at"
	DocFieldUpdatedAt       = "updated_at"
	DocFieldItemCount       = "item_count"
	DocFieldItems           = "items"
	DocFieldItemID          = "id"
	DocFieldItemProductID   = "product_id"
	DocFieldItemProductName = "product_name"
	DocFieldItemPrice       = "price"
	DocFieldItemQuantity    = "quantity"
	DocFieldItemSubtotal    = "subtotal"

	// DocPathItemProductName is the full path of the analyzed product name.
	DocPathItemProductName = DocFieldItems + "." + DocFieldItemProductName
	// DocPathItemProductID is the full path of the nested product id.
	DocPathItemProductID = DocFieldItems + "." + DocFieldItemProductID
)

// NewSearchDocument validates o and maps it to its index representation.
// Timestamps are normalized to UTC.
func NewSearchDocument(o Order) (SearchDocument, error) {
	if err := o.Validate(); err != nil {
		return SearchDocument{}, err
	}
	doc := SearchDocument{
		ID:         o.UUID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		Total:      o.Total,
		CreatedAt:  o.CreatedAt.UTC(),
		UpdatedAt:  o.UpdatedAt.UTC(),
		ItemCount:  len(o.Items),
		Items:      make([]DocumentItem, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, DocumentItem{
			ID:          item.UUID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}
	return doc, nil
}

// Order maps the document back to the aggregate shape.
func (d SearchDocument) Order() Order {
	o := Order{
		UUID:       d.ID,
		CustomerID: d.CustomerID,
		Status:     Status(d.Status),
		Total:      d.Total,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
		Items:      make([]OrderItem, 0, len(d.Items)),
	}
	for _, item := range d.Items {
		o.Items = append(o.Items, OrderItem{
			UUID:        item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}
	return o
}
