package projection

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/searchindex"
)

// DefaultIndexName is the index orders are projected into.
const DefaultIndexName = "orders"

// CreateIndexMapping creates the Bleve index mapping for order documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	docMapping.AddFieldMappingsAt(domain.DocFieldID, keywordField())
	docMapping.AddFieldMappingsAt(domain.DocFieldCustomerID, keywordField())
	docMapping.AddFieldMappingsAt(domain.DocFieldStatus, keywordField())
	docMapping.AddFieldMappingsAt(domain.DocFieldTotal, bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt(domain.DocFieldItemCount, bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt(domain.DocFieldCreatedAt, bleve.NewDateTimeFieldMapping())
	docMapping.AddFieldMappingsAt(domain.DocFieldUpdatedAt, bleve.NewDateTimeFieldMapping())

	// Items - array of objects, each field keeps its own type
	itemMapping := bleve.NewDocumentMapping()
	itemMapping.Dynamic = false
	itemMapping.AddFieldMappingsAt(domain.DocFieldItemID, keywordField())
	itemMapping.AddFieldMappingsAt(domain.DocFieldItemProductID, keywordField())

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	nameField.IncludeTermVectors = true
	itemMapping.AddFieldMappingsAt(domain.DocFieldItemProductName, nameField)

	itemMapping.AddFieldMappingsAt(domain.DocFieldItemPrice, bleve.NewNumericFieldMapping())
	itemMapping.AddFieldMappingsAt(domain.DocFieldItemQuantity, bleve.NewNumericFieldMapping())
	itemMapping.AddFieldMappingsAt(domain.DocFieldItemSubtotal, bleve.NewNumericFieldMapping())
	docMapping.AddSubDocumentMapping(domain.DocFieldItems, itemMapping)

	// Source - stored but not indexed, returned as the hit payload
	sourceField := bleve.NewTextFieldMapping()
	sourceField.Index = false
	sourceField.Store = true
	sourceField.IncludeInAll = false
	sourceField.DocValues = false
	docMapping.AddFieldMappingsAt(searchindex.SourceField, sourceField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// IndexMappings returns the mapping registry for a search index client
// serving the given order index name.
func IndexMappings(name string) map[string]searchindex.MappingFunc {
	return map[string]searchindex.MappingFunc{name: CreateIndexMapping}
}

func keywordField() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = keyword.Name
	f.Store = false
	return f
}
