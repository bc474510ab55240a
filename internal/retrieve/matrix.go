package retrieve

import (
	"github.com/chunkstack/chunkstack/internal/query"
	"github.com/chunkstack/chunkstack/internal/store"
)

// contentTypeMatrix maps (query type, content type) to the multiplier
// applied to the content-type component of the blended score. Rows are
// query types; a procedure query strongly prefers instruction blocks,
// a definition query glossary blocks.
var contentTypeMatrix = map[query.Type]map[store.ContentType]float64{
	query.TypeProcedure: {
		store.ContentTypeInstructions:    1.50,
		store.ContentTypeExamples:        1.20,
		store.ContentTypeDefinitions:     0.80,
		store.ContentTypeTableOfContents: 0.20,
		store.ContentTypeFAQ:             0.70,
		store.ContentTypeText:            0.90,
	},
	query.TypeDefinition: {
		store.ContentTypeInstructions:    0.40,
		store.ContentTypeExamples:        0.30,
		store.ContentTypeDefinitions:     1.50,
		store.ContentTypeTableOfContents: 0.10,
		store.ContentTypeFAQ:             0.60,
		store.ContentTypeText:            0.70,
	},
	query.TypeList: {
		store.ContentTypeInstructions:    1.10,
		store.ContentTypeExamples:        0.90,
		store.ContentTypeDefinitions:     0.60,
		store.ContentTypeTableOfContents: 0.30,
		store.ContentTypeFAQ:             0.70,
		store.ContentTypeText:            0.80,
	},
	query.TypeTroubleshoot: {
		store.ContentTypeInstructions:    1.20,
		store.ContentTypeExamples:        0.80,
		store.ContentTypeDefinitions:     0.50,
		store.ContentTypeTableOfContents: 0.20,
		store.ContentTypeFAQ:             1.10,
		store.ContentTypeText:            0.90,
	},
	query.TypeGeneral: {
		store.ContentTypeInstructions:    0.90,
		store.ContentTypeExamples:        0.80,
		store.ContentTypeDefinitions:     0.80,
		store.ContentTypeTableOfContents: 0.40,
		store.ContentTypeFAQ:             0.90,
		store.ContentTypeText:            1.00,
	},
}

// contentTypeMatch looks up the matrix multiplier, with configured
// overrides keyed "queryType/contentType" taking precedence.
func contentTypeMatch(qt query.Type, ct store.ContentType, overrides map[string]float64) float64 {
	if overrides != nil {
		if v, ok := overrides[string(qt)+"/"+string(ct)]; ok {
			return v
		}
	}
	row, ok := contentTypeMatrix[qt]
	if !ok {
		row = contentTypeMatrix[query.TypeGeneral]
	}
	if v, ok := row[ct]; ok {
		return v
	}
	return row[store.ContentTypeText]
}

// preferredContentType is the content type the contextual strategy
// filters on for a query type. General queries get no filter.
func preferredContentType(qt query.Type) store.ContentType {
	switch qt {
	case query.TypeProcedure:
		return store.ContentTypeInstructions
	case query.TypeDefinition:
		return store.ContentTypeDefinitions
	case query.TypeTroubleshoot:
		return store.ContentTypeFAQ
	default:
		return ""
	}
}
