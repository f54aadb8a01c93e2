package vector

import "context"

// Document is one unit of indexed text with flat scalar metadata.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Result is one query hit. Lower distance means more similar.
type Result struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// Where is a boolean filter over metadata fields, expressed in the
// store's native operator form: {"field": {"$gte": v}} and {"$and": [...]}.
// Supported operators are $gte, $lte and $lt.
type Where map[string]any

// Gte filters field >= value.
func Gte(field string, value any) Where {
	return Where{field: map[string]any{"$gte": value}}
}

// Lte filters field <= value.
func Lte(field string, value any) Where {
	return Where{field: map[string]any{"$lte": value}}
}

// Lt filters field < value.
func Lt(field string, value any) Where {
	return Where{field: map[string]any{"$lt": value}}
}

// Eq filters field == value.
func Eq(field string, value any) Where {
	return Where{field: value}
}

// And combines filters. With zero clauses it returns nil and with one it
// returns the clause itself, since stores reject single-clause $and lists.
func And(clauses ...Where) Where {
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	}
	list := make([]any, len(clauses))
	for i, c := range clauses {
		list[i] = map[string]any(c)
	}
	return Where{"$and": list}
}

// Index is the contract the tool layer and the sync endpoint program
// against. Upsert is idempotent add-or-replace; documents with empty text
// are skipped by callers before reaching the index.
type Index interface {
	Upsert(ctx context.Context, docs []Document) error
	Query(ctx context.Context, text string, k int, where Where) ([]Result, error)
	Count(ctx context.Context) (int, error)
	IDs(ctx context.Context) ([]string, error)
}

// DocText composes the indexed document for one capture. The raw OCR text
// travels alongside in "extracted_text" metadata so consumers can show it
// without the prefix.
func DocText(screenName, text string) string {
	return "Screen: " + screenName + " Text: " + text
}

// Relevance converts a vector distance into a [0,1] relevance score.
func Relevance(distance float64) float64 {
	if r := 1 - distance; r > 0 {
		return r
	}
	return 0
}
