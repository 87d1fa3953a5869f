package ports

import "context"

// TermResolution maps a business term onto catalog elements
type TermResolution struct {
	Term        string   `json:"term"`
	SemanticTag string   `json:"semantic_tag,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// SemanticResolver translates business vocabulary into catalog references.
// The platform ships a no-op implementation; a real semantic layer replaces
// it behind this contract without touching callers.
type SemanticResolver interface {
	// ResolveTerm maps a business term to catalog fields, ErrNotFound when
	// the term is unknown
	ResolveTerm(ctx context.Context, term string) (*TermResolution, error)
}
