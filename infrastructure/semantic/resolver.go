// Package semantic ships the built-in business-vocabulary resolver. It
// serves a static glossary loaded at startup; a real semantic layer replaces
// it behind ports.SemanticResolver without touching callers.
package semantic

import (
	"context"
	"strings"

	"datalens/application/ports"
	apperrors "datalens/pkg/errors"
)

// StaticResolver answers term lookups from a fixed glossary. Lookups are
// case-insensitive on the term.
type StaticResolver struct {
	terms map[string]ports.TermResolution
}

// NewStaticResolver builds a resolver over a glossary keyed by term. A nil
// glossary yields a resolver that knows nothing, the platform default.
func NewStaticResolver(glossary map[string]ports.TermResolution) *StaticResolver {
	terms := make(map[string]ports.TermResolution, len(glossary))
	for term, resolution := range glossary {
		resolution.Term = term
		terms[strings.ToLower(term)] = resolution
	}
	return &StaticResolver{terms: terms}
}

// ResolveTerm looks the term up in the glossary
func (r *StaticResolver) ResolveTerm(_ context.Context, term string) (*ports.TermResolution, error) {
	resolution, ok := r.terms[strings.ToLower(strings.TrimSpace(term))]
	if !ok {
		return nil, apperrors.NewNotFoundError("term " + term)
	}
	return &resolution, nil
}
