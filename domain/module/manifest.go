package module

// ManifestEntry is the frontend-visible subset of a descriptor. Internal
// bookkeeping such as source paths and backend blueprints never appears
// here.
type ManifestEntry struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Version              string   `json:"version"`
	Category             Category `json:"category"`
	Routes               []Route  `json:"routes"`
	EagerInit            bool     `json:"eager_init"`
	RequiredCapabilities []string `json:"required_capabilities"`
	OptionalCapabilities []string `json:"optional_capabilities"`
}

// ManifestEntryFor projects a descriptor onto its public subset
func ManifestEntryFor(d *Descriptor) ManifestEntry {
	entry := ManifestEntry{
		ID:                   d.ID,
		Name:                 d.Name,
		Version:              d.Version,
		Category:             d.Category,
		EagerInit:            d.EagerInit,
		Routes:               append([]Route{}, d.Routes...),
		RequiredCapabilities: append([]string{}, d.Requires...),
		OptionalCapabilities: append([]string{}, d.Optional...),
	}
	return entry
}

// CapabilityIndex is the derived module-descriptor graph: which capabilities
// each module imports and which it provides. The isolation rules treat any
// cross-module reference outside this index as a violation.
type CapabilityIndex struct {
	Imports  map[string][]string `json:"imports"`
	Provides map[string][]string `json:"provides"`
}

// BuildCapabilityIndex derives the capability graph from loaded descriptors
func BuildCapabilityIndex(descriptors []*Descriptor) CapabilityIndex {
	idx := CapabilityIndex{
		Imports:  make(map[string][]string, len(descriptors)),
		Provides: make(map[string][]string, len(descriptors)),
	}
	for _, d := range descriptors {
		imports := append(append([]string{}, d.Requires...), d.Optional...)
		idx.Imports[d.ID] = imports
		if provides := d.ProvidedCapabilities(); len(provides) > 0 {
			idx.Provides[d.ID] = provides
		}
	}
	return idx
}
