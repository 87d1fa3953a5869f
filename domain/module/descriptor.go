// Package module defines the module descriptor model of the federation
// runtime: the descriptor schema, its validation rules, and the navigation
// manifest derived from loaded descriptors.
package module

import (
	"fmt"
	"regexp"
	"strings"

	pkgerrors "datalens/pkg/errors"
)

// Category buckets modules for navigation and startup ordering
type Category string

const (
	CategoryCore           Category = "core"
	CategoryInfrastructure Category = "infrastructure"
	CategoryFeature        Category = "feature"
	CategoryHybrid         Category = "hybrid"
	CategoryDevTools       Category = "dev-tools"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)
	semverPattern  = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(-[0-9A-Za-z.\-]+)?(\+[0-9A-Za-z.\-]+)?$`)
	validCategories = map[Category]struct{}{
		CategoryCore: {}, CategoryInfrastructure: {}, CategoryFeature: {},
		CategoryHybrid: {}, CategoryDevTools: {},
	}
)

// Route is one navigable entry a module contributes to the shell
type Route struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Order       int    `json:"order,omitempty"`
}

// BackendRef names the capability blueprint that constructs the module's
// backend service.
type BackendRef struct {
	Blueprint string `json:"blueprint"`
}

// Descriptor is an immutable module record, loaded once at startup
type Descriptor struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Version   string                 `json:"version"`
	Category  Category               `json:"category"`
	Enabled   bool                   `json:"enabled"`
	EagerInit bool                   `json:"eager_init"`
	Backend   *BackendRef            `json:"backend,omitempty"`
	Routes    []Route                `json:"routes,omitempty"`
	Requires  []string               `json:"requires,omitempty"`
	Optional  []string               `json:"optional,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// SourcePath records where the descriptor was loaded from. It is
	// internal bookkeeping and never exposed through the manifest.
	SourcePath string `json:"-"`
}

// HyphenatedID converts a snake_case module id into its route form
func HyphenatedID(id string) string {
	return strings.ReplaceAll(id, "_", "-")
}

// RoutePrefix is the mandatory leading segment of every route the module
// declares.
func RoutePrefix(id string) string {
	return "/" + HyphenatedID(id)
}

// Validate enforces the semantic rules the JSON schema cannot express:
// identifier shape, version format, category membership, route-prefix
// derivation, and the privacy convention for capability names.
func (d *Descriptor) Validate() error {
	if !idPattern.MatchString(d.ID) {
		return pkgerrors.NewConfigError(fmt.Sprintf("module id %q must match %s", d.ID, idPattern.String()))
	}
	if len(d.Name) == 0 || len(d.Name) > 128 {
		return pkgerrors.NewConfigError(fmt.Sprintf("module %s: name must be 1..128 characters", d.ID))
	}
	if !semverPattern.MatchString(d.Version) {
		return pkgerrors.NewConfigError(fmt.Sprintf("module %s: version %q is not semver", d.ID, d.Version))
	}
	if _, ok := validCategories[d.Category]; !ok {
		return pkgerrors.NewConfigError(fmt.Sprintf("module %s: unknown category %q", d.ID, d.Category))
	}

	prefix := RoutePrefix(d.ID)
	for _, route := range d.Routes {
		if route.Path != prefix && !strings.HasPrefix(route.Path, prefix+"/") {
			return pkgerrors.NewConfigError(fmt.Sprintf(
				"module %s: route %q must begin with %q", d.ID, route.Path, prefix))
		}
	}

	for _, capName := range append(append([]string{}, d.Requires...), d.Optional...) {
		if capName == "" {
			return pkgerrors.NewConfigError(fmt.Sprintf("module %s: empty capability name", d.ID))
		}
		if strings.HasPrefix(capName, "_") {
			return pkgerrors.NewConfigError(fmt.Sprintf(
				"module %s: capability %q is private and cannot be imported", d.ID, capName))
		}
	}

	if d.Backend != nil && d.Backend.Blueprint == "" {
		return pkgerrors.NewConfigError(fmt.Sprintf("module %s: backend blueprint cannot be empty", d.ID))
	}

	return nil
}

// ProvidedCapabilities reads the optional "provides" metadata list, the one
// place a module may announce capabilities it contributes to the container.
func (d *Descriptor) ProvidedCapabilities() []string {
	raw, ok := d.Metadata["provides"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var provides []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			provides = append(provides, s)
		}
	}
	return provides
}
