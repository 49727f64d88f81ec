// Package providers holds the read-only catalog of integration providers
// and the probes used to verify provider credentials.
package providers

import (
	"fmt"
	"sort"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Registry is a read-only lookup over provider definitions.
type Registry interface {
	// Get returns the definition for providerID or apperrors.ErrUnknownProvider.
	Get(providerID string) (*models.ProviderDefinition, error)
	// RequireAvailable is Get plus apperrors.ErrProviderUnavailable for coming-soon providers.
	RequireAvailable(providerID string) (*models.ProviderDefinition, error)
	List() []*models.ProviderDefinition
	ListByCategory(category models.ProviderCategory) []*models.ProviderDefinition
}

type registry struct {
	byID    map[string]*models.ProviderDefinition
	ordered []*models.ProviderDefinition
}

var _ Registry = (*registry)(nil)

// NewRegistry builds a registry from the built-in catalog with overrides applied.
// A nil overrides value leaves the catalog untouched.
func NewRegistry(overrides *Overrides) (Registry, error) {
	defs := builtinCatalog()
	if overrides != nil {
		if err := overrides.apply(defs); err != nil {
			return nil, err
		}
	}
	return newRegistry(defs), nil
}

// NewRegistryFromDefinitions builds a registry over an explicit table.
// Used by tests that point providers at local servers.
func NewRegistryFromDefinitions(defs []*models.ProviderDefinition) Registry {
	cloned := make([]*models.ProviderDefinition, 0, len(defs))
	for _, d := range defs {
		cloned = append(cloned, d.Clone())
	}
	return newRegistry(cloned)
}

// BuiltinDefinitions returns a copy of the compiled-in catalog.
func BuiltinDefinitions() []*models.ProviderDefinition {
	return builtinCatalog()
}

func newRegistry(defs []*models.ProviderDefinition) *registry {
	r := &registry{byID: make(map[string]*models.ProviderDefinition, len(defs))}
	for _, d := range defs {
		r.byID[d.ID] = d
		r.ordered = append(r.ordered, d)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	return r
}

func (r *registry) Get(providerID string) (*models.ProviderDefinition, error) {
	def, ok := r.byID[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownProvider, providerID)
	}
	return def.Clone(), nil
}

func (r *registry) RequireAvailable(providerID string) (*models.ProviderDefinition, error) {
	def, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	if def.ComingSoon {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrProviderUnavailable, def.DisplayName)
	}
	return def, nil
}

func (r *registry) List() []*models.ProviderDefinition {
	out := make([]*models.ProviderDefinition, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, d.Clone())
	}
	return out
}

func (r *registry) ListByCategory(category models.ProviderCategory) []*models.ProviderDefinition {
	out := make([]*models.ProviderDefinition, 0)
	for _, d := range r.ordered {
		if d.Category == category {
			out = append(out, d.Clone())
		}
	}
	return out
}

// IDsByCategory returns the ids of every provider in category, including coming-soon ones.
func IDsByCategory(r Registry, category models.ProviderCategory) []string {
	defs := r.ListByCategory(category)
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	return ids
}
