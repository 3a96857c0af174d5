package registry

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
)

// Registry is an immutable, lock-free module catalog.
type Registry struct {
	ordered []moduledomain.ModuleDefinition
	byID    map[string]int
}

func New(defs ...moduledomain.ModuleDefinition) (*Registry, error) {
	r := &Registry{
		ordered: make([]moduledomain.ModuleDefinition, 0, len(defs)),
		byID:    make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		if err := validate(def); err != nil {
			return nil, err
		}
		if _, exists := r.byID[def.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %q", moduledomain.ErrInvalidModule, def.ID)
		}
		r.byID[def.ID] = len(r.ordered)
		r.ordered = append(r.ordered, def.Clone())
	}
	return r, nil
}

// Provide builds the catalog from the built-in module list.
func Provide() (moduledomain.Catalog, error) {
	return New(Builtin()...)
}

func validate(def moduledomain.ModuleDefinition) error {
	if !slug.IsSlug(def.ID) {
		return fmt.Errorf("%w: id %q is not a slug", moduledomain.ErrInvalidModule, def.ID)
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: %s has no name", moduledomain.ErrInvalidModule, def.ID)
	}
	if def.MonthlyPrice.IsNegative() {
		return fmt.Errorf("%w: %s has a negative price", moduledomain.ErrInvalidModule, def.ID)
	}
	if def.IsFree != def.MonthlyPrice.IsZero() {
		return fmt.Errorf("%w: %s free flag disagrees with price", moduledomain.ErrInvalidModule, def.ID)
	}
	if !def.IsFree && strings.TrimSpace(def.Currency) == "" {
		return fmt.Errorf("%w: %s has no currency", moduledomain.ErrInvalidModule, def.ID)
	}
	return nil
}

func (r *Registry) Get(moduleID string) (moduledomain.ModuleDefinition, error) {
	idx, ok := r.byID[strings.TrimSpace(moduleID)]
	if !ok {
		return moduledomain.ModuleDefinition{}, moduledomain.ErrModuleNotFound
	}
	return r.ordered[idx].Clone(), nil
}

func (r *Registry) List() []moduledomain.ModuleDefinition {
	return r.filter(func(moduledomain.ModuleDefinition) bool { return true })
}

func (r *Registry) ListByCategory(category moduledomain.Category) []moduledomain.ModuleDefinition {
	return r.filter(func(d moduledomain.ModuleDefinition) bool { return d.Category == category })
}

func (r *Registry) ListByType(moduleType moduledomain.ModuleType) []moduledomain.ModuleDefinition {
	return r.filter(func(d moduledomain.ModuleDefinition) bool { return d.Type == moduleType })
}

func (r *Registry) ListFree() []moduledomain.ModuleDefinition {
	return r.filter(func(d moduledomain.ModuleDefinition) bool { return d.IsFree })
}

func (r *Registry) ListPaid() []moduledomain.ModuleDefinition {
	return r.filter(func(d moduledomain.ModuleDefinition) bool { return !d.IsFree })
}

func (r *Registry) filter(keep func(moduledomain.ModuleDefinition) bool) []moduledomain.ModuleDefinition {
	out := make([]moduledomain.ModuleDefinition, 0, len(r.ordered))
	for _, def := range r.ordered {
		if keep(def) {
			out = append(out, def.Clone())
		}
	}
	return out
}

var _ moduledomain.Catalog = (*Registry)(nil)
