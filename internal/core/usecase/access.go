package usecase

import (
	"sync"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// DefaultRoleDepartments is the built-in role to department mapping.
func DefaultRoleDepartments() map[string][]string {
	return map[string][]string{
		"finance":     {"finance", "general"},
		"marketing":   {"marketing", "general"},
		"hr":          {"hr", "general"},
		"engineering": {"engineering", "general"},
		"employee":    {"general"},
		"c_level":     {"finance", "marketing", "hr", "engineering", "general"},
	}
}

type AccessResolver struct {
	mu    sync.RWMutex
	roles map[string]domain.DepartmentSet
}

func NewAccessResolver(mapping map[string][]string) *AccessResolver {
	r := &AccessResolver{roles: make(map[string]domain.DepartmentSet, len(mapping))}
	for role, departments := range mapping {
		r.roles[domain.NormalizeRole(role)] = domain.NewDepartmentSet(departments...)
	}
	return r
}

// DepartmentsFor returns a copy of the role's departments; unknown roles get an empty set.
func (r *AccessResolver) DepartmentsFor(role string) domain.DepartmentSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.roles[domain.NormalizeRole(role)]
	if !ok {
		return domain.DepartmentSet{}
	}
	return set.Clone()
}

// RegisterRole replaces the mapping for role.
func (r *AccessResolver) RegisterRole(role string, departments []string) {
	set := domain.NewDepartmentSet(departments...)
	r.mu.Lock()
	r.roles[domain.NormalizeRole(role)] = set
	r.mu.Unlock()
}

func (r *AccessResolver) Roles() map[string]domain.DepartmentSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.DepartmentSet, len(r.roles))
	for role, set := range r.roles {
		out[role] = set.Clone()
	}
	return out
}
