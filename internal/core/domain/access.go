package domain

import "strings"

// DepartmentSet is the ordered list of departments a role may read.
type DepartmentSet []string

func (s DepartmentSet) Contains(department string) bool {
	department = NormalizeDepartment(department)
	for _, d := range s {
		if d == department {
			return true
		}
	}
	return false
}

func (s DepartmentSet) Empty() bool {
	return len(s) == 0
}

func (s DepartmentSet) Clone() DepartmentSet {
	if s == nil {
		return nil
	}
	out := make(DepartmentSet, len(s))
	copy(out, s)
	return out
}

// NewDepartmentSet normalizes and de-duplicates departments, keeping first-seen order.
func NewDepartmentSet(departments ...string) DepartmentSet {
	out := make(DepartmentSet, 0, len(departments))
	seen := make(map[string]struct{}, len(departments))
	for _, d := range departments {
		d = NormalizeDepartment(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func NormalizeDepartment(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}
