// Package access holds the workspace role table and the pure authorization check over it.
package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Resource names a permission-bearing resource inside a workspace.
type Resource string

// Action names an operation on a Resource.
type Action string

const (
	ResourceOrganization Resource = "organization"
	ResourceMember       Resource = "member"
	ResourceInvitation   Resource = "invitation"
)

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionCancel Action = "cancel"
)

// Built-in role names.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Statements is the set of allowed actions per resource for one role.
type Statements map[Resource][]Action

// Permission is a check request. Exactly one resource may be named per check.
type Permission map[Resource][]Action

// Result is the outcome of Authorize.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrInvalidPermission is returned when a Permission does not name exactly one resource.
var ErrInvalidPermission = errors.New("permission must name exactly one resource")

// DefaultRoles returns the statements of the built-in roles.
func DefaultRoles() map[string]Statements {
	return map[string]Statements{
		RoleOwner: {
			ResourceOrganization: {ActionRead, ActionUpdate, ActionDelete},
			ResourceMember:       {ActionCreate, ActionUpdate, ActionDelete},
			ResourceInvitation:   {ActionCreate, ActionCancel},
		},
		RoleAdmin: {
			ResourceOrganization: {ActionRead, ActionUpdate},
			ResourceMember:       {ActionCreate, ActionUpdate, ActionDelete},
			ResourceInvitation:   {ActionCreate, ActionCancel},
		},
		RoleMember: {
			ResourceOrganization: {ActionRead},
		},
	}
}

// Table is the immutable role table built once at startup.
type Table struct {
	roles map[string]map[Resource]map[Action]struct{}
}

// NewTable builds a table from the built-in roles merged with custom.
// A custom role that shares a built-in name extends it; it never replaces it.
func NewTable(custom map[string]Statements) *Table {
	t := &Table{roles: make(map[string]map[Resource]map[Action]struct{})}
	for name, st := range DefaultRoles() {
		t.add(name, st)
	}
	for name, st := range custom {
		t.add(name, st)
	}
	return t
}

func (t *Table) add(name string, st Statements) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	res, ok := t.roles[name]
	if !ok {
		res = make(map[Resource]map[Action]struct{})
		t.roles[name] = res
	}
	for r, actions := range st {
		set, ok := res[r]
		if !ok {
			set = make(map[Action]struct{})
			res[r] = set
		}
		for _, a := range actions {
			set[a] = struct{}{}
		}
	}
}

// Roles returns the sorted role names in the table.
func (t *Table) Roles() []string {
	names := make([]string, 0, len(t.roles))
	for name := range t.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Valid reports whether every role listed in role exists in the table.
func (t *Table) Valid(role string) bool {
	names := ParseRoles(role)
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if _, ok := t.roles[n]; !ok {
			return false
		}
	}
	return true
}

// Allows reports whether any role listed in role grants action on resource.
func (t *Table) Allows(role string, resource Resource, action Action) bool {
	for _, n := range ParseRoles(role) {
		if set, ok := t.roles[n][resource]; ok {
			if _, ok := set[action]; ok {
				return true
			}
		}
	}
	return false
}

// Authorize checks p against role. A role that is not in the table is denied, not an error.
// The returned error is non-nil only when p is malformed.
func (t *Table) Authorize(role string, p Permission) (Result, error) {
	if len(p) != 1 {
		return Result{Success: false, Error: ErrInvalidPermission.Error()}, ErrInvalidPermission
	}
	names := ParseRoles(role)
	known := false
	for _, n := range names {
		if _, ok := t.roles[n]; ok {
			known = true
			break
		}
	}
	if !known {
		return Result{Success: false, Error: fmt.Sprintf("role %q not found", role)}, nil
	}
	for resource, actions := range p {
		for _, n := range names {
			if t.grantsAll(n, resource, actions) {
				return Result{Success: true}, nil
			}
		}
		return Result{Success: false, Error: fmt.Sprintf("not allowed to %s %s", joinActions(actions), resource)}, nil
	}
	return Result{}, nil
}

func (t *Table) grantsAll(role string, resource Resource, actions []Action) bool {
	set, ok := t.roles[role][resource]
	if !ok {
		return false
	}
	for _, a := range actions {
		if _, ok := set[a]; !ok {
			return false
		}
	}
	return true
}

// ParseRoles splits a comma-separated role string into trimmed, non-empty names.
func ParseRoles(role string) []string {
	var out []string
	for _, r := range strings.Split(role, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// HasRole reports whether the comma-separated role string lists name.
func HasRole(role, name string) bool {
	for _, r := range ParseRoles(role) {
		if r == name {
			return true
		}
	}
	return false
}

func joinActions(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

// ParseStatements parses custom roles in the form
// "role:resource=action|action;resource=action,role2:resource=action".
func ParseStatements(raw string) (map[string]Statements, error) {
	out := make(map[string]Statements)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, body, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid role definition %q", entry)
		}
		st := out[name]
		if st == nil {
			st = make(Statements)
			out[name] = st
		}
		for _, stmt := range strings.Split(body, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			res, acts, ok := strings.Cut(stmt, "=")
			res = strings.TrimSpace(res)
			if !ok || res == "" {
				return nil, fmt.Errorf("invalid statement %q for role %s", stmt, name)
			}
			for _, a := range strings.Split(acts, "|") {
				if a = strings.TrimSpace(a); a != "" {
					st[Resource(res)] = append(st[Resource(res)], Action(a))
				}
			}
		}
	}
	return out, nil
}
