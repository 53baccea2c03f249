package core

import (
	"errors"
	"fmt"
	"strings"
)

// Registry holds the set of known entities and their dependency order.
// A Registry is immutable once built and safe for concurrent reads.
type Registry struct {
	entities map[string]*Entity
	declared []string // declaration order
	order    []string // dependency order
}

// NewRegistry validates the given entities and computes their dependency order.
// Parents must be declared in the same call and foreign keys must reference
// the parent's primary key. Declaration order breaks ties.
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*Entity, len(entities)),
		declared: make([]string, 0, len(entities)),
	}

	for i := range entities {
		e := normalizeEntity(entities[i])
		if err := validateEntity(&e); err != nil {
			return nil, err
		}
		if _, exists := r.entities[e.Name]; exists {
			return nil, fmt.Errorf("entity already registered: %s", e.Name)
		}
		r.entities[e.Name] = &e
		r.declared = append(r.declared, e.Name)
	}

	var errs []error
	for _, name := range r.declared {
		e := r.entities[name]
		for _, fk := range e.ForeignKeys {
			parent, ok := r.entities[fk.Parent]
			if !ok {
				errs = append(errs, fmt.Errorf("%s.%s references unregistered entity %q", e.Name, fk.Column, fk.Parent))
				continue
			}
			if fk.ParentColumn != parent.PrimaryKey {
				errs = append(errs, fmt.Errorf("%s.%s must reference the primary key of %s, not %s", e.Name, fk.Column, fk.Parent, fk.ParentColumn))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	order, err := r.topoSort()
	if err != nil {
		return nil, err
	}
	r.order = order

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
// Intended for built-in schemas defined in code.
func MustRegistry(entities ...Entity) *Registry {
	r, err := NewRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the entity with the given name.
// Names are matched case-insensitively after trimming.
func (r *Registry) Lookup(name string) (*Entity, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	e, ok := r.entities[key]
	if !ok {
		return nil, &UnknownEntityError{Name: name}
	}
	return e, nil
}

// DependencyOrder returns every entity name ordered so that each parent
// precedes its children. The returned slice is a copy.
func (r *Registry) DependencyOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns all entities in dependency order.
func (r *Registry) All() []*Entity {
	out := make([]*Entity, len(r.order))
	for i, name := range r.order {
		out[i] = r.entities[name]
	}
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

// topoSort runs Kahn's algorithm over the FK graph. The ready set is always
// scanned in declaration order so the result is deterministic.
func (r *Registry) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(r.declared))
	children := make(map[string][]string, len(r.declared))

	for _, name := range r.declared {
		indegree[name] += 0
		seen := make(map[string]bool)
		for _, fk := range r.entities[name].ForeignKeys {
			if fk.Parent == name || seen[fk.Parent] {
				continue
			}
			seen[fk.Parent] = true
			indegree[name]++
			children[fk.Parent] = append(children[fk.Parent], name)
		}
	}

	order := make([]string, 0, len(r.declared))
	done := make(map[string]bool, len(r.declared))

	for len(order) < len(r.declared) {
		next := ""
		for _, name := range r.declared {
			if !done[name] && indegree[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			var cyclic []string
			for _, name := range r.declared {
				if !done[name] {
					cyclic = append(cyclic, name)
				}
			}
			return nil, fmt.Errorf("foreign key cycle among entities: %s", strings.Join(cyclic, ", "))
		}

		done[next] = true
		order = append(order, next)
		for _, child := range children[next] {
			indegree[child]--
		}
	}

	return order, nil
}

// normalizeEntity lower-cases and trims every name in the entity and makes
// the primary key implicitly required.
func normalizeEntity(e Entity) Entity {
	clean := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	out := Entity{
		Name:          clean(e.Name),
		PrimaryKey:    clean(e.PrimaryKey),
		KeyAlias:      clean(e.KeyAlias),
		SynthesizeKey: e.SynthesizeKey,
	}

	out.Columns = make([]Column, len(e.Columns))
	for i, c := range e.Columns {
		typ := ColumnType(clean(string(c.Type)))
		if typ == "" {
			typ = TypeText
		}
		out.Columns[i] = Column{Name: clean(c.Name), Type: typ}
	}

	seen := make(map[string]bool)
	if out.PrimaryKey != "" {
		out.Required = append(out.Required, out.PrimaryKey)
		seen[out.PrimaryKey] = true
	}
	for _, req := range e.Required {
		req = clean(req)
		if !seen[req] {
			out.Required = append(out.Required, req)
			seen[req] = true
		}
	}

	out.ForeignKeys = make([]ForeignKey, len(e.ForeignKeys))
	for i, fk := range e.ForeignKeys {
		parentCol := clean(fk.ParentColumn)
		if parentCol == "" {
			parentCol = clean(fk.Column)
		}
		out.ForeignKeys[i] = ForeignKey{
			Column:       clean(fk.Column),
			Parent:       clean(fk.Parent),
			ParentColumn: parentCol,
		}
	}

	return out
}

func validateEntity(e *Entity) error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.PrimaryKey == "" {
		return fmt.Errorf("%s: primary key is required", e.Name)
	}

	var errs []error
	seen := make(map[string]bool, len(e.Columns))
	for _, c := range e.Columns {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s: column with empty name", e.Name))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate column %s", e.Name, c.Name))
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeText, TypeInteger, TypeReal, TypeDate:
		default:
			errs = append(errs, fmt.Errorf("%s.%s: unsupported column type %q", e.Name, c.Name, c.Type))
		}
	}

	for _, req := range e.Required {
		if !seen[req] {
			errs = append(errs, fmt.Errorf("%s: required column %s is not a schema column", e.Name, req))
		}
	}
	for _, fk := range e.ForeignKeys {
		if !seen[fk.Column] {
			errs = append(errs, fmt.Errorf("%s: foreign key column %s is not a schema column", e.Name, fk.Column))
		}
		if fk.Parent == "" {
			errs = append(errs, fmt.Errorf("%s.%s: foreign key parent is required", e.Name, fk.Column))
		}
	}
	if e.KeyAlias != "" && e.KeyAlias == e.PrimaryKey {
		errs = append(errs, fmt.Errorf("%s: key alias equals primary key", e.Name))
	}

	return errors.Join(errs...)
}
