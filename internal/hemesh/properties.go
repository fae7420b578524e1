package hemesh

import "sort"

// property is the type-erased view a PropertyStore keeps of each array. All
// arrays of one store grow, shrink and swap entries in lockstep with the
// entity count.
type property interface {
	name() string
	len() int
	resize(n int)
	swap(i, j int)
	clone() property
	// appendFrom appends other's entries to this array when other has the
	// same name and element type; ok is false otherwise.
	appendFrom(other property) bool
}

// Prop is a named typed array parallel to one entity class.
type Prop[T any] struct {
	pname string
	Data  []T
}

func (p *Prop[T]) name() string { return p.pname }
func (p *Prop[T]) len() int     { return len(p.Data) }

func (p *Prop[T]) resize(n int) {
	for len(p.Data) < n {
		var zero T
		p.Data = append(p.Data, zero)
	}
	p.Data = p.Data[:n]
}
func (p *Prop[T]) swap(i, j int) { p.Data[i], p.Data[j] = p.Data[j], p.Data[i] }

func (p *Prop[T]) clone() property {
	c := &Prop[T]{pname: p.pname, Data: make([]T, len(p.Data))}
	copy(c.Data, p.Data)
	return c
}

func (p *Prop[T]) appendFrom(other property) bool {
	o, ok := other.(*Prop[T])
	if !ok || o.pname != p.pname {
		return false
	}
	p.Data = append(p.Data, o.Data...)
	return true
}

// PropertyStore is a name-keyed set of typed arrays for one entity class.
// Adding and removing properties is single-writer; writes into an existing
// array at disjoint indices may run concurrently.
type PropertyStore struct {
	size  int
	props map[string]property
}

// AddProperty registers a new typed array under name, sized to the current
// entity count. If the name is already taken — by any type — the result is
// nil (an invalid handle), not an error.
func AddProperty[T any](ps *PropertyStore, name string) *Prop[T] {
	if ps.props == nil {
		ps.props = map[string]property{}
	}
	if _, exists := ps.props[name]; exists {
		return nil
	}
	p := &Prop[T]{pname: name, Data: make([]T, ps.size)}
	ps.props[name] = p
	return p
}

// GetProperty looks a property up by name. A missing name or a mismatched
// element type yields nil.
func GetProperty[T any](ps *PropertyStore, name string) *Prop[T] {
	p, ok := ps.props[name].(*Prop[T])
	if !ok {
		return nil
	}
	return p
}

// GetOrAddProperty returns the existing array or registers a new one.
// A name bound to a different element type yields nil.
func GetOrAddProperty[T any](ps *PropertyStore, name string) *Prop[T] {
	if raw, exists := ps.props[name]; exists {
		p, ok := raw.(*Prop[T])
		if !ok {
			return nil
		}
		return p
	}
	return AddProperty[T](ps, name)
}

// RemoveProperty drops the named array and its backing storage.
func (ps *PropertyStore) RemoveProperty(name string) {
	delete(ps.props, name)
}

// HasProperty reports whether name is registered.
func (ps *PropertyStore) HasProperty(name string) bool {
	_, ok := ps.props[name]
	return ok
}

// Names returns the registered property names, sorted.
func (ps *PropertyStore) Names() []string {
	names := make([]string, 0, len(ps.props))
	for n := range ps.props {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the entity count the store tracks.
func (ps *PropertyStore) Len() int { return ps.size }

// resize grows or shrinks every array to n entries.
func (ps *PropertyStore) resize(n int) {
	ps.size = n
	for _, p := range ps.props {
		p.resize(n)
	}
}

// push appends one zero entry to every array.
func (ps *PropertyStore) push() {
	ps.resize(ps.size + 1)
}

// swap exchanges entries i and j in every array.
func (ps *PropertyStore) swap(i, j int) {
	for _, p := range ps.props {
		p.swap(i, j)
	}
}

// clone deep-copies the store.
func (ps *PropertyStore) clone() PropertyStore {
	c := PropertyStore{size: ps.size, props: map[string]property{}}
	for n, p := range ps.props {
		c.props[n] = p.clone()
	}
	return c
}

// concatMatching appends other's arrays onto this store's arrays where name
// and element type match; mismatches are reported back for diagnostics.
// Arrays present only on one side are padded with zero values to keep all
// lengths in lockstep.
func (ps *PropertyStore) concatMatching(other *PropertyStore) (dropped []string) {
	newSize := ps.size + other.size
	for name, p := range ps.props {
		o, exists := other.props[name]
		if !exists || !p.appendFrom(o) {
			if exists {
				dropped = append(dropped, name)
			}
		}
	}
	for name := range other.props {
		if !ps.HasProperty(name) {
			dropped = append(dropped, name)
		}
	}
	ps.resize(newSize)
	sort.Strings(dropped)
	return dropped
}
