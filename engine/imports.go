package engine

import (
	"slices"

	"github.com/tetratelabs/wazero/api"
)

// HostFunc is one host function offered to modules.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Imports is the table of host functions a module is linked against.
// All functions live in a single import namespace.
type Imports struct {
	funcs     map[string]HostFunc
	boundary  *Boundary
	namespace string
}

// NewImports creates an empty table for namespace. An empty namespace means
// DefaultNamespace.
func NewImports(namespace string) *Imports {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Imports{
		funcs:     make(map[string]HostFunc),
		namespace: namespace,
	}
}

// Namespace returns the import module name.
func (im *Imports) Namespace() string { return im.namespace }

// Func adds or replaces a host function.
func (im *Imports) Func(name string, fn api.GoModuleFunc, params, results []api.ValueType) *Imports {
	im.funcs[name] = HostFunc{Fn: fn, Name: name, Params: params, Results: results}
	return im
}

// Remove deletes a host function from the table.
func (im *Imports) Remove(name string) *Imports {
	delete(im.funcs, name)
	return im
}

// Lookup returns the host function registered under name.
func (im *Imports) Lookup(name string) (HostFunc, bool) {
	f, ok := im.funcs[name]
	return f, ok
}

// Names returns registered function names in sorted order.
func (im *Imports) Names() []string {
	names := make([]string, 0, len(im.funcs))
	for name := range im.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Boundary returns the boundary the table was built from, if any.
func (im *Imports) Boundary() *Boundary { return im.boundary }

// missingRequired lists required functions absent from the table.
func (im *Imports) missingRequired() []string {
	var missing []string
	for _, name := range RequiredImports {
		if _, ok := im.funcs[name]; !ok {
			missing = append(missing, importPath(im.namespace, name))
		}
	}
	return missing
}
