// Package env holds flow variables: ordered mappings and the scope stack
// that isolates sub-flow overrides from their callers.
package env

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// namePattern matches ALL_CAPS identifiers that look like env variables.
var namePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$`)

// Var is a single name/value binding.
type Var struct {
	Name  string
	Value string
}

// Vars is an ordered list of bindings, as declared in YAML.
type Vars []Var

// UnmarshalYAML decodes a mapping node keeping declaration order.
func (v *Vars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: env must be a mapping", node.Line)
	}
	out := make(Vars, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, Var{Name: node.Content[i].Value, Value: node.Content[i+1].Value})
	}
	*v = out
	return nil
}

// FromEnviron returns the ALL_CAPS entries of a KEY=VALUE list such as os.Environ().
func FromEnviron(environ []string) Vars {
	var out Vars
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !namePattern.MatchString(name) {
			continue
		}
		out = append(out, Var{Name: name, Value: value})
	}
	return out
}

// IsVariableName reports whether name looks like an env variable.
func IsVariableName(name string) bool {
	return namePattern.MatchString(name)
}

// Mapping is an insertion-ordered string map. Keys are unique; re-setting
// an existing key keeps its original position.
type Mapping struct {
	keys   []string
	values map[string]string
}

// NewMapping creates a mapping from vars.
func NewMapping(vars ...Var) *Mapping {
	m := &Mapping{values: make(map[string]string, len(vars))}
	for _, v := range vars {
		m.Set(v.Name, v.Value)
	}
	return m
}

// Set binds name to value.
func (m *Mapping) Set(name, value string) {
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.values[name] = value
}

// Get returns the value bound to name.
func (m *Mapping) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Delete removes name if present.
func (m *Mapping) Delete(name string) {
	if _, ok := m.values[name]; !ok {
		return
	}
	delete(m.values, name)
	for i, k := range m.keys {
		if k == name {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of bindings.
func (m *Mapping) Len() int { return len(m.keys) }

// Keys returns the names in insertion order.
func (m *Mapping) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Vars returns the bindings in insertion order.
func (m *Mapping) Vars() Vars {
	out := make(Vars, len(m.keys))
	for i, k := range m.keys {
		out[i] = Var{Name: k, Value: m.values[k]}
	}
	return out
}

// Clone returns an independent copy.
func (m *Mapping) Clone() *Mapping {
	c := &Mapping{
		keys:   make([]string, len(m.keys)),
		values: make(map[string]string, len(m.values)),
	}
	copy(c.keys, m.keys)
	for k, v := range m.values {
		c.values[k] = v
	}
	return c
}

// Apply sets every var in order and returns m.
func (m *Mapping) Apply(vars Vars) *Mapping {
	for _, v := range vars {
		m.Set(v.Name, v.Value)
	}
	return m
}

// Equal reports whether both mappings hold the same keys, order and values.
func (m *Mapping) Equal(o *Mapping) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k || o.values[k] != m.values[k] {
			return false
		}
	}
	return true
}

// ToMap returns a plain map copy.
func (m *Mapping) ToMap() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
