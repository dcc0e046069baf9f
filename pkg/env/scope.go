package env

import "errors"

// ErrScopeUnderflow is returned by Leave on the root scope.
var ErrScopeUnderflow = errors.New("env: leave on root scope")

// Scope is a stack of mappings. Enter pushes a copy of the current top with
// overrides applied; Leave pops it. Lookups and writes only touch the top,
// so nothing set inside a child scope is visible after Leave.
//
// A Scope belongs to a single flow execution and is not safe for concurrent use.
type Scope struct {
	stack []*Mapping
}

// NewScope creates a scope whose root is a copy of base.
func NewScope(base *Mapping) *Scope {
	if base == nil {
		base = NewMapping()
	}
	return &Scope{stack: []*Mapping{base.Clone()}}
}

// Enter pushes a new frame.
func (s *Scope) Enter(overrides Vars) {
	s.stack = append(s.stack, s.Current().Clone().Apply(overrides))
}

// Leave pops the top frame.
func (s *Scope) Leave() error {
	if len(s.stack) <= 1 {
		return ErrScopeUnderflow
	}
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// With runs fn inside a frame carrying overrides. The frame is popped even
// if fn panics.
func (s *Scope) With(overrides Vars, fn func() error) error {
	s.Enter(overrides)
	depth := len(s.stack)
	defer func() {
		// fn may not leave frames it entered; unwind down to ours
		for len(s.stack) >= depth {
			_ = s.Leave()
		}
	}()
	return fn()
}

// Current returns the top mapping.
func (s *Scope) Current() *Mapping {
	return s.stack[len(s.stack)-1]
}

// Resolve looks name up in the top frame only.
func (s *Scope) Resolve(name string) (string, bool) {
	return s.Current().Get(name)
}

// Set binds name in the top frame.
func (s *Scope) Set(name, value string) {
	s.Current().Set(name, value)
}

// Depth returns the number of frames, 1 for the root.
func (s *Scope) Depth() int { return len(s.stack) }

// Snapshot returns a copy of the top frame.
func (s *Scope) Snapshot() *Mapping {
	return s.Current().Clone()
}
