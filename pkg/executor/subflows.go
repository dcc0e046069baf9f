package executor

import (
	"errors"
	"path/filepath"
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// FlowCache holds parsed sub-flows keyed by absolute path. A file is parsed
// on first use; parsed flows are never mutated, so one cache can be shared
// by concurrent workers.
type FlowCache struct {
	cache *c.Cache
}

// NewFlowCache creates an empty cache.
func NewFlowCache() *FlowCache {
	return &FlowCache{cache: c.New(c.NoExpiration, 10*time.Minute)}
}

// Load returns the parsed flow at path.
func (fc *FlowCache) Load(path string) (*flow.Flow, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if f, ok := fc.cache.Get(abs); ok {
		return f.(*flow.Flow), nil
	}
	f, err := flow.ParseFile(abs)
	if err != nil {
		return nil, err
	}
	fc.cache.SetDefault(abs, f)
	return f, nil
}

// Invalidate drops the given paths so they are parsed again on next use.
func (fc *FlowCache) Invalidate(paths ...string) {
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			fc.cache.Delete(abs)
		}
	}
}

// Flush drops every cached flow.
func (fc *FlowCache) Flush() {
	fc.cache.Flush()
}

// Len returns the number of cached flows.
func (fc *FlowCache) Len() int {
	return fc.cache.ItemCount()
}

// loadFlow loads a flow referenced by a runFlow or retry command.
func (o *Orchestra) loadFlow(ref string) (*flow.Flow, error) {
	f, err := o.opts.Flows.Load(o.resolvePath(ref))
	if err == nil {
		return f, nil
	}
	var parseErr *flow.ParseError
	if errors.As(err, &parseErr) {
		return nil, core.ErrParse.WithMessagef("cannot parse %s", ref).WithCause(err)
	}
	return nil, core.ErrInvalidConfig.WithMessagef("cannot load %s", ref).WithCause(err)
}
