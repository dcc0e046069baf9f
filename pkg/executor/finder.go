package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// Polling intervals for hierarchy lookups.
const (
	pollInitialInterval = 100 * time.Millisecond
	pollMaxInterval     = time.Second
)

// findElement polls the view hierarchy until sel matches a visible element.
func (o *Orchestra) findElement(ctx context.Context, sel flow.Selector, timeoutMs int) (core.ElementInfo, error) {
	var found core.ElementInfo
	err := o.poll(ctx, o.lookupTimeout(timeoutMs), func(h *core.Hierarchy) error {
		nodes, err := findAll(h, &sel)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return core.ErrElementNotFound.WithMessagef("element not found: %s", sel.DescribeQuoted())
		}
		found = nodes[0].Element
		return nil
	})
	return found, err
}

// waitAbsent polls the view hierarchy until sel no longer matches.
func (o *Orchestra) waitAbsent(ctx context.Context, sel flow.Selector, timeoutMs int) error {
	return o.poll(ctx, o.lookupTimeout(timeoutMs), func(h *core.Hierarchy) error {
		nodes, err := findAll(h, &sel)
		if err != nil {
			return err
		}
		if len(nodes) > 0 {
			return core.ErrElementStillVisible.WithMessagef("element is still visible: %s", sel.DescribeQuoted())
		}
		return nil
	})
}

func (o *Orchestra) lookupTimeout(timeoutMs int) time.Duration {
	if timeoutMs > 0 {
		return time.Duration(timeoutMs) * time.Millisecond
	}
	return o.opts.LookupTimeout
}

// poll runs check against fresh hierarchies with exponential backoff until
// it succeeds or timeout elapses. A non-positive timeout probes once. Lost
// sessions and invalid selectors are not retried.
func (o *Orchestra) poll(ctx context.Context, timeout time.Duration, check func(*core.Hierarchy) error) error {
	op := func() error {
		h, err := o.driver.ViewHierarchy()
		if err != nil {
			err = driverError(err)
			if core.IsSessionLoss(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := check(h); err != nil {
			if core.Classify(err) == core.ErrCategoryConfig {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = pollInitialInterval
		eb.MaxInterval = pollMaxInterval
		eb.MaxElapsedTime = timeout
		b = eb
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// findAll returns the visible nodes matching sel in hierarchy order.
func findAll(h *core.Hierarchy, sel *flow.Selector) ([]*core.Node, error) {
	if sel.IsEmpty() && !hasStateFilter(sel) {
		return nil, core.ErrMissingRequired.WithMessage("selector is empty")
	}
	text, id := newPattern(sel.Text), newPattern(sel.ID)

	var matches []*core.Node
	h.Walk(func(n *core.Node) bool {
		el := &n.Element
		if el.Visible &&
			(text.empty() || text.match(el.Text) || text.match(el.AccessibilityLabel)) &&
			(id.empty() || id.match(el.ID)) &&
			matchState(el, sel) {
			matches = append(matches, n)
		}
		return true
	})

	if sel.ChildOf != nil {
		anchor, err := firstMatch(h, sel.ChildOf)
		if err != nil || anchor == nil {
			return nil, err
		}
		matches = filter(matches, func(n *core.Node) bool {
			return n != anchor && isDescendant(anchor, n)
		})
	}

	relations := []struct {
		sel  *flow.Selector
		keep func(el, anchor core.Bounds) bool
	}{
		{sel.Below, func(el, a core.Bounds) bool { return el.Y >= a.Y+a.Height }},
		{sel.Above, func(el, a core.Bounds) bool { return el.Y+el.Height <= a.Y }},
		{sel.LeftOf, func(el, a core.Bounds) bool { return el.X+el.Width <= a.X }},
		{sel.RightOf, func(el, a core.Bounds) bool { return el.X >= a.X+a.Width }},
	}
	for _, rel := range relations {
		if rel.sel == nil {
			continue
		}
		anchor, err := firstMatch(h, rel.sel)
		if err != nil || anchor == nil {
			return nil, err
		}
		matches = filter(matches, func(n *core.Node) bool {
			return n != anchor && rel.keep(n.Element.Bounds, anchor.Element.Bounds)
		})
	}

	if sel.Index != "" {
		i, err := strconv.Atoi(sel.Index)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessagef("invalid index %q", sel.Index)
		}
		if i < 0 || i >= len(matches) {
			return nil, nil
		}
		matches = matches[i : i+1]
	}
	return matches, nil
}

func firstMatch(h *core.Hierarchy, sel *flow.Selector) (*core.Node, error) {
	nodes, err := findAll(h, sel)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

func hasStateFilter(sel *flow.Selector) bool {
	return sel.Enabled != nil || sel.Checked != nil || sel.Focused != nil || sel.Selected != nil
}

func matchState(el *core.ElementInfo, sel *flow.Selector) bool {
	check := func(want *bool, got bool) bool { return want == nil || *want == got }
	return check(sel.Enabled, el.Enabled) &&
		check(sel.Checked, el.Checked) &&
		check(sel.Focused, el.Focused) &&
		check(sel.Selected, el.Selected)
}

func isDescendant(ancestor, n *core.Node) bool {
	for _, c := range ancestor.Children {
		if c == n || isDescendant(c, n) {
			return true
		}
	}
	return false
}

func filter(nodes []*core.Node, keep func(*core.Node) bool) []*core.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// pattern matches a selector value as a full, case-insensitive regular
// expression. Values that are not valid expressions, or contain characters
// such as parentheses meant literally, also match by plain comparison.
type pattern struct {
	literal string
	re      *regexp.Regexp
}

func newPattern(value string) pattern {
	p := pattern{literal: value}
	if value == "" {
		return p
	}
	if re, err := regexp.Compile("(?is)^(?:" + value + ")$"); err == nil {
		p.re = re
	}
	return p
}

func (p pattern) empty() bool { return p.literal == "" }

func (p pattern) match(s string) bool {
	if s == "" {
		return false
	}
	if strings.EqualFold(s, p.literal) {
		return true
	}
	return p.re != nil && p.re.MatchString(s)
}
