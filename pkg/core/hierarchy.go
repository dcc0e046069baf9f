package core

// ElementInfo represents information about a UI element.
type ElementInfo struct {
	ID                 string `json:"id,omitempty"`
	Text               string `json:"text,omitempty"`
	AccessibilityLabel string `json:"accessibilityLabel,omitempty"`
	Class              string `json:"class,omitempty"`
	Bounds             Bounds `json:"bounds"`
	Visible            bool   `json:"visible"`
	Enabled            bool   `json:"enabled"`
	Focused            bool   `json:"focused,omitempty"`
	Checked            bool   `json:"checked,omitempty"`
	Selected           bool   `json:"selected,omitempty"`
}

// Bounds represents element position and size.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds.
func (b Bounds) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains checks if a point is within the bounds.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.X && p.X < b.X+b.Width && p.Y >= b.Y && p.Y < b.Y+b.Height
}

// Node is one element of a view hierarchy.
type Node struct {
	Element  ElementInfo `json:"element"`
	Children []*Node     `json:"children,omitempty"`
}

// Hierarchy is a snapshot of the screen's element tree.
type Hierarchy struct {
	Root *Node `json:"root"`
}

// Walk visits nodes depth-first, parents before children. Returning false
// from fn stops the walk.
func (h *Hierarchy) Walk(fn func(n *Node) bool) {
	if h == nil || h.Root == nil {
		return
	}
	walkNode(h.Root, fn)
}

func walkNode(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !walkNode(c, fn) {
			return false
		}
	}
	return true
}

// Elements returns every element in walk order.
func (h *Hierarchy) Elements() []ElementInfo {
	var out []ElementInfo
	h.Walk(func(n *Node) bool {
		out = append(out, n.Element)
		return true
	})
	return out
}
