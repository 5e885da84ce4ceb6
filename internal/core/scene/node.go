package scene

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/pkg/sequence"
)

// Transform is a position, orientation and scale relative to the parent.
type Transform struct {
	Position    Vector3    `yaml:"position" json:"position"`
	Orientation Quaternion `yaml:"orientation" json:"orientation"`
	Scale       Vector3    `yaml:"scale" json:"scale"`
}

// IdentityTransform places a node exactly on its parent.
func IdentityTransform() Transform {
	return Transform{Orientation: Identity, Scale: One}
}

// Node is a tree position carrying a value of type T. A node has at most one
// parent and a name-keyed set of children.
type Node[T any] struct {
	name     string
	value    T
	parent   *Node[T]
	children *sequence.Ordered[string, *Node[T]]

	local              Transform
	inheritOrientation bool
	inheritScale       bool
}

func NewNode[T any](name string, value T) *Node[T] {
	return &Node[T]{
		name:               name,
		value:              value,
		children:           sequence.NewOrdered[string, *Node[T]](),
		local:              IdentityTransform(),
		inheritOrientation: true,
		inheritScale:       true,
	}
}

func (n *Node[T]) Name() string { return n.name }

func (n *Node[T]) Value() T { return n.value }

func (n *Node[T]) Parent() *Node[T] { return n.parent }

func (n *Node[T]) IsRoot() bool { return n.parent == nil }

// Root walks up to the top of the tree.
func (n *Node[T]) Root() *Node[T] {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// IsAncestorOf reports whether n is above other in the tree.
func (n *Node[T]) IsAncestorOf(other *Node[T]) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

func (n *Node[T]) Child(name string) (*Node[T], bool) {
	return n.children.Get(name)
}

func (n *Node[T]) HasChild(name string) bool { return n.children.Has(name) }

// Children returns the direct children in attach order.
func (n *Node[T]) Children() []*Node[T] { return n.children.Values() }

func (n *Node[T]) ChildCount() int { return n.children.Len() }

// AddChild attaches a detached node.
func (n *Node[T]) AddChild(child *Node[T]) error {
	const op = "Node.AddChild"
	switch {
	case child == n:
		return errors.InvalidParams(op, "node %q cannot be its own child", n.name)
	case child.parent != nil:
		return errors.InvalidState(op, "node %q already has parent %q", child.name, child.parent.name)
	case child.IsAncestorOf(n):
		return errors.InvalidParams(op, "node %q is an ancestor of %q", child.name, n.name)
	case n.children.Has(child.name):
		return errors.DuplicateItem(op, "node %q already has a child named %q", n.name, child.name)
	}
	n.children.Set(child.name, child)
	child.parent = n
	return nil
}

// RemoveChild detaches a direct child by name.
func (n *Node[T]) RemoveChild(name string) (*Node[T], error) {
	child, ok := n.children.Get(name)
	if !ok {
		return nil, errors.ItemNotFound("Node.RemoveChild", "node %q has no child %q", n.name, name)
	}
	n.children.Delete(name)
	child.parent = nil
	return child, nil
}

// Detach removes n from its parent, if any.
func (n *Node[T]) Detach() {
	if n.parent != nil {
		n.parent.children.Delete(n.name)
		n.parent = nil
	}
}

// Walk visits n and then every descendant depth first. Returning false from
// fn skips the subtree.
func (n *Node[T]) Walk(fn func(*Node[T]) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children.Values() {
		c.Walk(fn)
	}
}

// Descendants returns every node below n, depth first.
func (n *Node[T]) Descendants() []*Node[T] {
	var out []*Node[T]
	for _, c := range n.children.Values() {
		c.Walk(func(d *Node[T]) bool {
			out = append(out, d)
			return true
		})
	}
	return out
}

func (n *Node[T]) LocalTransform() Transform { return n.local }

func (n *Node[T]) SetLocalTransform(t Transform) { n.local = t }

func (n *Node[T]) Position() Vector3 { return n.local.Position }

func (n *Node[T]) SetPosition(p Vector3) { n.local.Position = p }

func (n *Node[T]) Translate(d Vector3) { n.local.Position = n.local.Position.Add(d) }

func (n *Node[T]) Orientation() Quaternion { return n.local.Orientation }

func (n *Node[T]) SetOrientation(q Quaternion) { n.local.Orientation = q.Normalize() }

func (n *Node[T]) Scale() Vector3 { return n.local.Scale }

func (n *Node[T]) SetScale(s Vector3) { n.local.Scale = s }

func (n *Node[T]) InheritOrientation() bool { return n.inheritOrientation }

func (n *Node[T]) SetInheritOrientation(v bool) { n.inheritOrientation = v }

func (n *Node[T]) InheritScale() bool { return n.inheritScale }

func (n *Node[T]) SetInheritScale(v bool) { n.inheritScale = v }

// WorldTransform composes the transforms from the root down to n.
func (n *Node[T]) WorldTransform() Transform {
	if n.parent == nil {
		return n.local
	}
	p := n.parent.WorldTransform()

	out := Transform{
		Orientation: n.local.Orientation,
		Scale:       n.local.Scale,
	}
	if n.inheritOrientation {
		out.Orientation = p.Orientation.Mul(n.local.Orientation)
	}
	if n.inheritScale {
		out.Scale = p.Scale.Mul(n.local.Scale)
	}
	out.Position = p.Orientation.Rotate(p.Scale.Mul(n.local.Position)).Add(p.Position)
	return out
}
