package scene

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/errors"
)

func TestTreeStructure(t *testing.T) {
	root := NewNode("root", 1)
	a := NewNode("a", 2)
	b := NewNode("b", 3)

	require.NoError(t, root.AddChild(a))
	require.NoError(t, a.AddChild(b))

	assert.Same(t, root, b.Root())
	assert.True(t, root.IsAncestorOf(b))
	assert.False(t, b.IsAncestorOf(root))
	assert.Equal(t, []*Node[int]{a, b}, root.Descendants())

	assert.ErrorIs(t, b.AddChild(root), errors.ErrInvalidParams)
	assert.ErrorIs(t, root.AddChild(b), errors.ErrInvalidState)
	assert.ErrorIs(t, a.AddChild(a), errors.ErrInvalidParams)

	dup := NewNode("b", 4)
	assert.ErrorIs(t, a.AddChild(dup), errors.ErrDuplicateItem)

	removed, err := a.RemoveChild("b")
	require.NoError(t, err)
	assert.Same(t, b, removed)
	assert.True(t, b.IsRoot())
	_, err = a.RemoveChild("b")
	assert.ErrorIs(t, err, errors.ErrItemNotFound)
}

func TestWalkSkipsSubtree(t *testing.T) {
	root := NewNode("root", 0)
	skip := NewNode("skip", 0)
	keep := NewNode("keep", 0)
	require.NoError(t, root.AddChild(skip))
	require.NoError(t, root.AddChild(keep))
	require.NoError(t, skip.AddChild(NewNode("hidden", 0)))

	var names []string
	root.Walk(func(n *Node[int]) bool {
		names = append(names, n.Name())
		return n.Name() != "skip"
	})
	assert.Equal(t, []string{"root", "skip", "keep"}, names)
}

func TestWorldTransformInheritance(t *testing.T) {
	parent := NewNode("p", 0)
	child := NewNode("c", 0)
	require.NoError(t, parent.AddChild(child))

	parent.SetPosition(Vec3(10, 0, 0))
	parent.SetOrientation(AxisAngle(Vec3(0, 0, 1), math.Pi/2))
	parent.SetScale(Vec3(2, 2, 2))
	child.SetPosition(Vec3(1, 0, 0))

	w := child.WorldTransform()
	assert.True(t, w.Position.ApproxEqual(Vec3(10, 2, 0), 1e-9), "%+v", w.Position)
	assert.True(t, w.Scale.ApproxEqual(Vec3(2, 2, 2), 1e-9))
	assert.True(t, w.Orientation.ApproxEqual(parent.Orientation(), 1e-9))

	child.SetInheritScale(false)
	child.SetInheritOrientation(false)
	w = child.WorldTransform()
	assert.True(t, w.Scale.ApproxEqual(One, 1e-9))
	assert.True(t, w.Orientation.ApproxEqual(Identity, 1e-9))
}
