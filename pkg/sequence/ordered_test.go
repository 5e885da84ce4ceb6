package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedKeepsInsertionOrder(t *testing.T) {
	o := NewOrdered[string, int]()
	o.Set("c", 1)
	o.Set("a", 2)
	o.Set("b", 3)
	o.Set("c", 4)

	assert.Equal(t, []string{"c", "a", "b"}, o.Keys())
	assert.Equal(t, []int{4, 2, 3}, o.Values())

	assert.True(t, o.Delete("a"))
	assert.False(t, o.Delete("a"))
	assert.Equal(t, []string{"c", "b"}, o.Keys())
	assert.Equal(t, 2, o.Len())
}

func TestOrderedAllToleratesMutation(t *testing.T) {
	o := NewOrdered[int, string]()
	for i := 0; i < 4; i++ {
		o.Set(i, "v")
	}
	var seen []int
	for k := range o.All() {
		seen = append(seen, k)
		o.Delete(k + 1)
	}
	assert.Equal(t, []int{0, 2}, seen)
}

func TestOrderedZeroValue(t *testing.T) {
	var o Ordered[string, bool]
	o.Set("x", true)
	v, ok := o.Get("x")
	assert.True(t, ok)
	assert.True(t, v)
	o.Clear()
	assert.False(t, o.Has("x"))
}
