package sequence

import "iter"

// Ordered is a map that remembers insertion order. Iteration is deterministic,
// which the entity indices rely on when they walk components and children.
// Re-setting an existing key keeps its position.
type Ordered[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

func NewOrdered[K comparable, V any]() *Ordered[K, V] {
	return &Ordered[K, V]{values: make(map[K]V)}
}

func (o *Ordered[K, V]) Set(key K, value V) {
	if o.values == nil {
		o.values = make(map[K]V)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Ordered[K, V]) Get(key K) (V, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Ordered[K, V]) Has(key K) bool {
	_, ok := o.values[key]
	return ok
}

func (o *Ordered[K, V]) Delete(key K) bool {
	if _, ok := o.values[key]; !ok {
		return false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

func (o *Ordered[K, V]) Len() int { return len(o.keys) }

// Keys returns a copy of the keys in insertion order.
func (o *Ordered[K, V]) Keys() []K {
	out := make([]K, len(o.keys))
	copy(out, o.keys)
	return out
}

// Values returns a snapshot of the values in insertion order.
func (o *Ordered[K, V]) Values() []V {
	out := make([]V, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.values[k])
	}
	return out
}

// All iterates over a snapshot, so the map may be mutated while ranging.
func (o *Ordered[K, V]) All() iter.Seq2[K, V] {
	keys := o.Keys()
	return func(yield func(K, V) bool) {
		for _, k := range keys {
			v, ok := o.values[k]
			if !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func (o *Ordered[K, V]) Clear() {
	o.keys = nil
	o.values = make(map[K]V)
}
