// Package records holds a record-style list: copying it copies its elements
// through a clone.Cloner, so a copy never aliases clone-capable elements of
// the original.
package records

import "recordpatch/internal/clone"

// List is an ordered collection with value-style copy semantics.
type List[T any] struct {
	items  []T
	cloner *clone.Cloner
}

// NewList creates a list using the process-wide cloner.
func NewList[T any](items ...T) *List[T] {
	return NewListWith(clone.Shared(), items...)
}

// NewListWith creates a list whose copies use cloner. A nil cloner makes
// copies shallow.
func NewListWith[T any](cloner *clone.Cloner, items ...T) *List[T] {
	return &List[T]{items: append([]T(nil), items...), cloner: cloner}
}

// CopyList is the copy constructor: a new list holding a clone of every
// element of original that can be cloned, and the element itself otherwise.
func CopyList[T any](original *List[T]) *List[T] {
	if original == nil {
		return nil
	}
	out := &List[T]{items: make([]T, len(original.items)), cloner: original.cloner}
	for i, v := range original.items {
		out.items[i] = clone.TryCloneOf(original.cloner, v)
	}
	return out
}

// Clone returns CopyList(l). Lists are therefore themselves clone-capable
// elements, and nested lists are copied all the way down.
func (l *List[T]) Clone() *List[T] { return CopyList(l) }

func (l *List[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

func (l *List[T]) At(i int) T { return l.items[i] }

func (l *List[T]) Append(v ...T) { l.items = append(l.items, v...) }

// Items returns a copy of the backing slice.
func (l *List[T]) Items() []T { return append([]T(nil), l.items...) }

// Equal compares element-wise with eq.
func (l *List[T]) Equal(other *List[T], eq func(a, b T) bool) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := 0; i < l.Len(); i++ {
		if !eq(l.items[i], other.items[i]) {
			return false
		}
	}
	return true
}
