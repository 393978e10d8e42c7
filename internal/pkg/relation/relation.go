// Package relation implements the keyed one-to-many relationship used by every
// container association in the model (agreement to pricing structures, usage
// point to equipment, meter to usage points).
package relation

import (
	"iter"
	"maps"

	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
)

// Collection is an unordered set of T with unique keys. The zero value is not
// usable; build one with New or ByMRID. Backing storage is only allocated while
// the collection holds members.
//
// Collection is not safe for concurrent mutation.
type Collection[T any] struct {
	owner string
	key   func(T) string
	items map[string]T
}

// New returns an empty collection keyed by key. owner names the holding object
// in error messages.
func New[T any](owner string, key func(T) string) Collection[T] {
	return Collection[T]{owner: owner, key: key}
}

// ByMRID returns an empty collection keyed by each member's mRID.
func ByMRID[T identity.IdentifiedObject](owner string) Collection[T] {
	return New(owner, func(item T) string { return item.MRID() })
}

// Add inserts item. A member with the same key leaves the collection untouched
// and returns a DuplicateKeyError.
func (c *Collection[T]) Add(item T) error {
	k := c.key(item)
	if _, exists := c.items[k]; exists {
		return cimerr.DuplicateKeyError{Owner: c.owner, Key: k}
	}
	if c.items == nil {
		c.items = make(map[string]T)
	}
	c.items[k] = item
	return nil
}

// Remove deletes the member sharing item's key.
func (c *Collection[T]) Remove(item T) error {
	return c.RemoveKey(c.key(item))
}

// RemoveKey deletes the member stored under k.
func (c *Collection[T]) RemoveKey(k string) error {
	if _, exists := c.items[k]; !exists {
		return cimerr.NotFoundError{Kind: c.owner, Key: k}
	}
	delete(c.items, k)
	if len(c.items) == 0 {
		c.items = nil
	}
	return nil
}

// Get returns the member stored under k.
func (c *Collection[T]) Get(k string) (T, error) {
	item, ok := c.items[k]
	if !ok {
		var zero T
		return zero, cimerr.NotFoundError{Kind: c.owner, Key: k}
	}
	return item, nil
}

// Contains reports whether a member is stored under k.
func (c *Collection[T]) Contains(k string) bool {
	_, ok := c.items[k]
	return ok
}

// Len returns the number of members.
func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Allocated reports whether the collection currently holds backing storage.
// It is false for a collection that never held members or was emptied.
func (c *Collection[T]) Allocated() bool {
	return c.items != nil
}

// Clear removes every member and releases storage.
func (c *Collection[T]) Clear() {
	c.items = nil
}

// All yields members in unspecified order.
func (c *Collection[T]) All() iter.Seq[T] {
	return maps.Values(c.items)
}

// Keys yields member keys in unspecified order.
func (c *Collection[T]) Keys() iter.Seq[string] {
	return maps.Keys(c.items)
}
