// Package identity provides the mRID-identified object primitive and the
// registry that guarantees global uniqueness of identifiers within a model.
package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
)

// IdentifiedObject is any model object carrying a master resource identifier.
type IdentifiedObject interface {
	MRID() string
	Name() string
}

// Base implements IdentifiedObject and is embedded by every model type.
// The mRID cannot be changed after construction.
type Base struct {
	mrid string
	name string
}

// NewBase returns a Base for mrid. An empty mrid is replaced with a random UUID.
func NewBase(mrid, name string) Base {
	if mrid == "" {
		mrid = uuid.New().String()
	}
	return Base{mrid: mrid, name: name}
}

// MRID returns the object's master resource identifier.
func (b Base) MRID() string {
	return b.mrid
}

// Name returns the human readable name, which may be empty.
func (b Base) Name() string {
	return b.name
}

// SetName updates the human readable name.
func (b *Base) SetName(name string) {
	b.name = name
}

// Registry maps mRIDs to objects.
type Registry struct {
	mux     *sync.RWMutex
	objects map[string]IdentifiedObject
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mux:     &sync.RWMutex{},
		objects: make(map[string]IdentifiedObject),
	}
}

// Register adds obj under its mRID.
func (r *Registry) Register(obj IdentifiedObject) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	mrid := obj.MRID()
	if _, exists := r.objects[mrid]; exists {
		return cimerr.DuplicateIdentifierError{MRID: mrid}
	}
	r.objects[mrid] = obj
	return nil
}

// Lookup returns the object registered under mrid.
func (r *Registry) Lookup(mrid string) (IdentifiedObject, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	obj, ok := r.objects[mrid]
	if !ok {
		return nil, cimerr.NotFoundError{Kind: "IdentifiedObject", Key: mrid}
	}
	return obj, nil
}

// Contains reports whether mrid is registered.
func (r *Registry) Contains(mrid string) bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	_, ok := r.objects[mrid]
	return ok
}

// Remove drops mrid from the registry.
func (r *Registry) Remove(mrid string) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, ok := r.objects[mrid]; !ok {
		return cimerr.NotFoundError{Kind: "IdentifiedObject", Key: mrid}
	}
	delete(r.objects, mrid)
	return nil
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.objects)
}

// LookupAs returns the object registered under mrid if it has type T.
// An object of another type is reported as not found.
func LookupAs[T IdentifiedObject](r *Registry, mrid string) (T, error) {
	var zero T
	obj, err := r.Lookup(mrid)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, cimerr.NotFoundError{Kind: fmt.Sprintf("%T", zero), Key: mrid}
	}
	return typed, nil
}
