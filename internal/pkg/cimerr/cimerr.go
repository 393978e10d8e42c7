// Package cimerr defines the error kinds raised by the network model and the
// metrics store, and maps them onto canonical RPC codes for transports.
package cimerr

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/code"
)

// DuplicateIdentifierError is returned when an mRID is registered twice in an
// identity registry.
type DuplicateIdentifierError struct {
	MRID string
}

func (e DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("identifier %q is already registered", e.MRID)
}

// DuplicateKeyError is returned when a relationship collection already holds a
// member with the same key.
type DuplicateKeyError struct {
	Owner string
	Key   string
}

func (e DuplicateKeyError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("key %q already exists", e.Key)
	}
	return fmt.Sprintf("key %q already exists in %s", e.Key, e.Owner)
}

// NotFoundError is returned on lookup or removal of an absent key.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%q not found", e.Key)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// AlreadyOwnedError is returned when an exclusive owning link that is already
// set is reassigned to a different owner.
type AlreadyOwnedError struct {
	MRID     string
	Owner    string
	Proposed string
}

func (e AlreadyOwnedError) Error() string {
	return fmt.Sprintf("%s is already owned by %s, cannot reassign to %s", e.MRID, e.Owner, e.Proposed)
}

// UnknownDiscriminantError is returned when a stream record carries none of the
// known payload kinds.
type UnknownDiscriminantError struct {
	Tag string
}

func (e UnknownDiscriminantError) Error() string {
	if e.Tag == "" {
		return "record has no payload set"
	}
	return fmt.Sprintf("record payload %q is not a known kind", e.Tag)
}

// Code maps err onto a canonical RPC code. Unrecognised errors map to
// code.Code_UNKNOWN and nil maps to code.Code_OK.
func Code(err error) code.Code {
	if err == nil {
		return code.Code_OK
	}

	var dupID DuplicateIdentifierError
	var dupKey DuplicateKeyError
	var notFound NotFoundError
	var owned AlreadyOwnedError
	var unknown UnknownDiscriminantError

	switch {
	case errors.As(err, &dupID), errors.As(err, &dupKey):
		return code.Code_ALREADY_EXISTS
	case errors.As(err, &notFound):
		return code.Code_NOT_FOUND
	case errors.As(err, &owned):
		return code.Code_FAILED_PRECONDITION
	case errors.As(err, &unknown):
		return code.Code_INVALID_ARGUMENT
	}
	return code.Code_UNKNOWN
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
