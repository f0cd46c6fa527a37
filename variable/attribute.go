// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package variable

import "github.com/stride-data/stride/lib/dtype"

// Attribute is a step-less typed constant: a scalar or 1-D vector
// bound to the IO context or to one variable. Data holds the elements
// in native byte order.
type Attribute struct {
	// Name is the attribute name, unique within its scope.
	Name string `cbor:"name"`

	// Of names the owning variable, or "" for IO scope.
	Of string `cbor:"of,omitempty"`

	// Type is the element type code.
	Type dtype.Code `cbor:"type"`

	// Elements is the vector length; 1 for scalars.
	Elements int `cbor:"elements"`

	// Data is Elements * Type.Size() bytes in native order.
	Data []byte `cbor:"data"`

	// Scalar distinguishes a declared scalar from a one-element
	// vector in listings.
	Scalar bool `cbor:"scalar,omitempty"`
}

// key returns the map key scoping an attribute to its variable. The
// separator cannot collide with variable names because it is not a
// valid name character for the owning side of the pair.
func (a Attribute) key() string {
	if a.Of == "" {
		return a.Name
	}
	return a.Of + "\x00" + a.Name
}

// Value returns the raw bytes of element i. Tools render them with
// dtype.Format.
func (a *Attribute) Value(i int) []byte {
	size := a.Type.Size()
	return a.Data[i*size : (i+1)*size]
}
