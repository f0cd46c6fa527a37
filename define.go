// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package stride

import (
	"github.com/stride-data/stride/lib/box"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/variable"
)

// DefineVariable declares a variable of element type T on io. The
// shape arguments select the class:
//
//   - shape set: a global array with extents shape; start and count
//     give this peer's initial selection (both may be nil and set
//     later with SetSelection). A box.JoinedDim extent marks the
//     dimension assembled by concatenation across peers.
//   - shape nil, count set: a local array contributing a block of
//     extents count per step.
//   - shape, start, and count all nil: a global value, one scalar
//     every peer must agree on.
//
// constantDims freezes the shape and selection for the variable's
// lifetime. Redeclaring a name with the same element type returns the
// existing handle; a different type is rejected.
func DefineVariable[T dtype.Element](io *IO, name string, shape, start, count []uint64, constantDims bool) (*variable.Variable, error) {
	typ := dtype.Classify[T]()
	switch {
	case len(shape) > 0:
		return io.store.Declare(name, typ, variable.GlobalArray, shape, box.New(start, count), constantDims)
	case len(count) > 0:
		return io.store.Declare(name, typ, variable.LocalArray, nil, box.New(start, count), constantDims)
	case len(start) > 0:
		return nil, sterr.InvalidArgumentf("stride.DefineVariable",
			"%s: start without shape or count selects no class", name)
	default:
		return io.store.Declare(name, typ, variable.GlobalValue, nil, box.Box{}, constantDims)
	}
}

// DefineLocalValue declares a per-peer scalar: each peer contributes
// one value per step, and readers receive a vector indexed by rank.
func DefineLocalValue[T dtype.Element](io *IO, name string) (*variable.Variable, error) {
	return io.store.Declare(name, dtype.Classify[T](), variable.LocalValue, nil, box.Box{}, false)
}

// InquireVariables returns every declared variable of element type T,
// sorted by name. This is the by-type discovery path of readers; the
// by-name path is IO.InquireVariable.
func InquireVariables[T dtype.Element](io *IO) []*variable.Variable {
	return io.store.InquireByCode(dtype.Classify[T]())
}

// DefineAttribute binds a step-less scalar constant to the IO, or to
// one variable when of names it. Redefining with identical content is
// a no-op.
func DefineAttribute[T dtype.Element](io *IO, name string, value T, of ...string) (*variable.Attribute, error) {
	owner, err := attrOwner("stride.DefineAttribute", of)
	if err != nil {
		return nil, err
	}
	return io.store.DefineAttribute(variable.Attribute{
		Name:     name,
		Of:       owner,
		Type:     dtype.Classify[T](),
		Elements: 1,
		Data:     dtype.Bytes([]T{value}),
		Scalar:   true,
	})
}

// DefineAttributeVector binds a step-less 1-D constant vector to the
// IO, or to one variable when of names it.
func DefineAttributeVector[T dtype.Element](io *IO, name string, values []T, of ...string) (*variable.Attribute, error) {
	owner, err := attrOwner("stride.DefineAttributeVector", of)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, sterr.InvalidArgumentf("stride.DefineAttributeVector", "%s: attribute vector is empty", name)
	}
	return io.store.DefineAttribute(variable.Attribute{
		Name:     name,
		Of:       owner,
		Type:     dtype.Classify[T](),
		Elements: len(values),
		Data:     dtype.Bytes(values),
	})
}

func attrOwner(op string, of []string) (string, error) {
	switch len(of) {
	case 0:
		return "", nil
	case 1:
		return of[0], nil
	default:
		return "", sterr.InvalidArgumentf(op, "an attribute has at most one owning variable, got %d", len(of))
	}
}
