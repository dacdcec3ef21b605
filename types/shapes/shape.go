/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package shapes defines Shape, the descriptor of a value's element type, dimensions and
// (optionally) physical layout, as used by program signatures and argument layouts.
//
// A Shape without a Layout describes only the logical value: two shapes are Compatible if their
// element types and dimensions match, irrespective of layouts. A Layout orders the dimensions in
// memory (minor-to-major), and is only checked when a concrete layout is required, see
// ValidateWithOptionalLayout.
//
// DType is the element type enumeration defined in github.com/gomlx/gopjrt/dtypes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a value.
//   - Axis: the index of a dimension.
//   - Dimension: the size of a value in one of its axes.
//   - Layout: the order of the axes in memory, from the fastest varying (minor) to the slowest (major).
//   - Tuple: a shape composed of other shapes. Tuples have no element type and no layout of their own.
//
// Example: `shapes.Make(dtypes.Float32, 2, 3)` has rank 2, it's human-readable form is `f32[2,3]`,
// and with the default layout, `f32[2,3]{1,0}`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape describes a value: its element DType and its dimensions, or the shapes of its elements if it
// is a tuple. Layout is optional, nil means "no layout requested".
//
// Use Make to create a new shape. See example in package shapes documentation.
type Shape struct {
	DType       dtypes.DType
	Dimensions  []int
	TupleShapes []Shape // Shapes of the tuple, if this is a tuple.
	Layout      *Layout
}

// Make returns a Shape structure filled with the values given, without a layout.
// See MakeTuple for tuple shapes.
//
// It panics for negative dimensions: use a literal Shape{} if you need to describe an invalid shape.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s)
		}
	}
	return s
}

// MakeTuple returns a shape representing a tuple of elements with the given shapes.
func MakeTuple(elements ...Shape) Shape {
	return Shape{DType: dtypes.InvalidDType, TupleShapes: append(make([]Shape, 0, len(elements)), elements...)}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType || len(s.TupleShapes) > 0 }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsTuple returns whether the shape represents a tuple.
func (s Shape) IsTuple() bool {
	return s.DType == dtypes.InvalidDType && s.TupleShapes != nil
}

// TupleSize returns the number of elements in the tuple, if it is a tuple.
func (s Shape) TupleSize() int {
	return len(s.TupleShapes)
}

// HasLayout returns whether a layout was set for the shape.
func (s Shape) HasLayout() bool { return s.Layout != nil }

// String implements stringer, it is the same as HumanStringWithLayout.
func (s Shape) String() string {
	return HumanStringWithLayout(s)
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
// For tuples, it's the sum of the sizes of its elements.
func (s Shape) Size() (size int) {
	if s.IsTuple() {
		for _, element := range s.TupleShapes {
			size += element.Size()
		}
		return
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
// For tuples, it's the sum of the memory of its elements.
func (s Shape) Memory() uintptr {
	if s.IsTuple() {
		var memory uintptr
		for _, element := range s.TupleShapes {
			memory += element.Memory()
		}
		return memory
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype, dimensions and layouts are compared.
// See Compatible to compare shapes irrespective of layouts.
func (s Shape) Equal(s2 Shape) bool {
	if !Compatible(s, s2) {
		return false
	}
	if s.IsTuple() {
		for ii, element := range s.TupleShapes {
			if !element.Equal(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return s.Layout.Equal(s2.Layout)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	if s.TupleShapes != nil {
		s2.TupleShapes = make([]Shape, 0, len(s.TupleShapes))
		for _, subShape := range s.TupleShapes {
			s2.TupleShapes = append(s2.TupleShapes, subShape.Clone())
		}
	}
	s2.Layout = s.Layout.Clone()
	return
}

// WithLayout returns a copy of the shape with the given minor-to-major layout.
// It doesn't validate the layout, see ValidateWithOptionalLayout.
func (s Shape) WithLayout(minorToMajor ...int) Shape {
	s2 := s.Clone()
	s2.Layout = &Layout{MinorToMajor: slices.Clone(minorToMajor)}
	return s2
}

// WithDefaultLayout returns a copy of the shape (and of its tuple elements) with the default layout
// set, see DefaultLayout.
func (s Shape) WithDefaultLayout() Shape {
	s2 := s.Clone()
	if s2.IsTuple() {
		for ii, element := range s2.TupleShapes {
			s2.TupleShapes[ii] = element.WithDefaultLayout()
		}
		return s2
	}
	s2.Layout = DefaultLayout(s2.Rank())
	return s2
}

// joinInts formats a list of ints separated by commas, with no spaces.
func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}
