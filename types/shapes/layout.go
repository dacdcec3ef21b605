// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/xla/status"
)

// Layout describes how the axes of an array are ordered in memory.
//
// MinorToMajor lists the axes from the fastest varying (minor) to the slowest varying (major).
// The usual row-major layout of a rank-3 array is {2,1,0}, see DefaultLayout.
type Layout struct {
	MinorToMajor []int
}

// DefaultLayout returns the row-major layout for the given rank: {rank-1, ..., 1, 0}.
func DefaultLayout(rank int) *Layout {
	minorToMajor := make([]int, rank)
	for ii := range minorToMajor {
		minorToMajor[ii] = rank - 1 - ii
	}
	return &Layout{MinorToMajor: minorToMajor}
}

// Clone returns a deep copy of the layout, or nil if l is nil.
func (l *Layout) Clone() *Layout {
	if l == nil {
		return nil
	}
	return &Layout{MinorToMajor: slices.Clone(l.MinorToMajor)}
}

// Equal returns whether both layouts are the same. Two nil layouts are equal.
func (l *Layout) Equal(l2 *Layout) bool {
	if l == nil || l2 == nil {
		return l == nil && l2 == nil
	}
	return slices.Equal(l.MinorToMajor, l2.MinorToMajor)
}

// String returns the layout in the `{1,0}` format.
func (l *Layout) String() string {
	if l == nil {
		return ""
	}
	return "{" + joinInts(l.MinorToMajor) + "}"
}

// Compatible returns whether two shapes describe the same logical value: same element type and
// dimensions (recursively for tuples), irrespective of layouts.
func Compatible(s1, s2 Shape) bool {
	if s1.IsTuple() || s2.IsTuple() {
		if !s1.IsTuple() || !s2.IsTuple() || s1.TupleSize() != s2.TupleSize() {
			return false
		}
		for ii, element := range s1.TupleShapes {
			if !Compatible(element, s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return s1.DType == s2.DType && slices.Equal(s1.Dimensions, s2.Dimensions)
}

// ValidateWithOptionalLayout checks that the shape is structurally valid: a known element type,
// non-negative dimensions, and -- if a layout is present -- a layout consistent with the shape.
//
// Tuples are validated recursively and must not carry a layout of their own.
// It returns an InvalidShape error describing the first problem found.
func ValidateWithOptionalLayout(s Shape) error {
	if s.IsTuple() {
		if s.Layout != nil {
			return status.InvalidArgumentf(status.InvalidShape,
				"tuple shape should not have a layout field: %s", s)
		}
		for ii, element := range s.TupleShapes {
			if err := ValidateWithOptionalLayout(element); err != nil {
				return status.WithKind(err, status.INVALID_ARGUMENT, status.InvalidShape,
					"tuple element %d", ii)
			}
		}
		return nil
	}
	if s.DType == dtypes.InvalidDType {
		return status.InvalidArgumentf(status.InvalidShape, "shape has an invalid element type")
	}
	if _, found := primitiveNames[s.DType]; !found {
		return status.InvalidArgumentf(status.InvalidShape,
			"shape has an unsupported element type %s", s.DType)
	}
	for _, dim := range s.Dimensions {
		if dim < 0 {
			return status.InvalidArgumentf(status.InvalidShape,
				"shape's dimensions must not be < 0; bad shape: %s", HumanString(s))
		}
	}
	if s.Layout == nil {
		return nil
	}
	minorToMajor := s.Layout.MinorToMajor
	if len(minorToMajor) != s.Rank() {
		return status.InvalidArgumentf(status.InvalidShape,
			"layout minor_to_major field contains %d elements, but shape is rank %d: %s; shape: %s",
			len(minorToMajor), s.Rank(), s.Layout, HumanString(s))
	}
	seen := make([]bool, s.Rank())
	for _, axis := range minorToMajor {
		if axis < 0 || axis >= s.Rank() {
			return status.InvalidArgumentf(status.InvalidShape,
				"layout minor_to_major field has out-of-bounds value: %s; shape: %s", s.Layout, HumanString(s))
		}
		if seen[axis] {
			return status.InvalidArgumentf(status.InvalidShape,
				"layout minor_to_major field has duplicate values: %s; shape: %s", s.Layout, HumanString(s))
		}
		seen[axis] = true
	}
	return nil
}
