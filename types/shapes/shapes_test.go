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

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.False(t, shape0.IsTuple())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsTuple())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.False(t, shape1.HasLayout())

	tuple := MakeTuple(shape0, shape1)
	require.True(t, tuple.Ok())
	require.True(t, tuple.IsTuple())
	require.Equal(t, 2, tuple.TupleSize())
	require.Equal(t, 8+4*4*3*2, int(tuple.Memory()))

	require.Panics(t, func() { _ = Make(dtypes.Float32, 2, -1) })
}

func TestLayouts(t *testing.T) {
	require.Equal(t, []int{2, 1, 0}, DefaultLayout(3).MinorToMajor)
	require.Empty(t, DefaultLayout(0).MinorToMajor)

	shape := Make(dtypes.Float32, 2, 3)
	withLayout := shape.WithLayout(0, 1)
	require.False(t, shape.HasLayout(), "WithLayout must not change the original shape")
	require.True(t, withLayout.HasLayout())
	require.Equal(t, "f32[2,3]{0,1}", withLayout.String())
	require.Equal(t, "f32[2,3]{1,0}", shape.WithDefaultLayout().String())

	// Equal takes layouts into account, Compatible doesn't.
	assert.False(t, shape.Equal(withLayout))
	assert.True(t, Compatible(shape, withLayout))
	assert.True(t, withLayout.Equal(shape.WithLayout(0, 1)))

	clone := withLayout.Clone()
	clone.Layout.MinorToMajor[0] = 1
	require.Equal(t, []int{0, 1}, withLayout.Layout.MinorToMajor, "Clone must be a deep copy")
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible(Make(dtypes.Float32, 2, 2), Make(dtypes.Float32, 2, 2)))
	assert.False(t, Compatible(Make(dtypes.Float32, 4), Make(dtypes.Float32, 3)))
	assert.False(t, Compatible(Make(dtypes.Float32, 4), Make(dtypes.Float64, 4)))
	assert.False(t, Compatible(Make(dtypes.Float32, 4), Make(dtypes.Float32, 4, 1)))
	assert.True(t, Compatible(Make(dtypes.Int32), Make(dtypes.Int32)))

	t1 := MakeTuple(Make(dtypes.Float32, 2), Make(dtypes.Bool))
	t2 := MakeTuple(Make(dtypes.Float32, 2).WithLayout(0), Make(dtypes.Bool))
	assert.True(t, Compatible(t1, t2))
	assert.False(t, Compatible(t1, MakeTuple(Make(dtypes.Float32, 2))))
	assert.False(t, Compatible(t1, Make(dtypes.Float32, 2)))
	assert.False(t, Compatible(Make(dtypes.Float32, 2), t1))
}

func TestValidateWithOptionalLayout(t *testing.T) {
	require.NoError(t, ValidateWithOptionalLayout(Make(dtypes.Float32, 2, 3)))
	require.NoError(t, ValidateWithOptionalLayout(Make(dtypes.Float32, 2, 3).WithLayout(0, 1)))
	require.NoError(t, ValidateWithOptionalLayout(Make(dtypes.Float32)))
	require.NoError(t, ValidateWithOptionalLayout(MakeTuple(Make(dtypes.Float32, 2).WithLayout(0), Make(dtypes.Bool))))

	for name, shape := range map[string]Shape{
		"invalid dtype":          Invalid(),
		"negative dimension":     {DType: dtypes.Float32, Dimensions: []int{2, -1}},
		"layout rank mismatch":   Make(dtypes.Float32, 2, 3).WithLayout(0),
		"layout out-of-bounds":   Make(dtypes.Float32, 2, 3).WithLayout(0, 2),
		"layout duplicate axes":  Make(dtypes.Float32, 2, 3).WithLayout(1, 1),
		"tuple with layout":      {DType: dtypes.InvalidDType, TupleShapes: []Shape{Make(dtypes.Float32, 2)}, Layout: &Layout{}},
		"tuple with bad element": MakeTuple(Make(dtypes.Float32, 2).WithLayout(0, 1)),
	} {
		err := ValidateWithOptionalLayout(shape)
		require.Errorf(t, err, "%s: expected a validation error for %#v", name, shape)
		assert.Equalf(t, status.InvalidShape, status.KindOf(err), "%s: wrong kind for %v", name, err)
	}
}

func TestHumanString(t *testing.T) {
	assert.Equal(t, "f32[2,2]", HumanString(Make(dtypes.Float32, 2, 2)))
	assert.Equal(t, "f32[4]", HumanString(Make(dtypes.Float32, 4).WithLayout(0)))
	assert.Equal(t, "s32[]", HumanString(Make(dtypes.Int32)))
	assert.Equal(t, "(f32[2], pred[])", HumanString(MakeTuple(Make(dtypes.Float32, 2), Make(dtypes.Bool))))
	assert.Equal(t, "(f32[2]{0}, pred[])", HumanStringWithLayout(MakeTuple(Make(dtypes.Float32, 2).WithLayout(0), Make(dtypes.Bool))))
	assert.Equal(t, "bf16[1,2,3]", HumanString(Make(dtypes.BFloat16, 1, 2, 3)))
	assert.Equal(t, "invalid", HumanString(Invalid()))
	assert.Equal(t, "()", HumanString(MakeTuple()))
}

func TestParse(t *testing.T) {
	for _, text := range []string{
		"f32[2,2]", "f32[2,2]{0,1}", "s32[]", "(f32[2], pred[])", "(f32[2]{0}, (u8[3], c64[]))", "()",
	} {
		s, err := Parse(text)
		require.NoErrorf(t, err, "failed to parse %q", text)
		assert.Equal(t, text, HumanStringWithLayout(s))
	}

	s, err := Parse(" f64[ 4 , 5 ] { 1, 0 } ")
	require.NoError(t, err)
	assert.True(t, s.Equal(Make(dtypes.Float64, 4, 5).WithDefaultLayout()))

	for _, text := range []string{"", "x32[2]", "f32", "f32[2", "f32[a]", "(f32[2]", "f32[2]{0", "f32[2] extra"} {
		_, err := Parse(text)
		assert.Errorf(t, err, "expected error parsing %q", text)
	}
}

func TestPrimitiveNames(t *testing.T) {
	for dtype, name := range primitiveNames {
		got, err := DTypeFromPrimitiveName(name)
		require.NoError(t, err)
		assert.Equal(t, dtype, got)
		assert.Equal(t, name, PrimitiveName(dtype))
	}
	_, err := DTypeFromPrimitiveName("f31")
	require.Error(t, err)
}
