// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// primitiveNames are the short names XLA uses for element types in human-readable shapes.
var primitiveNames = map[dtypes.DType]string{
	dtypes.Bool:       "pred",
	dtypes.Int8:       "s8",
	dtypes.Int16:      "s16",
	dtypes.Int32:      "s32",
	dtypes.Int64:      "s64",
	dtypes.Uint8:      "u8",
	dtypes.Uint16:     "u16",
	dtypes.Uint32:     "u32",
	dtypes.Uint64:     "u64",
	dtypes.Float16:    "f16",
	dtypes.BFloat16:   "bf16",
	dtypes.Float32:    "f32",
	dtypes.Float64:    "f64",
	dtypes.Complex64:  "c64",
	dtypes.Complex128: "c128",
}

var dtypesByPrimitiveName = func() map[string]dtypes.DType {
	m := make(map[string]dtypes.DType, len(primitiveNames))
	for dtype, name := range primitiveNames {
		m[name] = dtype
	}
	return m
}()

// PrimitiveName returns the short XLA name of the dtype (e.g. "f32" for dtypes.Float32).
// Unknown dtypes are rendered with their DType.String().
func PrimitiveName(dtype dtypes.DType) string {
	if name, found := primitiveNames[dtype]; found {
		return name
	}
	return dtype.String()
}

// DTypeFromPrimitiveName is the inverse of PrimitiveName.
func DTypeFromPrimitiveName(name string) (dtypes.DType, error) {
	dtype, found := dtypesByPrimitiveName[name]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unknown primitive type name %q", name)
	}
	return dtype, nil
}
