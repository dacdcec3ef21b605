// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package status

import "fmt"

// Code is the canonical error code carried by every Error, with the same values used by XLA's Status objects.
type Code int

// Values copied from tensorflow/core/protobuf/error_codes.proto.
const (
	OK                  Code = 0
	CANCELLED           Code = 1
	UNKNOWN             Code = 2
	INVALID_ARGUMENT    Code = 3
	DEADLINE_EXCEEDED   Code = 4
	NOT_FOUND           Code = 5
	ALREADY_EXISTS      Code = 6
	PERMISSION_DENIED   Code = 7
	RESOURCE_EXHAUSTED  Code = 8
	FAILED_PRECONDITION Code = 9
	ABORTED             Code = 10
	OUT_OF_RANGE        Code = 11
	UNIMPLEMENTED       Code = 12
	INTERNAL            Code = 13
	UNAVAILABLE         Code = 14
	DATA_LOSS           Code = 15
	UNAUTHENTICATED     Code = 16
)

var codeNames = map[Code]string{
	OK:                  "OK",
	CANCELLED:           "CANCELLED",
	UNKNOWN:             "UNKNOWN",
	INVALID_ARGUMENT:    "INVALID_ARGUMENT",
	DEADLINE_EXCEEDED:   "DEADLINE_EXCEEDED",
	NOT_FOUND:           "NOT_FOUND",
	ALREADY_EXISTS:      "ALREADY_EXISTS",
	PERMISSION_DENIED:   "PERMISSION_DENIED",
	RESOURCE_EXHAUSTED:  "RESOURCE_EXHAUSTED",
	FAILED_PRECONDITION: "FAILED_PRECONDITION",
	ABORTED:             "ABORTED",
	OUT_OF_RANGE:        "OUT_OF_RANGE",
	UNIMPLEMENTED:       "UNIMPLEMENTED",
	INTERNAL:            "INTERNAL",
	UNAVAILABLE:         "UNAVAILABLE",
	DATA_LOSS:           "DATA_LOSS",
	UNAUTHENTICATED:     "UNAUTHENTICATED",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, found := codeNames[c]; found {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}
