// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlo holds the serialized form of programs given to the compilation service, and the
// configuration used to compile them.
//
// A ModuleProto is a computation graph: a list of computations, one of them the entry
// computation, plus the declared "host program shape" (the signature: parameter and result
// shapes). The service itself only reads the signature and the parameter instructions' metadata,
// the rest is opaque and handed over to the backend compiler.
package hlo

import (
	"slices"

	"github.com/gomlx/xlaservice/types/shapes"
)

// OpcodeParameter is the opcode of the instructions that read the computation parameters.
const OpcodeParameter = "parameter"

// ModuleProto is the serialized program.
type ModuleProto struct {
	Name               string
	ID                 int64
	EntryComputationID int64
	Computations       []*ComputationProto

	// HostProgramShape is the declared signature of the entry computation.
	// A program without it is malformed.
	HostProgramShape *ProgramShape
}

// ComputationProto is one computation (a function) in a ModuleProto.
type ComputationProto struct {
	ID           int64
	Name         string
	Instructions []*InstructionProto
	RootID       int64
}

// InstructionProto is one node of a computation.
type InstructionProto struct {
	ID       int64
	Name     string
	Opcode   string
	Shape    shapes.Shape
	Operands []int64

	// ParameterNumber is only meaningful for OpcodeParameter instructions.
	ParameterNumber int

	// Metadata is optional provenance information, nil if absent.
	Metadata *OpMetadata
}

// OpMetadata is the provenance of an instruction: which op and which source line created it.
type OpMetadata struct {
	OpType     string
	OpName     string
	SourceFile string
	SourceLine int
}

// ProgramShape is the signature of a program: parameter shapes (with names) and result shape.
type ProgramShape struct {
	Parameters     []shapes.Shape
	ParameterNames []string
	Result         shapes.Shape
}

// NumParameters returns the number of declared parameters.
func (ps ProgramShape) NumParameters() int {
	return len(ps.Parameters)
}

// Clone returns a deep copy of the program shape.
func (ps ProgramShape) Clone() ProgramShape {
	ps2 := ProgramShape{
		Parameters:     make([]shapes.Shape, len(ps.Parameters)),
		ParameterNames: slices.Clone(ps.ParameterNames),
		Result:         ps.Result.Clone(),
	}
	for ii, param := range ps.Parameters {
		ps2.Parameters[ii] = param.Clone()
	}
	return ps2
}

// String returns the signature in the format `(a: f32[2], b: s32[]) -> f32[2]`.
func (ps ProgramShape) String() string {
	s := "("
	for ii, param := range ps.Parameters {
		if ii > 0 {
			s += ", "
		}
		if ii < len(ps.ParameterNames) && ps.ParameterNames[ii] != "" {
			s += ps.ParameterNames[ii] + ": "
		}
		s += shapes.HumanStringWithLayout(param)
	}
	return s + ") -> " + shapes.HumanStringWithLayout(ps.Result)
}
