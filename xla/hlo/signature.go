// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/exceptions"
)

// HasHostProgramShape returns whether the program declares its signature.
func (m *ModuleProto) HasHostProgramShape() bool {
	return m != nil && m.HostProgramShape != nil
}

// ProgramShape returns a copy of the declared signature of the program.
//
// It panics if the program doesn't declare one, see HasHostProgramShape.
func (m *ModuleProto) ProgramShape() ProgramShape {
	if !m.HasHostProgramShape() {
		exceptions.Panicf("hlo: program %q has no host program shape", m.nameOrNil())
	}
	return m.HostProgramShape.Clone()
}

// EntryComputation returns the entry computation, or nil if it is not present.
func (m *ModuleProto) EntryComputation() *ComputationProto {
	if m == nil {
		return nil
	}
	for _, comp := range m.Computations {
		if comp.ID == m.EntryComputationID {
			return comp
		}
	}
	return nil
}

// ParameterMetadata returns the metadata of the entry computation's instruction reading the given
// parameter.
//
// It returns nil if the parameter number is invalid or if the instruction has no metadata:
// absent metadata is legal.
func (m *ModuleProto) ParameterMetadata(parameterNumber int) *OpMetadata {
	if m.HasHostProgramShape() && !inRange(parameterNumber, m.HostProgramShape.NumParameters()) {
		return nil
	}
	entry := m.EntryComputation()
	if entry == nil {
		return nil
	}
	for _, instr := range entry.Instructions {
		if instr.Opcode == OpcodeParameter && instr.ParameterNumber == parameterNumber {
			return instr.Metadata
		}
	}
	return nil
}

func (m *ModuleProto) nameOrNil() string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}
