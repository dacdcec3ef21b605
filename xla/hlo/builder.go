// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ModuleBuilder authors a single-computation program.
//
// Example:
//
//	b := hlo.NewModuleBuilder("add")
//	x := b.Parameter("x", shapes.Make(dtypes.Float32, 4), nil)
//	y := b.Parameter("y", shapes.Make(dtypes.Float32, 4), nil)
//	b.Op("add", shapes.Make(dtypes.Float32, 4), x, y)
//	module, err := b.Build()
type ModuleBuilder struct {
	name         string
	instructions []*InstructionProto
	paramShapes  []shapes.Shape
	paramNames   []string
	err          error
}

// NewModuleBuilder starts a new program with the given name.
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{name: name}
}

// Parameter adds the next parameter of the program and returns the id of its instruction.
// The metadata is optional and can be nil.
func (b *ModuleBuilder) Parameter(name string, shape shapes.Shape, metadata *OpMetadata) int64 {
	id := int64(len(b.instructions))
	if metadata != nil {
		metadataCopy := *metadata
		metadata = &metadataCopy
	}
	b.instructions = append(b.instructions, &InstructionProto{
		ID:              id,
		Name:            name,
		Opcode:          OpcodeParameter,
		Shape:           shape.Clone(),
		ParameterNumber: len(b.paramShapes),
		Metadata:        metadata,
	})
	b.paramShapes = append(b.paramShapes, shape.Clone())
	b.paramNames = append(b.paramNames, name)
	return id
}

// Op adds an instruction with the given opcode, output shape and operands, and returns its id.
// The last instruction added is the root of the program.
func (b *ModuleBuilder) Op(opcode string, shape shapes.Shape, operands ...int64) int64 {
	id := int64(len(b.instructions))
	if opcode == OpcodeParameter {
		b.setErr(errors.Errorf("use ModuleBuilder.Parameter to add parameters"))
	}
	for _, operand := range operands {
		if !inRange(operand, id) {
			b.setErr(errors.Errorf("instruction #%d (%s) has invalid operand %d", id, opcode, operand))
		}
	}
	b.instructions = append(b.instructions, &InstructionProto{
		ID:       id,
		Name:     opcode,
		Opcode:   opcode,
		Shape:    shape.Clone(),
		Operands: append([]int64(nil), operands...),
	})
	return id
}

// inRange returns whether index addresses one of count elements.
func inRange[T constraints.Integer](index, count T) bool {
	return index >= 0 && index < count
}

func (b *ModuleBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the program, with its host program shape set from the parameters and the
// shape of the last instruction.
func (b *ModuleBuilder) Build() (*ModuleProto, error) {
	if b.err != nil {
		return nil, errors.WithMessagef(b.err, "building program %q", b.name)
	}
	if len(b.instructions) == 0 {
		return nil, errors.Errorf("program %q has no instructions", b.name)
	}
	root := b.instructions[len(b.instructions)-1]
	entry := &ComputationProto{
		ID:           1,
		Name:         b.name + ".entry",
		Instructions: b.instructions,
		RootID:       root.ID,
	}
	m := &ModuleProto{
		Name:               b.name,
		ID:                 1,
		EntryComputationID: entry.ID,
		Computations:       []*ComputationProto{entry},
		HostProgramShape: &ProgramShape{
			Parameters:     b.paramShapes,
			ParameterNames: b.paramNames,
			Result:         root.Shape.Clone(),
		},
	}
	*b = ModuleBuilder{name: b.name}
	return m, nil
}
