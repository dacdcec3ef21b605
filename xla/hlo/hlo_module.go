// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Module is a program paired with the configuration it is to be compiled with.
// It is what backend compilers consume.
type Module struct {
	proto  *ModuleProto
	config *ModuleConfig
	passes []string
}

// NewModule creates a Module from the program and its configuration.
//
// It returns an error if the number of parameters of the configuration doesn't match the
// program's entry computation.
func NewModule(proto *ModuleProto, config *ModuleConfig) (*Module, error) {
	if proto == nil || config == nil {
		exceptions.Panicf("hlo.NewModule: nil program or configuration")
	}
	if !proto.HasHostProgramShape() {
		return nil, errors.Errorf("program %q has no host program shape", proto.Name)
	}
	numParams := proto.HostProgramShape.NumParameters()
	numLayouts := len(config.opts.EntryLayout.ParameterLayouts)
	if numParams != numLayouts {
		return nil, errors.Errorf("program %q has %d parameters, but the configuration has %d parameter layouts",
			proto.Name, numParams, numLayouts)
	}
	return &Module{proto: proto, config: config}, nil
}

// Name of the module, taken from the program.
func (m *Module) Name() string { return m.proto.Name }

// Proto returns the program. It must not be modified.
func (m *Module) Proto() *ModuleProto { return m.proto }

// Config returns the configuration of the module.
func (m *Module) Config() *ModuleConfig { return m.config }

// WithPasses returns a copy of the module marked as having gone through the given passes.
func (m *Module) WithPasses(passes ...string) *Module {
	m2 := *m
	m2.passes = append(slices.Clone(m.passes), passes...)
	return &m2
}

// Passes returns the names of the optimization passes already run on the module.
func (m *Module) Passes() []string { return slices.Clone(m.passes) }

// IsOptimized returns whether any optimization pass was run on the module.
func (m *Module) IsOptimized() bool { return len(m.passes) > 0 }
