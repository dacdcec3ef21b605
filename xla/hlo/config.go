// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"strconv"
	"strings"

	"github.com/gomlx/xlaservice/backends/placer"
	"github.com/gomlx/xlaservice/types/shapes"
)

// ComputationLayout is the layout the entry computation is compiled for: one shape per parameter
// (with or without a layout) and the result shape.
type ComputationLayout struct {
	ParameterLayouts []shapes.Shape
	ResultLayout     shapes.Shape
}

// Clone returns a deep copy.
func (cl ComputationLayout) Clone() ComputationLayout {
	cl2 := ComputationLayout{
		ParameterLayouts: make([]shapes.Shape, len(cl.ParameterLayouts)),
		ResultLayout:     cl.ResultLayout.Clone(),
	}
	for ii, s := range cl.ParameterLayouts {
		cl2.ParameterLayouts[ii] = s.Clone()
	}
	return cl2
}

// String returns the layout as `(f32[2,2]{1,0}, f32[4]) => f32[4]{0}`.
func (cl ComputationLayout) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for ii, s := range cl.ParameterLayouts {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(shapes.HumanStringWithLayout(s))
	}
	sb.WriteString(") => ")
	sb.WriteString(shapes.HumanStringWithLayout(cl.ResultLayout))
	return sb.String()
}

// ModuleConfigOptions holds all the values of a ModuleConfig.
type ModuleConfigOptions struct {
	ProgramShape           ProgramShape
	EntryLayout            ComputationLayout
	ReplicaCount           int
	NumPartitions          int
	UseSPMDPartitioning    bool
	AliasPassthroughParams bool

	// DeviceAssignment is the static assignment of devices, nil if not given.
	DeviceAssignment *placer.DeviceAssignment

	// IntraOpParallelismThreads is the number of threads the backend uses within an op, 0 for
	// the backend default.
	IntraOpParallelismThreads int
}

func (o ModuleConfigOptions) clone() ModuleConfigOptions {
	o.ProgramShape = o.ProgramShape.Clone()
	o.EntryLayout = o.EntryLayout.Clone()
	o.DeviceAssignment = o.DeviceAssignment.Clone()
	return o
}

// ModuleConfig is the configuration a program is compiled with.
//
// It is immutable: it is created with NewModuleConfig and all accessors return copies.
type ModuleConfig struct {
	opts ModuleConfigOptions
}

// NewModuleConfig creates a ModuleConfig with a copy of the given options.
// ReplicaCount and NumPartitions smaller than 1 are set to 1.
func NewModuleConfig(opts ModuleConfigOptions) *ModuleConfig {
	opts = opts.clone()
	opts.ReplicaCount = max(opts.ReplicaCount, 1)
	opts.NumPartitions = max(opts.NumPartitions, 1)
	return &ModuleConfig{opts: opts}
}

// ProgramShape the module was configured for.
func (c *ModuleConfig) ProgramShape() ProgramShape { return c.opts.ProgramShape.Clone() }

// EntryComputationLayout returns the parameter and result layouts of the entry computation.
func (c *ModuleConfig) EntryComputationLayout() ComputationLayout { return c.opts.EntryLayout.Clone() }

// ReplicaCount returns the number of replicas, at least 1.
func (c *ModuleConfig) ReplicaCount() int { return c.opts.ReplicaCount }

// NumPartitions returns the number of partitions, at least 1.
func (c *ModuleConfig) NumPartitions() int { return c.opts.NumPartitions }

// UseSPMDPartitioning returns whether the program is partitioned with SPMD.
func (c *ModuleConfig) UseSPMDPartitioning() bool { return c.opts.UseSPMDPartitioning }

// AliasPassthroughParams returns whether parameters passed through as outputs should be aliased.
func (c *ModuleConfig) AliasPassthroughParams() bool { return c.opts.AliasPassthroughParams }

// HasDeviceAssignment returns whether a static device assignment was given.
func (c *ModuleConfig) HasDeviceAssignment() bool { return c.opts.DeviceAssignment != nil }

// DeviceAssignment returns a copy of the static device assignment, or nil.
func (c *ModuleConfig) DeviceAssignment() *placer.DeviceAssignment {
	return c.opts.DeviceAssignment.Clone()
}

// IntraOpParallelismThreads returns the number of threads used within an op, 0 for the default.
func (c *ModuleConfig) IntraOpParallelismThreads() int { return c.opts.IntraOpParallelismThreads }

// Options returns a copy of all the configuration values, e.g. to serialize them.
func (c *ModuleConfig) Options() ModuleConfigOptions { return c.opts.clone() }

// String implements fmt.Stringer.
func (c *ModuleConfig) String() string {
	var sb strings.Builder
	sb.WriteString("ModuleConfig{layout=")
	sb.WriteString(c.opts.EntryLayout.String())
	sb.WriteString(", replicas=")
	sb.WriteString(strconv.Itoa(c.opts.ReplicaCount))
	sb.WriteString(", partitions=")
	sb.WriteString(strconv.Itoa(c.opts.NumPartitions))
	if c.opts.UseSPMDPartitioning {
		sb.WriteString(", spmd")
	}
	if c.opts.AliasPassthroughParams {
		sb.WriteString(", alias_passthrough")
	}
	sb.WriteString("}")
	return sb.String()
}
