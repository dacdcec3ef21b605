// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xla

import (
	"fmt"
	"strings"

	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/backends/placer"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/gomlx/xlaservice/xla/status"
)

// ExecutableBuildOptions configure the compilation of a program.
//
// Create it with NewExecutableBuildOptions and chain the With* methods:
//
//	options := xla.NewExecutableBuildOptions().WithNumPartitions(4).WithDeviceOrdinal(1)
type ExecutableBuildOptions struct {
	deviceOrdinal          int
	numReplicas            int
	numPartitions          int
	resultLayout           *shapes.Shape
	deviceAllocator        backends.DeviceAllocator
	compileThreadPool      backends.ThreadPool
	runBackendOnly         bool
	useSPMDPartitioning    bool
	deviceAssignment       *placer.DeviceAssignment
	aliasPassthroughParams bool
}

// NewExecutableBuildOptions returns the default options: default device, 1 replica and 1 partition.
func NewExecutableBuildOptions() *ExecutableBuildOptions {
	return &ExecutableBuildOptions{
		deviceOrdinal: -1,
		numReplicas:   1,
		numPartitions: 1,
	}
}

// WithDeviceOrdinal sets the device to compile for. -1 uses the backend's default device.
func (o *ExecutableBuildOptions) WithDeviceOrdinal(deviceOrdinal int) *ExecutableBuildOptions {
	o.deviceOrdinal = deviceOrdinal
	return o
}

// WithNumReplicas sets the number of replicas the program will run with.
func (o *ExecutableBuildOptions) WithNumReplicas(numReplicas int) *ExecutableBuildOptions {
	o.numReplicas = numReplicas
	return o
}

// WithNumPartitions sets the number of partitions: one compiled artifact is produced per partition.
func (o *ExecutableBuildOptions) WithNumPartitions(numPartitions int) *ExecutableBuildOptions {
	o.numPartitions = numPartitions
	return o
}

// WithResultLayout requests a layout for the result. The shape must be compatible with the
// program's result.
func (o *ExecutableBuildOptions) WithResultLayout(resultLayout shapes.Shape) *ExecutableBuildOptions {
	clone := resultLayout.Clone()
	o.resultLayout = &clone
	return o
}

// WithDeviceAllocator sets the allocator the compiler may use during compilation.
func (o *ExecutableBuildOptions) WithDeviceAllocator(allocator backends.DeviceAllocator) *ExecutableBuildOptions {
	o.deviceAllocator = allocator
	return o
}

// WithCompileThreadPool sets the pool the compiler may use to parallelize compilation.
func (o *ExecutableBuildOptions) WithCompileThreadPool(pool backends.ThreadPool) *ExecutableBuildOptions {
	o.compileThreadPool = pool
	return o
}

// WithRunBackendOnly skips the optimization passes: the program is assumed to be already optimized.
func (o *ExecutableBuildOptions) WithRunBackendOnly(runBackendOnly bool) *ExecutableBuildOptions {
	o.runBackendOnly = runBackendOnly
	return o
}

// WithSPMDPartitioning sets whether partitions are generated with SPMD partitioning.
func (o *ExecutableBuildOptions) WithSPMDPartitioning(useSPMD bool) *ExecutableBuildOptions {
	o.useSPMDPartitioning = useSPMD
	return o
}

// WithDeviceAssignment sets a static device assignment, it must be NumReplicas x NumPartitions.
func (o *ExecutableBuildOptions) WithDeviceAssignment(assignment *placer.DeviceAssignment) *ExecutableBuildOptions {
	o.deviceAssignment = assignment.Clone()
	return o
}

// WithAliasPassthroughParams sets whether parameters returned unchanged are aliased with the output.
func (o *ExecutableBuildOptions) WithAliasPassthroughParams(alias bool) *ExecutableBuildOptions {
	o.aliasPassthroughParams = alias
	return o
}

// DeviceOrdinal returns the requested device, -1 for the backend default.
func (o *ExecutableBuildOptions) DeviceOrdinal() int { return o.deviceOrdinal }

// NumReplicas returns the requested number of replicas.
func (o *ExecutableBuildOptions) NumReplicas() int { return o.numReplicas }

// NumPartitions returns the requested number of partitions.
func (o *ExecutableBuildOptions) NumPartitions() int { return o.numPartitions }

// ResultLayout returns the requested result layout, if one was set.
func (o *ExecutableBuildOptions) ResultLayout() (shapes.Shape, bool) {
	if o.resultLayout == nil {
		return shapes.Shape{}, false
	}
	return o.resultLayout.Clone(), true
}

// DeviceAllocator returns the allocator for the compiler, or nil.
func (o *ExecutableBuildOptions) DeviceAllocator() backends.DeviceAllocator { return o.deviceAllocator }

// CompileThreadPool returns the thread pool for the compiler, or nil.
func (o *ExecutableBuildOptions) CompileThreadPool() backends.ThreadPool { return o.compileThreadPool }

// RunBackendOnly returns whether optimization passes are skipped.
func (o *ExecutableBuildOptions) RunBackendOnly() bool { return o.runBackendOnly }

// UseSPMDPartitioning returns whether SPMD partitioning is requested.
func (o *ExecutableBuildOptions) UseSPMDPartitioning() bool { return o.useSPMDPartitioning }

// DeviceAssignment returns a copy of the static device assignment, or nil.
func (o *ExecutableBuildOptions) DeviceAssignment() *placer.DeviceAssignment {
	return o.deviceAssignment.Clone()
}

// AliasPassthroughParams returns whether passthrough parameters are aliased.
func (o *ExecutableBuildOptions) AliasPassthroughParams() bool { return o.aliasPassthroughParams }

// compileOptions are the options forwarded to the compiler.
func (o *ExecutableBuildOptions) compileOptions() backends.CompileOptions {
	return backends.CompileOptions{
		DeviceAllocator: o.deviceAllocator,
		ThreadPool:      o.compileThreadPool,
	}
}

// Validate checks the consistency of the options.
//
// The device ordinal is not checked here: an unknown device is reported by the backend as
// ExecutorUnavailable when the executor is resolved.
func (o *ExecutableBuildOptions) Validate() error {
	if o.numPartitions < 1 {
		return status.InvalidArgumentf(status.InvalidBuildOptions,
			"num_partitions must be >= 1, got %d", o.numPartitions)
	}
	if o.numReplicas < 1 {
		return status.InvalidArgumentf(status.InvalidBuildOptions,
			"num_replicas must be >= 1, got %d", o.numReplicas)
	}
	if o.deviceAssignment != nil {
		if o.deviceAssignment.ReplicaCount != o.numReplicas || o.deviceAssignment.ComputationCount != o.numPartitions {
			return status.InvalidArgumentf(status.InvalidBuildOptions,
				"device assignment is %dx%d, but num_replicas=%d and num_partitions=%d",
				o.deviceAssignment.ReplicaCount, o.deviceAssignment.ComputationCount, o.numReplicas, o.numPartitions)
		}
		if err := o.deviceAssignment.Validate(); err != nil {
			return status.Recast(err, status.INVALID_ARGUMENT, status.InvalidBuildOptions, "invalid device assignment")
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (o *ExecutableBuildOptions) String() string {
	parts := []string{
		fmt.Sprintf("device_ordinal=%d", o.deviceOrdinal),
		fmt.Sprintf("num_replicas=%d", o.numReplicas),
		fmt.Sprintf("num_partitions=%d", o.numPartitions),
	}
	if o.resultLayout != nil {
		parts = append(parts, "result_layout="+shapes.HumanStringWithLayout(*o.resultLayout))
	}
	if o.runBackendOnly {
		parts = append(parts, "run_backend_only")
	}
	if o.useSPMDPartitioning {
		parts = append(parts, "spmd")
	}
	if o.deviceAssignment != nil {
		parts = append(parts, fmt.Sprintf("device_assignment=%dx%d",
			o.deviceAssignment.ReplicaCount, o.deviceAssignment.ComputationCount))
	}
	if o.aliasPassthroughParams {
		parts = append(parts, "alias_passthrough_params")
	}
	return "ExecutableBuildOptions{" + strings.Join(parts, ", ") + "}"
}

// ExecutionOptions are the options of a program execution that affect its compilation.
type ExecutionOptions struct {
	// ShapeWithOutputLayout is the result shape, with the layout the result is produced in.
	ShapeWithOutputLayout shapes.Shape

	NumReplicas            int
	NumPartitions          int
	UseSPMDPartitioning    bool
	AliasPassthroughParams bool

	// DeviceAssignment is the static device assignment, nil if not given.
	DeviceAssignment *placer.DeviceAssignment
}

// CreateExecutionOptions derives the ExecutionOptions from the build options and the program
// shape: the output layout is the requested result layout, or the program result with the
// default layout.
func CreateExecutionOptions(buildOptions *ExecutableBuildOptions, programShape hlo.ProgramShape) ExecutionOptions {
	executionOptions := ExecutionOptions{
		NumReplicas:            buildOptions.numReplicas,
		NumPartitions:          buildOptions.numPartitions,
		UseSPMDPartitioning:    buildOptions.useSPMDPartitioning,
		AliasPassthroughParams: buildOptions.aliasPassthroughParams,
		DeviceAssignment:       buildOptions.deviceAssignment.Clone(),
	}
	if resultLayout, found := buildOptions.ResultLayout(); found {
		executionOptions.ShapeWithOutputLayout = resultLayout
	} else {
		executionOptions.ShapeWithOutputLayout = programShape.Result.WithDefaultLayout()
	}
	return executionOptions
}
