// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/xlaservice/xla/hlo"
)

// Executable is a compiled program ready to execute on a device.
type Executable interface {
	// Module returns the module the executable was compiled from.
	Module() *hlo.Module

	// DeviceOrdinal returns the device the executable was compiled for.
	DeviceOrdinal() int

	// Finalize immediately frees resources associated to the executable.
	Finalize()
}

// AotCompilationResult is a compiled program that can be serialized and loaded later, possibly
// in another process.
type AotCompilationResult interface {
	// ID uniquely identifies the artifact.
	ID() string

	// SerializeAsString returns the serialized artifact.
	SerializeAsString() ([]byte, error)
}

// CompileOptions are forwarded to the compiler unchanged from the build options.
type CompileOptions struct {
	// DeviceAllocator used during compilation (e.g. for autotuning), nil if not given.
	DeviceAllocator DeviceAllocator

	// ThreadPool used to parallelize compilation, nil if not given.
	ThreadPool ThreadPool
}

// Compiler turns modules into executables or ahead-of-time artifacts.
//
// RunHloPasses and RunBackend are the two halves of the compilation of one module: Compile and
// CompileAheadOfTime do both for a group of modules, each with a list of executors (one per
// partition).
type Compiler interface {
	// PlatformName returns the name of the platform the compiler targets.
	PlatformName() string

	// RunHloPasses runs the platform independent and dependent optimizations on the module.
	RunHloPasses(module *hlo.Module, executor Executor, options CompileOptions) (*hlo.Module, error)

	// RunBackend generates the executable of an (optimized) module.
	RunBackend(module *hlo.Module, executor Executor, options CompileOptions) (Executable, error)

	// Compile the modules, returning one executable per executor of each module, in order.
	Compile(modules []*hlo.Module, executors [][]Executor, options CompileOptions) ([]Executable, error)

	// CompileAheadOfTime compiles the modules, returning one artifact per executor of each module, in order.
	CompileAheadOfTime(modules []*hlo.Module, executors [][]Executor, options CompileOptions) (
		[]AotCompilationResult, error)
}
