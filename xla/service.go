// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xla

import (
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/allocation"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BufferRegistry keeps the replicated device buffers registered with the service, and issues
// the handles clients use to refer to them. allocation.Tracker implements it.
type BufferRegistry interface {
	RegisterReplicatedBuffers(buffers []*backends.ScopedShapedBuffer, tag string) (allocation.GlobalDataHandle, error)
	Resolve(handle allocation.GlobalDataHandle) ([]*backends.ShapedBuffer, error)
	Unregister(handle allocation.GlobalDataHandle) error
}

// Service builds executables and ahead-of-time artifacts with its backend's compiler.
//
// It is safe for concurrent use: it only holds read-only references besides the registry,
// which does its own synchronization.
type Service struct {
	options  ServiceOptions
	backend  backends.Backend
	registry BufferRegistry
}

// Options returns a copy of the options the service was created with.
func (s *Service) Options() ServiceOptions { return s.options.clone() }

// Backend returns the execution backend.
func (s *Service) Backend() backends.Backend { return s.backend }

// createModuleConfig builds the configuration for compiling a program with the given argument
// shapes and execution options.
func (s *Service) createModuleConfig(programShape hlo.ProgramShape, argumentShapes []shapes.Shape,
	executionOptions ExecutionOptions) (*hlo.ModuleConfig, error) {
	if len(argumentShapes) != programShape.NumParameters() {
		return nil, status.InvalidArgumentf(status.ArgumentCountMismatch,
			"computation takes %d parameters, but %d given", programShape.NumParameters(), len(argumentShapes))
	}
	entryLayout := hlo.ComputationLayout{
		ParameterLayouts: make([]shapes.Shape, len(argumentShapes)),
	}
	for ii, argument := range argumentShapes {
		if !shapes.Compatible(argument, programShape.Parameters[ii]) {
			return nil, status.InvalidArgumentf(status.ArgumentShapeMismatch,
				"argument does not match shape of computation parameter %d: want %s, got %s",
				ii, shapes.HumanString(programShape.Parameters[ii]), shapes.HumanString(argument))
		}
		entryLayout.ParameterLayouts[ii] = argument.Clone()
	}

	resultShape := executionOptions.ShapeWithOutputLayout
	if err := validateResultShape(resultShape, programShape.Result); err != nil {
		return nil, err
	}
	entryLayout.ResultLayout = resultShape.Clone()

	replicaCount := executionOptions.NumReplicas
	if replicaCount <= 0 {
		replicaCount = s.options.NumberOfReplicas
	}
	intraOpThreads := 0
	if pool := s.backend.IntraOpThreadPool(); pool != nil {
		intraOpThreads = pool.NumThreads()
	}
	return hlo.NewModuleConfig(hlo.ModuleConfigOptions{
		ProgramShape:              programShape,
		EntryLayout:               entryLayout,
		ReplicaCount:              replicaCount,
		NumPartitions:             executionOptions.NumPartitions,
		UseSPMDPartitioning:       executionOptions.UseSPMDPartitioning,
		AliasPassthroughParams:    executionOptions.AliasPassthroughParams,
		DeviceAssignment:          executionOptions.DeviceAssignment,
		IntraOpParallelismThreads: intraOpThreads,
	}), nil
}

// validateResultShape checks that a requested result layout is a valid shape, compatible with the
// program's result.
func validateResultShape(resultLayout, result shapes.Shape) error {
	if err := shapes.ValidateWithOptionalLayout(resultLayout); err != nil {
		return status.WithKind(err, status.INVALID_ARGUMENT, status.InvalidShape,
			"invalid shape used to set computation result layout")
	}
	if !shapes.Compatible(resultLayout, result) {
		return status.InvalidArgumentf(status.ResultShapeMismatch,
			"Shape used to set computation result layout %s is not compatible with result shape %s",
			shapes.HumanStringWithLayout(resultLayout), shapes.HumanString(result))
	}
	return nil
}

// compilationFailed wraps an error of the backend compiler.
func compilationFailed(err error, format string, args ...any) error {
	return status.WithKind(err, status.INTERNAL, status.CompilationFailed, format, args...)
}

// BuildExecutable compiles one program for one executor: unless runBackendOnly, the
// optimization passes are run before generating the executable.
func (s *Service) BuildExecutable(proto *hlo.ModuleProto, config *hlo.ModuleConfig, executor backends.Executor,
	options backends.CompileOptions, runBackendOnly bool) (backends.Executable, error) {
	klog.V(1).Infof("BuildExecutable %q on device %d", proto.Name, executor.DeviceOrdinal())
	module, err := hlo.NewModule(proto, config)
	if err != nil {
		return nil, compilationFailed(err, "creating module %q", proto.Name)
	}
	compiler := s.backend.Compiler()
	if !runBackendOnly {
		module, err = compiler.RunHloPasses(module, executor, options)
		if err != nil {
			return nil, compilationFailed(err, "running optimization passes on %q", proto.Name)
		}
	}
	executable, err := compiler.RunBackend(module, executor, options)
	if err != nil {
		return nil, compilationFailed(err, "compiling %q", proto.Name)
	}
	klog.V(1).Infof("BuildExecutable %q done", proto.Name)
	return executable, nil
}

// newModules pairs the programs with their configurations.
func newModules(protos []*hlo.ModuleProto, configs []*hlo.ModuleConfig, executors [][]backends.Executor) (
	[]*hlo.Module, error) {
	if len(protos) != len(configs) || len(protos) != len(executors) {
		return nil, errors.Errorf("%d programs given, with %d configurations and %d lists of executors",
			len(protos), len(configs), len(executors))
	}
	modules := make([]*hlo.Module, len(protos))
	for ii, proto := range protos {
		var err error
		modules[ii], err = hlo.NewModule(proto, configs[ii])
		if err != nil {
			return nil, compilationFailed(err, "creating module #%d %q", ii, proto.Name)
		}
	}
	return modules, nil
}

// BuildExecutables compiles each program for each of its executors, returning the executables
// in order. If runBackendOnly, the programs are assumed to be optimized already.
func (s *Service) BuildExecutables(protos []*hlo.ModuleProto, configs []*hlo.ModuleConfig,
	executors [][]backends.Executor, options backends.CompileOptions, runBackendOnly bool) ([]backends.Executable, error) {
	klog.V(1).Infof("BuildExecutables: %d program(s)", len(protos))
	modules, err := newModules(protos, configs, executors)
	if err != nil {
		return nil, err
	}
	compiler := s.backend.Compiler()
	var executables []backends.Executable
	if !runBackendOnly {
		executables, err = compiler.Compile(modules, executors, options)
		if err != nil {
			finalizeExecutables(executables)
			return nil, compilationFailed(err, "compiling %d program(s)", len(modules))
		}
	} else {
		for ii, module := range modules {
			for _, executor := range executors[ii] {
				executable, err := compiler.RunBackend(module, executor, options)
				if err != nil {
					finalizeExecutables(executables)
					return nil, compilationFailed(err, "compiling %q for device %d", module.Name(), executor.DeviceOrdinal())
				}
				executables = append(executables, executable)
			}
		}
	}
	klog.V(1).Infof("BuildExecutables done: %d executable(s)", len(executables))
	return executables, nil
}

// finalizeExecutables frees the executables built before a failure.
func finalizeExecutables(executables []backends.Executable) {
	for _, executable := range executables {
		if executable != nil {
			executable.Finalize()
		}
	}
}

// BuildAotResults compiles each program ahead-of-time for each of its executors, returning the
// artifacts in order. Unless runBackendOnly, the optimization passes are run on each program
// first, for its first executor.
func (s *Service) BuildAotResults(protos []*hlo.ModuleProto, configs []*hlo.ModuleConfig,
	executors [][]backends.Executor, options backends.CompileOptions, runBackendOnly bool) (
	[]backends.AotCompilationResult, error) {
	klog.V(1).Infof("BuildAotResults: %d program(s)", len(protos))
	modules, err := newModules(protos, configs, executors)
	if err != nil {
		return nil, err
	}
	compiler := s.backend.Compiler()
	if !runBackendOnly {
		for ii, module := range modules {
			if len(executors[ii]) == 0 {
				return nil, compilationFailed(errors.New("no executors"), "program %q", module.Name())
			}
			modules[ii], err = compiler.RunHloPasses(module, executors[ii][0], options)
			if err != nil {
				return nil, compilationFailed(err, "running optimization passes on %q", module.Name())
			}
		}
	}
	results, err := compiler.CompileAheadOfTime(modules, executors, options)
	if err != nil {
		return nil, compilationFailed(err, "compiling %d program(s) ahead-of-time", len(modules))
	}
	klog.V(1).Infof("BuildAotResults done: %d result(s)", len(results))
	return results, nil
}
