/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package xla

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/allocation"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LocalService is the compilation service used in-process: it compiles programs for its
// backend and keeps track of the replicated buffers registered with it.
type LocalService struct {
	*Service
}

// NewLocalService creates the backend for options.Platform (or the default platform if empty)
// and returns a LocalService for it, with a new allocation.Tracker.
func NewLocalService(options ServiceOptions) (*LocalService, error) {
	if options.NumberOfReplicas == 0 {
		options.NumberOfReplicas = 1
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	platform := options.Platform
	if platform == "" {
		var err error
		platform, err = backends.DefaultPlatform()
		if err != nil {
			return nil, err
		}
	}
	backend, err := backends.New(backends.Options{
		Platform:                  platform,
		IntraOpParallelismThreads: options.IntraOpParallelismThreads,
		AllowedDevices:            options.AllowedDevices,
	})
	if err != nil {
		return nil, err
	}
	options.Platform = platform
	return NewLocalServiceWithBackend(options, backend, nil)
}

// NewLocalServiceWithBackend returns a LocalService using the given backend. If registry is nil
// a new allocation.Tracker is used.
func NewLocalServiceWithBackend(options ServiceOptions, backend backends.Backend, registry BufferRegistry) (
	*LocalService, error) {
	if backend == nil {
		return nil, errors.New("NewLocalServiceWithBackend requires a backend")
	}
	if options.NumberOfReplicas == 0 {
		options.NumberOfReplicas = 1
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	if options.Platform == "" {
		options.Platform = backend.PlatformName()
	}
	if registry == nil {
		registry = allocation.NewTracker()
	}
	klog.V(1).Infof("LocalService created for platform %q with %d device(s), %d replica(s)",
		backend.PlatformName(), backend.DeviceCount(), options.NumberOfReplicas)
	return &LocalService{
		Service: &Service{
			options:  options.clone(),
			backend:  backend,
			registry: registry,
		},
	}, nil
}

// metadataSuffix returns " (file:line)" for the parameter, if its metadata has a source file.
func metadataSuffix(computation *hlo.ModuleProto, parameterNumber int) string {
	metadata := computation.ParameterMetadata(parameterNumber)
	if metadata == nil || metadata.SourceFile == "" {
		return ""
	}
	return fmt.Sprintf(" (%s:%d)", metadata.SourceFile, metadata.SourceLine)
}

// GetModuleConfig validates the argument layouts against the signature of the computation and
// returns the configuration to compile it with.
//
// The computation must declare its host program shape, otherwise it panics.
func (s *LocalService) GetModuleConfig(computation *hlo.ModuleProto, argumentLayouts []shapes.Shape,
	buildOptions *ExecutableBuildOptions) (*hlo.ModuleConfig, error) {
	if !computation.HasHostProgramShape() {
		exceptions.Panicf("LocalService.GetModuleConfig: computation has no host program shape")
	}
	if buildOptions == nil {
		buildOptions = NewExecutableBuildOptions()
	}
	programShape := computation.ProgramShape()

	// Validate incoming layouts.
	if len(argumentLayouts) != programShape.NumParameters() {
		return nil, status.InvalidArgumentf(status.ArgumentCountMismatch,
			"Invalid number of arguments for computation: expected %d, got %d.",
			programShape.NumParameters(), len(argumentLayouts))
	}
	for ii, argument := range argumentLayouts {
		if err := shapes.ValidateWithOptionalLayout(argument); err != nil {
			return nil, status.WithKind(err, status.INVALID_ARGUMENT, status.InvalidShape,
				"argument %d", ii)
		}
		if !shapes.Compatible(argument, programShape.Parameters[ii]) {
			return nil, status.InvalidArgumentf(status.ArgumentShapeMismatch,
				"Invalid argument shape for argument %d%s, expected %s, got %s.", ii,
				metadataSuffix(computation, ii),
				shapes.HumanString(programShape.Parameters[ii]), shapes.HumanString(argument))
		}
	}
	if resultLayout, found := buildOptions.ResultLayout(); found {
		if err := validateResultShape(resultLayout, programShape.Result); err != nil {
			return nil, err
		}
	}
	if err := buildOptions.Validate(); err != nil {
		return nil, err
	}

	executionOptions := CreateExecutionOptions(buildOptions, programShape)
	return s.createModuleConfig(programShape, argumentLayouts, executionOptions)
}

// resolveExecutor returns the executor for the build options' device, or for the backend's
// default device if it is -1.
func (s *LocalService) resolveExecutor(buildOptions *ExecutableBuildOptions) (backends.Executor, error) {
	deviceOrdinal := buildOptions.DeviceOrdinal()
	if deviceOrdinal == -1 {
		deviceOrdinal = s.backend.DefaultDeviceOrdinal()
	}
	executor, err := s.backend.StreamExecutor(deviceOrdinal)
	if err != nil {
		return nil, status.WithKind(err, status.INVALID_ARGUMENT, status.ExecutorUnavailable,
			"no executor for device %d", deviceOrdinal)
	}
	return executor, nil
}

// CompileExecutables compiles the computation for the given argument layouts, returning one
// executable per partition.
func (s *LocalService) CompileExecutables(computation *hlo.ModuleProto, argumentLayouts []shapes.Shape,
	buildOptions *ExecutableBuildOptions) ([]backends.Executable, error) {
	if buildOptions == nil {
		buildOptions = NewExecutableBuildOptions()
	}
	config, err := s.GetModuleConfig(computation, argumentLayouts, buildOptions)
	if err != nil {
		return nil, err
	}
	klog.V(3).Infof("Computation Layout: %s", config.EntryComputationLayout())

	executor, err := s.resolveExecutor(buildOptions)
	if err != nil {
		return nil, err
	}

	// TODO: compile single partition programs with BuildExecutables as well, once it's
	// verified to produce the same executables as BuildExecutable.
	if buildOptions.NumPartitions() == 1 {
		executable, err := s.BuildExecutable(computation, config, executor, buildOptions.compileOptions(),
			buildOptions.RunBackendOnly())
		if err != nil {
			return nil, err
		}
		return []backends.Executable{executable}, nil
	}

	// One executor per partition: they are all the same executor.
	executors := make([]backends.Executor, buildOptions.NumPartitions())
	for ii := range executors {
		executors[ii] = executor
	}
	return s.BuildExecutables([]*hlo.ModuleProto{computation}, []*hlo.ModuleConfig{config},
		[][]backends.Executor{executors}, buildOptions.compileOptions(), buildOptions.RunBackendOnly())
}

// CompileAotResults compiles the computation ahead-of-time for the given argument layouts,
// returning one artifact per partition.
func (s *LocalService) CompileAotResults(computation *hlo.ModuleProto, argumentLayouts []shapes.Shape,
	buildOptions *ExecutableBuildOptions) ([]backends.AotCompilationResult, error) {
	if buildOptions == nil {
		buildOptions = NewExecutableBuildOptions()
	}
	config, err := s.GetModuleConfig(computation, argumentLayouts, buildOptions)
	if err != nil {
		return nil, err
	}
	executor, err := s.resolveExecutor(buildOptions)
	if err != nil {
		return nil, err
	}
	executors := make([]backends.Executor, buildOptions.NumPartitions())
	for ii := range executors {
		executors[ii] = executor
	}
	return s.BuildAotResults([]*hlo.ModuleProto{computation}, []*hlo.ModuleConfig{config},
		[][]backends.Executor{executors}, buildOptions.compileOptions(), buildOptions.RunBackendOnly())
}

// ReplicaNumberToDeviceOrdinal returns the device of the given replica, for the service's
// number of replicas and a single computation.
func (s *LocalService) ReplicaNumberToDeviceOrdinal(replicaNumber int) (int, error) {
	return s.backend.ComputationPlacer().DeviceID(replicaNumber, 0, s.options.NumberOfReplicas, 1)
}

// GlobalDataToShapedBuffer returns the buffer of the given replica for the handle.
//
// The returned buffer is not owned by the caller: it is valid until the handle is unregistered.
func (s *LocalService) GlobalDataToShapedBuffer(handle allocation.GlobalDataHandle, replicaNumber int) (
	*backends.ShapedBuffer, error) {
	buffers, err := s.registry.Resolve(handle)
	if err != nil {
		return nil, err
	}
	if replicaNumber < 0 || replicaNumber >= len(buffers) {
		return nil, status.InvalidArgumentf(status.ReplicaOutOfRange,
			"replica_number %d out of range; must be less than num_replicas = %d.",
			replicaNumber, len(buffers))
	}
	return buffers[replicaNumber], nil
}

// RegisterReplicatedBuffers transfers the ownership of the buffers (one per replica) to the
// service, and returns the handle to them.
func (s *LocalService) RegisterReplicatedBuffers(buffers []*backends.ScopedShapedBuffer, tag string) (
	allocation.GlobalDataHandle, error) {
	return s.registry.RegisterReplicatedBuffers(buffers, tag)
}

// Unregister releases the buffers of the handle.
func (s *LocalService) Unregister(handle allocation.GlobalDataHandle) error {
	return s.registry.Unregister(handle)
}
