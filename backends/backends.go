// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface an execution platform needs to implement to be used by
// the compilation service: devices (executors), a compiler, a placer, a device allocator and an
// intra-op thread pool.
//
// Platforms register themselves (usually in an init function) with Register, and are created
// with New.
package backends

import (
	"os"
	"slices"
	"sort"

	"github.com/gomlx/xlaservice/backends/placer"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by an execution platform.
type Backend interface {
	// PlatformName returns the short name of the platform. E.g.: "host".
	PlatformName() string

	// DeviceCount returns the number of devices available (after the AllowedDevices filter).
	DeviceCount() int

	// DefaultDeviceOrdinal returns the device used when a device ordinal is not specified.
	DefaultDeviceOrdinal() int

	// StreamExecutor returns the executor for the given device ordinal.
	// It returns an ExecutorUnavailable error if the device doesn't exist or is not allowed.
	StreamExecutor(deviceOrdinal int) (Executor, error)

	// ComputationPlacer returns the placer that maps replicas and partitions to devices.
	ComputationPlacer() *placer.ComputationPlacer

	// Compiler returns the platform compiler.
	Compiler() Compiler

	// IntraOpThreadPool returns the pool used to parallelize work within an op, or nil if none.
	IntraOpThreadPool() ThreadPool

	// Allocator returns the platform's default device memory allocator.
	Allocator() DeviceAllocator

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Options used to create a Backend.
type Options struct {
	// Platform name, empty for the default platform.
	Platform string

	// IntraOpParallelismThreads is the number of threads of the intra-op pool, 0 for the platform default.
	IntraOpParallelismThreads int

	// AllowedDevices restricts the devices used, by ordinal. Empty for all devices.
	AllowedDevices []int
}

// Constructor takes the Options and returns a Backend.
type Constructor func(options Options) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register platform with the given name, and a constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Platforms returns the names of the registered platforms, sorted.
func Platforms() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// XLASERVICE_PLATFORM is the environment variable with the default platform to use.
const XLASERVICE_PLATFORM = "XLASERVICE_PLATFORM"

// DefaultPlatform returns the platform to use if none is specified:
//
// 1. The environment XLASERVICE_PLATFORM is used if defined.
// 2. The first registered platform.
//
// It returns an error if no platform was registered.
func DefaultPlatform() (string, error) {
	if name, found := os.LookupEnv(XLASERVICE_PLATFORM); found && name != "" {
		return name, nil
	}
	if len(registeredConstructors) == 0 {
		return "", errors.Errorf(`no registered platforms -- maybe import the reference one with import _ "github.com/gomlx/xlaservice/backends/host"?`)
	}
	return firstRegistered, nil
}

// New creates a Backend for options.Platform, or for the DefaultPlatform if it is empty.
func New(options Options) (Backend, error) {
	if options.Platform == "" {
		var err error
		options.Platform, err = DefaultPlatform()
		if err != nil {
			return nil, err
		}
	}
	constructor, found := registeredConstructors[options.Platform]
	if !found {
		return nil, status.NotFoundf(status.Unknown, "can't find platform %q, registered platforms are %v",
			options.Platform, Platforms())
	}
	options.AllowedDevices = slices.Clone(options.AllowedDevices)
	backend, err := constructor(options)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend for platform %q", options.Platform)
	}
	return backend, nil
}

// Executor is a handle to one device of a platform.
type Executor interface {
	// DeviceOrdinal returns the ordinal of the device.
	DeviceOrdinal() int

	// PlatformName returns the name of the platform owning the device.
	PlatformName() string
}

// ThreadPool is a pool of workers where tasks can be scheduled.
type ThreadPool interface {
	// NumThreads returns the maximum number of tasks run in parallel.
	NumThreads() int

	// Schedule runs fn asynchronously, as soon as there is a worker available.
	// The caller is responsible for synchronizing its completion.
	Schedule(fn func())
}
