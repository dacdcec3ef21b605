// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package host implements the reference "host" platform: a number of virtual devices backed by
// host memory, with a compiler that validates and packages modules without generating code.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/xlaservice/backends/host"
package host

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"

	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/backends/placer"
	"github.com/gomlx/xlaservice/internal/workerspool"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PlatformName is the name the platform is registered with.
const PlatformName = "host"

// DefaultNumDevices is the number of virtual devices, if not overridden by XLASERVICE_HOST_DEVICES.
const DefaultNumDevices = 4

// XLASERVICE_HOST_DEVICES is the environment variable that sets the number of virtual devices.
const XLASERVICE_HOST_DEVICES = "XLASERVICE_HOST_DEVICES"

func init() {
	backends.Register(PlatformName, func(options backends.Options) (backends.Backend, error) {
		return New(options)
	})
}

// Compile-time check:
var _ backends.Backend = (*Backend)(nil)

// Backend implements the "host" platform.
type Backend struct {
	numDevices     int
	executors      map[int]*Device
	allowedDevices []int
	placer         *placer.ComputationPlacer
	compiler       *Compiler
	allocator      *Allocator
	intraOpPool    *workerspool.Pool
}

// New creates a host Backend.
//
// The number of virtual devices is DefaultNumDevices unless the environment variable
// XLASERVICE_HOST_DEVICES is set.
func New(options backends.Options) (*Backend, error) {
	numDevices := DefaultNumDevices
	if value, found := os.LookupEnv(XLASERVICE_HOST_DEVICES); found {
		var err error
		numDevices, err = strconv.Atoi(value)
		if err != nil || numDevices < 1 {
			return nil, errors.Errorf("invalid value %q for $%s, it must be a positive integer",
				value, XLASERVICE_HOST_DEVICES)
		}
	}
	return NewWithDevices(numDevices, options)
}

// NewWithDevices creates a host Backend with the given number of virtual devices.
func NewWithDevices(numDevices int, options backends.Options) (*Backend, error) {
	if numDevices < 1 {
		return nil, errors.Errorf("host platform needs at least one device, got %d", numDevices)
	}
	b := &Backend{
		numDevices: numDevices,
		executors:  make(map[int]*Device),
		placer:     placer.New(),
	}
	if len(options.AllowedDevices) == 0 {
		for ordinal := range numDevices {
			b.allowedDevices = append(b.allowedDevices, ordinal)
		}
	} else {
		b.allowedDevices = slices.Clone(options.AllowedDevices)
		slices.Sort(b.allowedDevices)
		b.allowedDevices = slices.Compact(b.allowedDevices)
		for _, ordinal := range b.allowedDevices {
			if ordinal < 0 || ordinal >= numDevices {
				return nil, errors.Errorf("allowed device %d out of range, host platform has %d devices",
					ordinal, numDevices)
			}
		}
	}
	for _, ordinal := range b.allowedDevices {
		b.executors[ordinal] = &Device{ordinal: ordinal}
	}

	threads := options.IntraOpParallelismThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	b.intraOpPool = workerspool.NewWithParallelism(threads)
	b.allocator = newAllocator(numDevices)
	b.compiler = &Compiler{backend: b}
	klog.V(1).Infof("host platform created with %d devices (allowed %v), %d intra-op threads",
		numDevices, b.allowedDevices, threads)
	return b, nil
}

// PlatformName implements backends.Backend.
func (b *Backend) PlatformName() string { return PlatformName }

// DeviceCount returns the number of allowed devices.
func (b *Backend) DeviceCount() int { return len(b.allowedDevices) }

// DefaultDeviceOrdinal returns the first allowed device.
func (b *Backend) DefaultDeviceOrdinal() int { return b.allowedDevices[0] }

// StreamExecutor returns the Device for the ordinal.
func (b *Backend) StreamExecutor(deviceOrdinal int) (backends.Executor, error) {
	device, found := b.executors[deviceOrdinal]
	if !found {
		return nil, status.InvalidArgumentf(status.ExecutorUnavailable,
			"device ordinal %d not available on platform %q: allowed devices are %v",
			deviceOrdinal, PlatformName, b.allowedDevices)
	}
	return device, nil
}

// ComputationPlacer implements backends.Backend.
func (b *Backend) ComputationPlacer() *placer.ComputationPlacer { return b.placer }

// Compiler implements backends.Backend.
func (b *Backend) Compiler() backends.Compiler { return b.compiler }

// IntraOpThreadPool implements backends.Backend.
func (b *Backend) IntraOpThreadPool() backends.ThreadPool { return b.intraOpPool }

// Allocator implements backends.Backend.
func (b *Backend) Allocator() backends.DeviceAllocator { return b.allocator }

// HostAllocator returns the allocator with its host specific methods.
func (b *Backend) HostAllocator() *Allocator { return b.allocator }

// Finalize implements backends.Backend. It reports memory still allocated.
func (b *Backend) Finalize() {
	for ordinal := range b.numDevices {
		if live := b.allocator.LiveBytes(ordinal); live > 0 {
			klog.Warningf("host platform finalized with %d bytes still allocated on device %d", live, ordinal)
		}
	}
}

// Device is the executor of one host virtual device.
type Device struct {
	ordinal int
}

// Compile-time check:
var _ backends.Executor = (*Device)(nil)

// DeviceOrdinal implements backends.Executor.
func (d *Device) DeviceOrdinal() int { return d.ordinal }

// PlatformName implements backends.Executor.
func (d *Device) PlatformName() string { return PlatformName }

// String implements fmt.Stringer.
func (d *Device) String() string { return fmt.Sprintf("%s:%d", PlatformName, d.ordinal) }
