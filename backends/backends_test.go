// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/backends/placer"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator keeps track of live allocations.
type countingAllocator struct {
	mu        sync.Mutex
	next      int
	live      map[int]uintptr
	failAfter int
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{live: make(map[int]uintptr), failAfter: -1}
}

func (a *countingAllocator) PlatformName() string { return "fake" }

func (a *countingAllocator) Allocate(_ int, size uintptr) (DeviceMemory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAfter == 0 {
		return DeviceMemory{}, errors.New("out of memory")
	}
	a.failAfter--
	a.next++
	a.live[a.next] = size
	return DeviceMemory{Opaque: a.next, Size: size}, nil
}

func (a *countingAllocator) Deallocate(_ int, memory DeviceMemory) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := memory.Opaque.(int)
	if _, found := a.live[id]; !found {
		return errors.Errorf("double free of %d", id)
	}
	delete(a.live, id)
	return nil
}

func TestShapedBuffers(t *testing.T) {
	allocator := newCountingAllocator()
	shape := shapes.MakeTuple(shapes.Make(dtypes.Float32, 2, 2), shapes.Make(dtypes.Int64, 3))
	scoped, err := AllocateScopedShapedBuffer(allocator, shape, 1)
	require.NoError(t, err)
	assert.Len(t, allocator.live, 2)

	view := scoped.AsShapedBuffer()
	assert.Equal(t, 1, view.DeviceOrdinal())
	assert.True(t, view.OnDeviceShape().Equal(shape))
	assert.Len(t, view.Buffers(), 2)
	assert.Equal(t, uintptr(16+24), view.Size())
	assert.Equal(t, "ShapedBuffer((f32[2,2], s64[3]), device=1, 40 B)", view.String())

	require.NoError(t, scoped.Finalize())
	assert.Empty(t, allocator.live)
	// Second Finalize is a no-op.
	require.NoError(t, scoped.Finalize())

	// Allocation failure releases partial allocations.
	allocator.failAfter = 1
	_, err = AllocateScopedShapedBuffer(allocator, shape, 0)
	require.ErrorContains(t, err, "out of memory")
	assert.Empty(t, allocator.live)

	_, err = NewShapedBuffer(shape, 0, []DeviceMemory{{Opaque: 1, Size: 4}})
	require.Error(t, err)
}

type fakeBackend struct {
	options Options
}

func (b *fakeBackend) PlatformName() string { return "fake" }
func (b *fakeBackend) DeviceCount() int { return 1 }
func (b *fakeBackend) DefaultDeviceOrdinal() int { return 0 }
func (b *fakeBackend) StreamExecutor(int) (Executor, error) { return nil, errors.New("no executors") }
func (b *fakeBackend) ComputationPlacer() *placer.ComputationPlacer { return placer.New() }
func (b *fakeBackend) Compiler() Compiler { return nil }
func (b *fakeBackend) IntraOpThreadPool() ThreadPool { return nil }
func (b *fakeBackend) Allocator() DeviceAllocator { return newCountingAllocator() }
func (b *fakeBackend) Finalize() {}

func TestRegistry(t *testing.T) {
	Register("fake", func(options Options) (Backend, error) {
		return &fakeBackend{options: options}, nil
	})
	Register("broken", func(Options) (Backend, error) {
		return nil, errors.New("device on fire")
	})
	assert.Contains(t, Platforms(), "fake")

	allowed := []int{0}
	backend, err := New(Options{Platform: "fake", AllowedDevices: allowed, IntraOpParallelismThreads: 3})
	require.NoError(t, err)
	assert.Equal(t, "fake", backend.PlatformName())
	allowed[0] = 7
	assert.Equal(t, []int{0}, backend.(*fakeBackend).options.AllowedDevices)

	t.Setenv(XLASERVICE_PLATFORM, "fake")
	name, err := DefaultPlatform()
	require.NoError(t, err)
	assert.Equal(t, "fake", name)
	backend, err = New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "fake", backend.PlatformName())

	_, err = New(Options{Platform: "unknown"})
	require.Error(t, err)
	assert.Equal(t, status.NOT_FOUND, status.CodeOf(err))

	_, err = New(Options{Platform: "broken"})
	require.ErrorContains(t, err, "device on fire")
}
