// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allocation

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/backends/host"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocateReplicas(t *testing.T, backend *host.Backend, shape shapes.Shape, numReplicas int) []*backends.ScopedShapedBuffer {
	buffers := make([]*backends.ScopedShapedBuffer, numReplicas)
	for replica := range numReplicas {
		var err error
		buffers[replica], err = backends.AllocateScopedShapedBuffer(backend.Allocator(), shape, replica)
		require.NoError(t, err)
	}
	return buffers
}

func TestTracker(t *testing.T) {
	backend := must.M1(host.NewWithDevices(4, backends.Options{}))
	tracker := NewTracker()
	shape := shapes.Make(dtypes.Float32, 2, 2)
	buffers := allocateReplicas(t, backend, shape, 3)

	handle, err := tracker.RegisterReplicatedBuffers(buffers, "weights")
	require.NoError(t, err)
	assert.Equal(t, int64(1), handle.Handle)
	assert.Equal(t, "GlobalDataHandle(1)", handle.String())

	views, err := tracker.Resolve(handle)
	require.NoError(t, err)
	require.Len(t, views, 3)
	for replica, view := range views {
		assert.Same(t, buffers[replica].AsShapedBuffer(), view)
		assert.Equal(t, replica, view.DeviceOrdinal())
	}
	view, err := tracker.ResolveForReplica(handle, 2)
	require.NoError(t, err)
	assert.Same(t, views[2], view)
	_, err = tracker.ResolveForReplica(handle, 3)
	assert.Equal(t, status.ReplicaOutOfRange, status.KindOf(err))

	handle2, err := tracker.RegisterReplicatedBuffers(allocateReplicas(t, backend, shape, 1), "bias")
	require.NoError(t, err)
	assert.Equal(t, int64(2), handle2.Handle)
	numHandles, bytes := tracker.MemoryUsage()
	assert.Equal(t, 2, numHandles)
	assert.Equal(t, uintptr(4*16), bytes)

	// Unregister releases memory and leaves a tombstone.
	require.NoError(t, tracker.Unregister(handle))
	assert.Equal(t, int64(0), backend.HostAllocator().LiveBytes(1))
	_, err = tracker.Resolve(handle)
	require.Error(t, err)
	assert.Equal(t, status.HandleDeallocated, status.KindOf(err))
	assert.Contains(t, err.Error(), "previously deallocated")
	assert.Equal(t, status.HandleDeallocated, status.KindOf(tracker.Unregister(handle)))
	numHandles, _ = tracker.MemoryUsage()
	assert.Equal(t, 1, numHandles)

	// Unknown handles.
	_, err = tracker.Resolve(GlobalDataHandle{Handle: 42})
	assert.Equal(t, status.HandleNotFound, status.KindOf(err))
	assert.Equal(t, status.NOT_FOUND, status.CodeOf(err))
	_, err = tracker.Resolve(GlobalDataHandle{})
	assert.Equal(t, status.HandleNotFound, status.KindOf(err))

	// Invalid registrations.
	_, err = tracker.RegisterReplicatedBuffers(nil, "empty")
	require.Error(t, err)
	_, err = tracker.RegisterReplicatedBuffers([]*backends.ScopedShapedBuffer{nil}, "nil")
	require.Error(t, err)
}

func TestTrackerConcurrency(t *testing.T) {
	backend := must.M1(host.NewWithDevices(1, backends.Options{}))
	tracker := NewTracker()
	const numGoroutines = 16
	handles := make([]GlobalDataHandle, numGoroutines)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for ii := range numGoroutines {
		go func() {
			defer wg.Done()
			buf, err := backends.AllocateScopedShapedBuffer(backend.Allocator(), shapes.Make(dtypes.Int32, ii+1), 0)
			if err != nil {
				return
			}
			handles[ii], _ = tracker.RegisterReplicatedBuffers([]*backends.ScopedShapedBuffer{buf}, "concurrent")
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for ii, handle := range handles {
		require.NotZero(t, handle.Handle)
		require.False(t, seen[handle.Handle], "handle %d issued twice", handle.Handle)
		seen[handle.Handle] = true
		view, err := tracker.ResolveForReplica(handle, 0)
		require.NoError(t, err)
		assert.Equal(t, ii+1, view.OnDeviceShape().Dimensions[0])
	}
}
