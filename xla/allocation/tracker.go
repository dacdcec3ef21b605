// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allocation keeps track of device buffers registered with the service, and the opaque
// handles clients use to refer to them.
package allocation

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/xla/status"
	"k8s.io/klog/v2"
)

// GlobalDataHandle is an opaque reference to a set of per-replica buffers registered with a
// Tracker. The zero value is never issued.
type GlobalDataHandle struct {
	Handle int64
}

// String implements fmt.Stringer.
func (h GlobalDataHandle) String() string {
	return fmt.Sprintf("GlobalDataHandle(%d)", h.Handle)
}

// allocation is an entry of the tracker. A nil buffers slice marks a deallocated handle.
type allocation struct {
	tag     string
	buffers []*backends.ScopedShapedBuffer
}

// Tracker owns the buffers registered with it, one per replica, and maps them to handles.
//
// It is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	nextHandle  int64
	allocations map[int64]*allocation
}

// NewTracker returns an empty Tracker. The first handle issued is 1.
func NewTracker() *Tracker {
	return &Tracker{
		nextHandle:  1,
		allocations: make(map[int64]*allocation),
	}
}

// RegisterReplicatedBuffers takes ownership of the buffers (one per replica) and returns a
// handle to them.
//
// All buffers must be non-nil and have compatible shapes.
func (t *Tracker) RegisterReplicatedBuffers(buffers []*backends.ScopedShapedBuffer, tag string) (GlobalDataHandle, error) {
	if len(buffers) == 0 {
		return GlobalDataHandle{}, status.InvalidArgumentf(status.Unknown,
			"no buffers given to register for %q", tag)
	}
	for ii, buf := range buffers {
		if buf == nil {
			return GlobalDataHandle{}, status.InvalidArgumentf(status.Unknown,
				"buffer for replica %d is nil, registering %q", ii, tag)
		}
	}
	buffersCopy := make([]*backends.ScopedShapedBuffer, len(buffers))
	copy(buffersCopy, buffers)

	t.mu.Lock()
	defer t.mu.Unlock()
	handle := GlobalDataHandle{Handle: t.nextHandle}
	t.nextHandle++
	t.allocations[handle.Handle] = &allocation{tag: tag, buffers: buffersCopy}
	if klog.V(2).Enabled() {
		var size uintptr
		for _, buf := range buffersCopy {
			size += buf.Size()
		}
		klog.Infof("registered %s for %q: %d replica(s), %s", handle, tag, len(buffersCopy),
			humanize.Bytes(uint64(size)))
	}
	return handle, nil
}

// lockedGet returns the live allocation for the handle.
//
// It must be called with t.mu acquired.
func (t *Tracker) lockedGet(handle GlobalDataHandle) (*allocation, error) {
	entry, found := t.allocations[handle.Handle]
	if !found {
		return nil, status.NotFoundf(status.HandleNotFound, "no allocation record for global data handle: %d",
			handle.Handle)
	}
	if entry.buffers == nil {
		return nil, status.InvalidArgumentf(status.HandleDeallocated,
			"global data handle %d (%q) was previously deallocated", handle.Handle, entry.tag)
	}
	return entry, nil
}

// Resolve returns the non-owning views of the buffers (one per replica) for the handle.
// They are valid until the handle is unregistered.
func (t *Tracker) Resolve(handle GlobalDataHandle) ([]*backends.ShapedBuffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, err := t.lockedGet(handle)
	if err != nil {
		return nil, err
	}
	views := make([]*backends.ShapedBuffer, len(entry.buffers))
	for ii, buf := range entry.buffers {
		views[ii] = buf.AsShapedBuffer()
	}
	return views, nil
}

// ResolveForReplica returns the non-owning view of the buffer of the given replica.
func (t *Tracker) ResolveForReplica(handle GlobalDataHandle, replica int) (*backends.ShapedBuffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, err := t.lockedGet(handle)
	if err != nil {
		return nil, err
	}
	if replica < 0 || replica >= len(entry.buffers) {
		return nil, status.InvalidArgumentf(status.ReplicaOutOfRange,
			"requesting buffer for replica %d, but global data handle %d has only %d replica(s)",
			replica, handle.Handle, len(entry.buffers))
	}
	return entry.buffers[replica].AsShapedBuffer(), nil
}

// Unregister releases the buffers of the handle back to their allocators.
//
// Later uses of the handle return a HandleDeallocated error.
func (t *Tracker) Unregister(handle GlobalDataHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, err := t.lockedGet(handle)
	if err != nil {
		return err
	}
	var firstErr error
	for _, buf := range entry.buffers {
		if err := buf.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	entry.buffers = nil
	klog.V(2).Infof("unregistered %s (%q)", handle, entry.tag)
	if firstErr != nil {
		return status.WithKind(firstErr, status.INTERNAL, status.Unknown, "deallocating %s", handle)
	}
	return nil
}

// MemoryUsage returns the number of live handles and the total bytes of their buffers.
func (t *Tracker) MemoryUsage() (numHandles int, bytes uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.allocations {
		if entry.buffers == nil {
			continue
		}
		numHandles++
		for _, buf := range entry.buffers {
			bytes += buf.Size()
		}
	}
	return
}
