// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceMemory is an opaque reference to memory allocated on a device.
//
// It is up to the allocator to interpret Opaque.
type DeviceMemory struct {
	Opaque any
	Size   uintptr
}

// IsNull returns whether the memory was not allocated.
func (m DeviceMemory) IsNull() bool { return m.Opaque == nil }

// DeviceAllocator allocates and frees device memory.
type DeviceAllocator interface {
	// PlatformName returns the name of the platform the allocator serves.
	PlatformName() string

	// Allocate size bytes on the given device.
	Allocate(deviceOrdinal int, size uintptr) (DeviceMemory, error)

	// Deallocate memory previously returned by Allocate for the same device.
	Deallocate(deviceOrdinal int, memory DeviceMemory) error
}

// ShapedBuffer is a non-owning view of the device memory holding a value of some shape: one
// DeviceMemory per array (leaf) of the shape, in depth-first order.
type ShapedBuffer struct {
	onDeviceShape shapes.Shape
	deviceOrdinal int
	buffers       []DeviceMemory
}

// NewShapedBuffer creates a ShapedBuffer. The number of buffers must match the number of arrays
// (leaves) in shape.
func NewShapedBuffer(onDeviceShape shapes.Shape, deviceOrdinal int, buffers []DeviceMemory) (*ShapedBuffer, error) {
	if numLeaves := countLeaves(onDeviceShape); numLeaves != len(buffers) {
		return nil, errors.Errorf("shape %s has %d arrays, but %d buffers were given",
			onDeviceShape, numLeaves, len(buffers))
	}
	return &ShapedBuffer{
		onDeviceShape: onDeviceShape.Clone(),
		deviceOrdinal: deviceOrdinal,
		buffers:       slices.Clone(buffers),
	}, nil
}

func countLeaves(s shapes.Shape) int {
	if !s.IsTuple() {
		return 1
	}
	count := 0
	for _, element := range s.TupleShapes {
		count += countLeaves(element)
	}
	return count
}

// OnDeviceShape returns the shape of the value held.
func (b *ShapedBuffer) OnDeviceShape() shapes.Shape { return b.onDeviceShape.Clone() }

// DeviceOrdinal returns the device holding the memory.
func (b *ShapedBuffer) DeviceOrdinal() int { return b.deviceOrdinal }

// Buffers returns the device memory of each array of the shape, in depth-first order.
func (b *ShapedBuffer) Buffers() []DeviceMemory { return slices.Clone(b.buffers) }

// Size returns the total number of bytes referenced.
func (b *ShapedBuffer) Size() uintptr {
	var size uintptr
	for _, buf := range b.buffers {
		size += buf.Size
	}
	return size
}

// String implements fmt.Stringer.
func (b *ShapedBuffer) String() string {
	return fmt.Sprintf("ShapedBuffer(%s, device=%d, %s)",
		shapes.HumanStringWithLayout(b.onDeviceShape), b.deviceOrdinal, humanize.Bytes(uint64(b.Size())))
}

// ScopedShapedBuffer is a ShapedBuffer that owns its device memory: Finalize returns it to the
// allocator.
type ScopedShapedBuffer struct {
	ShapedBuffer
	allocator DeviceAllocator
}

// NewScopedShapedBuffer takes ownership of the given buffers, which must have been allocated with
// allocator.
func NewScopedShapedBuffer(onDeviceShape shapes.Shape, deviceOrdinal int, allocator DeviceAllocator,
	buffers []DeviceMemory) (*ScopedShapedBuffer, error) {
	shaped, err := NewShapedBuffer(onDeviceShape, deviceOrdinal, buffers)
	if err != nil {
		return nil, err
	}
	return &ScopedShapedBuffer{ShapedBuffer: *shaped, allocator: allocator}, nil
}

// AllocateScopedShapedBuffer allocates memory for each array of shape on the given device.
func AllocateScopedShapedBuffer(allocator DeviceAllocator, onDeviceShape shapes.Shape, deviceOrdinal int) (
	*ScopedShapedBuffer, error) {
	var leaves []shapes.Shape
	var collect func(s shapes.Shape)
	collect = func(s shapes.Shape) {
		if !s.IsTuple() {
			leaves = append(leaves, s)
			return
		}
		for _, element := range s.TupleShapes {
			collect(element)
		}
	}
	collect(onDeviceShape)

	buffers := make([]DeviceMemory, 0, len(leaves))
	for _, leaf := range leaves {
		mem, err := allocator.Allocate(deviceOrdinal, leaf.Memory())
		if err != nil {
			for _, allocated := range buffers {
				_ = allocator.Deallocate(deviceOrdinal, allocated)
			}
			return nil, errors.WithMessagef(err, "allocating %s on device %d", leaf, deviceOrdinal)
		}
		buffers = append(buffers, mem)
	}
	return NewScopedShapedBuffer(onDeviceShape, deviceOrdinal, allocator, buffers)
}

// AsShapedBuffer returns the non-owning view of the memory. It is valid until the
// ScopedShapedBuffer is finalized.
func (b *ScopedShapedBuffer) AsShapedBuffer() *ShapedBuffer { return &b.ShapedBuffer }

// Allocator returns the allocator owning the memory.
func (b *ScopedShapedBuffer) Allocator() DeviceAllocator { return b.allocator }

// Finalize returns the memory to the allocator. It is a no-op if already finalized.
func (b *ScopedShapedBuffer) Finalize() error {
	var firstErr error
	for ii, buf := range b.buffers {
		if buf.IsNull() {
			continue
		}
		if err := b.allocator.Deallocate(b.deviceOrdinal, buf); err != nil {
			klog.Warningf("failed to deallocate buffer #%d of %s: %+v", ii, &b.ShapedBuffer, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		b.buffers[ii] = DeviceMemory{}
	}
	return firstErr
}
