// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/xlaservice/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compile-time check:
var _ backends.DeviceAllocator = (*Allocator)(nil)

// Buffer is the host memory behind a backends.DeviceMemory allocated by the host Allocator.
type Buffer struct {
	deviceOrdinal int
	valid         bool
	data          []byte
}

// Bytes returns the memory of the buffer. It becomes invalid once the buffer is deallocated.
func (b *Buffer) Bytes() []byte { return b.data }

// Allocator allocates host memory for the virtual devices, reusing freed buffers of the same size.
type Allocator struct {
	numDevices  int
	bufferPools sync.Map
	liveBytes   []atomic.Int64
}

func newAllocator(numDevices int) *Allocator {
	return &Allocator{
		numDevices: numDevices,
		liveBytes:  make([]atomic.Int64, numDevices),
	}
}

// getBufferPool for given size.
func (a *Allocator) getBufferPool(size uintptr) *sync.Pool {
	poolInterface, ok := a.bufferPools.Load(size)
	if !ok {
		poolInterface, _ = a.bufferPools.LoadOrStore(size, &sync.Pool{
			New: func() interface{} {
				return &Buffer{data: make([]byte, size)}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// PlatformName implements backends.DeviceAllocator.
func (a *Allocator) PlatformName() string { return PlatformName }

// Allocate implements backends.DeviceAllocator. The memory is zeroed.
func (a *Allocator) Allocate(deviceOrdinal int, size uintptr) (backends.DeviceMemory, error) {
	if deviceOrdinal < 0 || deviceOrdinal >= a.numDevices {
		return backends.DeviceMemory{}, errors.Errorf("cannot allocate on device %d, host platform has %d devices",
			deviceOrdinal, a.numDevices)
	}
	buf := a.getBufferPool(size).Get().(*Buffer)
	clear(buf.data)
	buf.deviceOrdinal = deviceOrdinal
	buf.valid = true
	a.liveBytes[deviceOrdinal].Add(int64(size))
	if klog.V(3).Enabled() {
		klog.Infof("host allocated %s on device %d", humanize.Bytes(uint64(size)), deviceOrdinal)
	}
	return backends.DeviceMemory{Opaque: buf, Size: size}, nil
}

// Deallocate implements backends.DeviceAllocator.
// After this any references to the buffer should be dropped.
func (a *Allocator) Deallocate(deviceOrdinal int, memory backends.DeviceMemory) error {
	buf, ok := memory.Opaque.(*Buffer)
	if !ok || buf == nil {
		return errors.Errorf("host allocator cannot deallocate memory of type %T", memory.Opaque)
	}
	if !buf.valid {
		return errors.Errorf("buffer of %d bytes on device %d already deallocated", len(buf.data), buf.deviceOrdinal)
	}
	if buf.deviceOrdinal != deviceOrdinal {
		return errors.Errorf("buffer allocated on device %d deallocated on device %d", buf.deviceOrdinal, deviceOrdinal)
	}
	buf.valid = false
	a.liveBytes[deviceOrdinal].Add(-int64(len(buf.data)))
	a.getBufferPool(uintptr(len(buf.data))).Put(buf)
	return nil
}

// LiveBytes returns the number of bytes currently allocated on the device.
func (a *Allocator) LiveBytes(deviceOrdinal int) int64 {
	if deviceOrdinal < 0 || deviceOrdinal >= a.numDevices {
		return 0
	}
	return a.liveBytes[deviceOrdinal].Load()
}
