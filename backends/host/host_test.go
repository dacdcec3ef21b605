// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/internal/workerspool"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/gomlx/xlaservice/xla/status"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModule(t *testing.T, opcode string) *hlo.Module {
	b := hlo.NewModuleBuilder("negate")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 4), nil)
	b.Op(opcode, shapes.Make(dtypes.Float32, 4), x)
	proto := must.M1(b.Build())
	config := hlo.NewModuleConfig(hlo.ModuleConfigOptions{
		ProgramShape: proto.ProgramShape(),
		EntryLayout: hlo.ComputationLayout{
			ParameterLayouts: []shapes.Shape{shapes.Make(dtypes.Float32, 4)},
			ResultLayout:     shapes.Make(dtypes.Float32, 4).WithDefaultLayout(),
		},
	})
	module, err := hlo.NewModule(proto, config)
	require.NoError(t, err)
	return module
}

func TestBackend(t *testing.T) {
	backend, err := NewWithDevices(4, backends.Options{AllowedDevices: []int{3, 1, 3}, IntraOpParallelismThreads: 2})
	require.NoError(t, err)
	defer backend.Finalize()
	assert.Equal(t, PlatformName, backend.PlatformName())
	assert.Equal(t, 2, backend.DeviceCount())
	assert.Equal(t, 1, backend.DefaultDeviceOrdinal())
	assert.Equal(t, 2, backend.IntraOpThreadPool().NumThreads())

	executor, err := backend.StreamExecutor(3)
	require.NoError(t, err)
	assert.Equal(t, 3, executor.DeviceOrdinal())
	assert.Equal(t, "host:3", executor.(*Device).String())

	_, err = backend.StreamExecutor(0)
	require.Error(t, err)
	assert.Equal(t, status.ExecutorUnavailable, status.KindOf(err))

	_, err = NewWithDevices(2, backends.Options{AllowedDevices: []int{2}})
	require.Error(t, err)
	_, err = NewWithDevices(0, backends.Options{})
	require.Error(t, err)
}

func TestRegistered(t *testing.T) {
	t.Setenv(XLASERVICE_HOST_DEVICES, "2")
	backend, err := backends.New(backends.Options{Platform: PlatformName})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.DeviceCount())

	t.Setenv(XLASERVICE_HOST_DEVICES, "zero")
	_, err = backends.New(backends.Options{Platform: PlatformName})
	require.Error(t, err)
}

func TestAllocator(t *testing.T) {
	backend := must.M1(NewWithDevices(2, backends.Options{}))
	allocator := backend.HostAllocator()
	scoped, err := backends.AllocateScopedShapedBuffer(allocator, shapes.Make(dtypes.Float64, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(24), allocator.LiveBytes(1))
	assert.Equal(t, int64(0), allocator.LiveBytes(0))
	mem := scoped.Buffers()[0]
	assert.Len(t, mem.Opaque.(*Buffer).Bytes(), 24)

	require.Error(t, allocator.Deallocate(0, mem), "wrong device")
	require.NoError(t, scoped.Finalize())
	assert.Equal(t, int64(0), allocator.LiveBytes(1))
	require.Error(t, allocator.Deallocate(1, mem), "double free")

	_, err = allocator.Allocate(2, 8)
	require.Error(t, err)
	require.Error(t, allocator.Deallocate(0, backends.DeviceMemory{Opaque: "foo"}))
}

func TestCompile(t *testing.T) {
	backend := must.M1(NewWithDevices(4, backends.Options{}))
	compiler := backend.Compiler()
	module := newModule(t, "negate")
	executor := must.M1(backend.StreamExecutor(2))

	optimized, err := compiler.RunHloPasses(module, executor, backends.CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, HloPasses, optimized.Passes())
	assert.False(t, module.IsOptimized())
	assert.Equal(t, "(f32[4]{0}) => f32[4]{0}", optimized.Config().EntryComputationLayout().String())

	exec, err := compiler.RunBackend(optimized, executor, backends.CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, exec.DeviceOrdinal())
	assert.Same(t, optimized, exec.Module())
	exec.Finalize()
	assert.True(t, exec.(*Executable).IsFinalized())

	// Unsupported opcode.
	_, err = compiler.RunHloPasses(newModule(t, "custom-call"), executor, backends.CompileOptions{})
	require.ErrorContains(t, err, `opcode "custom-call"`)

	// Executor from another platform.
	_, err = compiler.RunBackend(module, foreignExecutor{}, backends.CompileOptions{})
	require.Error(t, err)
}

type foreignExecutor struct{}

func (foreignExecutor) DeviceOrdinal() int   { return 0 }
func (foreignExecutor) PlatformName() string { return "elsewhere" }

func TestCompileMultiplePartitions(t *testing.T) {
	backend := must.M1(NewWithDevices(4, backends.Options{}))
	compiler := backend.Compiler()
	executor := must.M1(backend.StreamExecutor(0))
	executors := [][]backends.Executor{{executor, executor, executor, executor}}

	// Parallelism 0 means the pool is always full: slots are compiled inline.
	for _, pool := range []backends.ThreadPool{nil, workerspool.NewWithParallelism(2), workerspool.NewWithParallelism(0)} {
		options := backends.CompileOptions{ThreadPool: pool}
		execs, err := compiler.Compile([]*hlo.Module{newModule(t, "negate")}, executors, options)
		require.NoError(t, err)
		require.Len(t, execs, 4)
		for _, exec := range execs {
			assert.Equal(t, 0, exec.DeviceOrdinal())
			assert.True(t, exec.Module().IsOptimized())
		}

		// One failure fails all.
		_, err = compiler.Compile([]*hlo.Module{newModule(t, "custom-call")}, executors, options)
		require.Error(t, err)
	}

	_, err := compiler.Compile([]*hlo.Module{newModule(t, "negate")}, nil, backends.CompileOptions{})
	require.Error(t, err)
	_, err = compiler.Compile([]*hlo.Module{newModule(t, "negate")}, [][]backends.Executor{{}}, backends.CompileOptions{})
	require.Error(t, err)
}

func TestCompileAllFinalizesOnFailure(t *testing.T) {
	backend := must.M1(NewWithDevices(2, backends.Options{}))
	executor0 := must.M1(backend.StreamExecutor(0))
	executor1 := must.M1(backend.StreamExecutor(1))
	executors := [][]backends.Executor{{executor0, executor1, executor0}}
	module := newModule(t, "negate")

	for _, pool := range []backends.ThreadPool{nil, workerspool.NewWithParallelism(1)} {
		var mu sync.Mutex
		var built []*Executable
		results, err := compileAll([]*hlo.Module{module}, executors, backends.CompileOptions{ThreadPool: pool},
			func(module *hlo.Module, executor backends.Executor) (backends.Executable, error) {
				if executor.DeviceOrdinal() == 1 {
					return nil, errors.New("device 1 is broken")
				}
				exec := newExecutable(module, executor.DeviceOrdinal())
				mu.Lock()
				built = append(built, exec)
				mu.Unlock()
				return exec, nil
			})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compiling slot #1 (device 1)")
		assert.Nil(t, results)
		require.Len(t, built, 2)
		for _, exec := range built {
			assert.True(t, exec.IsFinalized())
		}
	}
}

func TestAotResults(t *testing.T) {
	backend := must.M1(NewWithDevices(2, backends.Options{}))
	compiler := backend.Compiler()
	executor := must.M1(backend.StreamExecutor(1))
	results, err := compiler.CompileAheadOfTime([]*hlo.Module{newModule(t, "negate")},
		[][]backends.Executor{{executor, executor}}, backends.CompileOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].ID(), results[1].ID())

	data, err := results[0].SerializeAsString()
	require.NoError(t, err)
	loaded, err := LoadAotResult(data)
	require.NoError(t, err)
	assert.Equal(t, results[0].ID(), loaded.ID())
	assert.Equal(t, 1, loaded.DeviceOrdinal)
	module, err := loaded.Module()
	require.NoError(t, err)
	assert.Equal(t, "negate", module.Name())
	assert.Equal(t, "(f32[4]) => f32[4]{0}", module.Config().EntryComputationLayout().String())

	_, err = LoadAotResult([]byte("garbage"))
	require.Error(t, err)
}
