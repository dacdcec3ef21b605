// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"

	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SupportedOpcodes lists the opcodes the host compiler accepts.
var SupportedOpcodes = map[string]bool{
	hlo.OpcodeParameter: true,
	"constant":          true,
	"add":               true,
	"subtract":          true,
	"multiply":          true,
	"divide":            true,
	"negate":            true,
	"dot":               true,
	"reshape":           true,
	"transpose":         true,
	"broadcast":         true,
	"reduce":            true,
	"tuple":             true,
	"get-tuple-element": true,
	"all-reduce":        true,
}

// HloPasses are the names of the passes RunHloPasses reports as run.
var HloPasses = []string{"verifier", "layout-assignment"}

// Compile-time check:
var _ backends.Compiler = (*Compiler)(nil)

// Compiler of the host platform.
//
// It doesn't generate code: it verifies the module (opcodes, operands and layouts) and packages
// it as an Executable or an AotResult.
type Compiler struct {
	backend *Backend
}

// PlatformName implements backends.Compiler.
func (c *Compiler) PlatformName() string { return PlatformName }

// checkExecutor verifies the executor belongs to this platform and is allowed.
func (c *Compiler) checkExecutor(executor backends.Executor) error {
	if executor == nil {
		return errors.New("nil executor")
	}
	if executor.PlatformName() != PlatformName {
		return errors.Errorf("executor of platform %q given to the %q compiler", executor.PlatformName(), PlatformName)
	}
	if _, found := c.backend.executors[executor.DeviceOrdinal()]; !found {
		return errors.Errorf("device %d not available", executor.DeviceOrdinal())
	}
	return nil
}

// verify checks the program and the layouts it is configured with.
func verify(module *hlo.Module) error {
	proto := module.Proto()
	entry := proto.EntryComputation()
	if entry == nil {
		return errors.Errorf("module %q has no entry computation (id=%d)", proto.Name, proto.EntryComputationID)
	}
	ids := make(map[int64]bool, len(entry.Instructions))
	for _, instr := range entry.Instructions {
		if !SupportedOpcodes[instr.Opcode] {
			return errors.Errorf("module %q: opcode %q (instruction %q) not supported by the host platform",
				proto.Name, instr.Opcode, instr.Name)
		}
		for _, operand := range instr.Operands {
			if !ids[operand] {
				return errors.Errorf("module %q: instruction %q uses undefined operand %d",
					proto.Name, instr.Name, operand)
			}
		}
		ids[instr.ID] = true
	}

	programShape := proto.ProgramShape()
	layout := module.Config().EntryComputationLayout()
	for ii, param := range layout.ParameterLayouts {
		if !shapes.Compatible(param, programShape.Parameters[ii]) {
			return errors.Errorf("module %q: parameter layout #%d %s incompatible with parameter shape %s",
				proto.Name, ii, param, programShape.Parameters[ii])
		}
	}
	if !shapes.Compatible(layout.ResultLayout, programShape.Result) {
		return errors.Errorf("module %q: result layout %s incompatible with result shape %s",
			proto.Name, layout.ResultLayout, programShape.Result)
	}
	return nil
}

// RunHloPasses implements backends.Compiler. It verifies the module and assigns the default
// layout to parameters without one.
func (c *Compiler) RunHloPasses(module *hlo.Module, executor backends.Executor, _ backends.CompileOptions) (*hlo.Module, error) {
	if err := c.checkExecutor(executor); err != nil {
		return nil, err
	}
	if err := verify(module); err != nil {
		return nil, err
	}
	opts := module.Config().Options()
	for ii, param := range opts.EntryLayout.ParameterLayouts {
		if !param.HasLayout() {
			opts.EntryLayout.ParameterLayouts[ii] = param.WithDefaultLayout()
		}
	}
	optimized, err := hlo.NewModule(module.Proto(), hlo.NewModuleConfig(opts))
	if err != nil {
		return nil, err
	}
	optimized = optimized.WithPasses(module.Passes()...).WithPasses(HloPasses...)
	klog.V(2).Infof("host: ran %v on %q for device %d", HloPasses, module.Name(), executor.DeviceOrdinal())
	return optimized, nil
}

// RunBackend implements backends.Compiler.
func (c *Compiler) RunBackend(module *hlo.Module, executor backends.Executor, _ backends.CompileOptions) (backends.Executable, error) {
	if err := c.checkExecutor(executor); err != nil {
		return nil, err
	}
	if err := verify(module); err != nil {
		return nil, err
	}
	return newExecutable(module, executor.DeviceOrdinal()), nil
}

// compileAll runs compileFn for each (module, executor) pair, concurrently if a thread pool is
// given, and returns the results in order. If any fails, the first error (in order) is returned.
func compileAll[T any](modules []*hlo.Module, executors [][]backends.Executor, options backends.CompileOptions,
	compileFn func(module *hlo.Module, executor backends.Executor) (T, error)) ([]T, error) {
	if len(modules) != len(executors) {
		return nil, errors.Errorf("%d modules given, but %d lists of executors", len(modules), len(executors))
	}
	type job struct {
		module   *hlo.Module
		executor backends.Executor
	}
	var jobs []job
	for ii, module := range modules {
		if len(executors[ii]) == 0 {
			return nil, errors.Errorf("no executors given for module #%d (%q)", ii, module.Name())
		}
		for _, executor := range executors[ii] {
			jobs = append(jobs, job{module, executor})
		}
	}

	results := make([]T, len(jobs))
	errs := make([]error, len(jobs))
	if options.ThreadPool == nil || len(jobs) == 1 {
		for ii, j := range jobs {
			results[ii], errs[ii] = compileFn(j.module, j.executor)
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(len(jobs))
		for ii, j := range jobs {
			task := func() {
				defer wg.Done()
				results[ii], errs[ii] = compileFn(j.module, j.executor)
			}
			if pool, ok := options.ThreadPool.(availabilityPool); ok {
				if !pool.StartIfAvailable(task) {
					task()
				}
			} else {
				options.ThreadPool.Schedule(task)
			}
		}
		wg.Wait()
	}
	for ii, err := range errs {
		if err != nil {
			finalizeAll(results)
			return nil, errors.WithMessagef(err, "compiling slot #%d (device %d)", ii, jobs[ii].executor.DeviceOrdinal())
		}
	}
	return results, nil
}

// availabilityPool is implemented by pools that can report they are full, like
// workerspool.Pool: compileAll then compiles the slot in the calling goroutine.
type availabilityPool interface {
	StartIfAvailable(task func()) bool
}

// finalizeAll frees the results that hold resources (executables).
func finalizeAll[T any](results []T) {
	for _, result := range results {
		if finalizer, ok := any(result).(interface{ Finalize() }); ok {
			finalizer.Finalize()
		}
	}
}

// Compile implements backends.Compiler.
func (c *Compiler) Compile(modules []*hlo.Module, executors [][]backends.Executor, options backends.CompileOptions) (
	[]backends.Executable, error) {
	return compileAll(modules, executors, options,
		func(module *hlo.Module, executor backends.Executor) (backends.Executable, error) {
			optimized, err := c.RunHloPasses(module, executor, options)
			if err != nil {
				return nil, err
			}
			return c.RunBackend(optimized, executor, options)
		})
}

// CompileAheadOfTime implements backends.Compiler. The modules are expected to have gone
// through RunHloPasses already.
func (c *Compiler) CompileAheadOfTime(modules []*hlo.Module, executors [][]backends.Executor,
	options backends.CompileOptions) ([]backends.AotCompilationResult, error) {
	return compileAll(modules, executors, options,
		func(module *hlo.Module, executor backends.Executor) (backends.AotCompilationResult, error) {
			if err := c.checkExecutor(executor); err != nil {
				return nil, err
			}
			if err := verify(module); err != nil {
				return nil, err
			}
			return newAotResult(module, executor.DeviceOrdinal())
		})
}
