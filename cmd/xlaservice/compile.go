// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// compileFlags are the flags shared by "compile" and "aot".
type compileFlags struct {
	args           []string
	partitions     int
	device         int
	resultLayout   string
	runBackendOnly bool
	spmd           bool
}

func (f *compileFlags) register(flags *pflag.FlagSet) {
	flags.StringArrayVar(&f.args, "arg", nil,
		"Argument layout (e.g. \"f32[2,2]{0,1}\"), one per parameter in order. Defaults to the parameter shapes")
	flags.IntVar(&f.partitions, "partitions", 1, "Number of partitions")
	flags.IntVar(&f.device, "device", -1, "Device ordinal, -1 for the backend default")
	flags.StringVar(&f.resultLayout, "result-layout", "", "Layout of the result (e.g. \"f32[4]{0}\")")
	flags.BoolVar(&f.runBackendOnly, "backend-only", false, "Skip the optimization passes")
	flags.BoolVar(&f.spmd, "spmd", false, "Use SPMD partitioning")
}

// argumentLayouts parses --arg, or returns the program parameter shapes if none were given.
// The program must have a host program shape, see loadProgram.
func (f *compileFlags) argumentLayouts(proto *hlo.ModuleProto) ([]shapes.Shape, error) {
	if len(f.args) == 0 {
		return proto.ProgramShape().Parameters, nil
	}
	layouts := make([]shapes.Shape, 0, len(f.args))
	for ii, text := range f.args {
		shape, err := shapes.Parse(text)
		if err != nil {
			return nil, errors.WithMessagef(err, "--arg #%d", ii)
		}
		layouts = append(layouts, shape)
	}
	return layouts, nil
}

func (f *compileFlags) buildOptions() (*xla.ExecutableBuildOptions, error) {
	options := xla.NewExecutableBuildOptions().
		WithDeviceOrdinal(f.device).
		WithNumPartitions(f.partitions).
		WithRunBackendOnly(f.runBackendOnly).
		WithSPMDPartitioning(f.spmd)
	if f.resultLayout != "" {
		shape, err := shapes.Parse(f.resultLayout)
		if err != nil {
			return nil, errors.WithMessage(err, "--result-layout")
		}
		options = options.WithResultLayout(shape)
	}
	return options, nil
}

// prepare loads the program and parses the flags.
func (f *compileFlags) prepare(path string) (*hlo.ModuleProto, []shapes.Shape, *xla.ExecutableBuildOptions, error) {
	proto, err := loadProgram(path)
	if err != nil {
		return nil, nil, nil, err
	}
	layouts, err := f.argumentLayouts(proto)
	if err != nil {
		return nil, nil, nil, err
	}
	buildOptions, err := f.buildOptions()
	if err != nil {
		return nil, nil, nil, err
	}
	return proto, layouts, buildOptions, nil
}

func newCompileCommand(root *rootOptions) *cobra.Command {
	flags := &compileFlags{}
	cmd := &cobra.Command{
		Use:   "compile <program>",
		Short: "Compile a saved program into executables, one per partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, layouts, buildOptions, err := flags.prepare(args[0])
			if err != nil {
				return err
			}
			service, err := root.newService()
			if err != nil {
				return err
			}
			executables, err := service.CompileExecutables(proto, layouts, buildOptions)
			if err != nil {
				return err
			}
			defer func() {
				for _, executable := range executables {
					executable.Finalize()
				}
			}()

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, title(w, fmt.Sprintf("%s: %d executable(s) on %q",
				proto.Name, len(executables), service.Backend().PlatformName())))
			table := newTable(w, "Partition", "Device", "Layout", "Passes")
			for ii, executable := range executables {
				module := executable.Module()
				passes := "-"
				if module.IsOptimized() {
					passes = strings.Join(module.Passes(), ",")
				}
				table.Row(strconv.Itoa(ii), strconv.Itoa(executable.DeviceOrdinal()),
					module.Config().EntryComputationLayout().String(), passes)
			}
			fmt.Fprintln(w, table.Render())
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
