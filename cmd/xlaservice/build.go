// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type buildOptions struct {
	name       string
	params     []string
	opcode     string
	result     string
	sourceFile string
	output     string
}

// newBuildCommand creates a program whose root instruction applies one operation to all its
// parameters, and saves it to a file.
func newBuildCommand(_ *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a single-operation program and save it",
		Long: `Build a program with the given parameters whose result is one operation applied to all of them.

Parameters are given as "name=shape" (e.g. "x=f32[2,2]"); the shape alone is also accepted, in which
case the parameter is named "p<i>". With --source, the parameters carry source metadata
("<file>:<i+1>"), reported when an argument layout doesn't match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := opts.build()
			if err != nil {
				return err
			}
			if err := proto.Save(opts.output); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", opts.output, proto.HostProgramShape)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "program", "Name of the program")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, `Parameter as "name=shape", can be repeated`)
	cmd.Flags().StringVar(&opts.opcode, "op", "tuple", "Opcode of the root instruction")
	cmd.Flags().StringVar(&opts.result, "result", "",
		"Result shape. Defaults to the tuple of the parameters for --op=tuple, otherwise to the first parameter shape")
	cmd.Flags().StringVar(&opts.sourceFile, "source", "", "Source file recorded in the parameters metadata")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "program.hlo", "Output file")
	return cmd
}

func (opts *buildOptions) build() (*hlo.ModuleProto, error) {
	builder := hlo.NewModuleBuilder(opts.name)
	var (
		paramShapes []shapes.Shape
		operands    []int64
	)
	for ii, param := range opts.params {
		name, shapeText, found := strings.Cut(param, "=")
		if !found {
			name, shapeText = "p"+strconv.Itoa(ii), param
		}
		shape, err := shapes.Parse(shapeText)
		if err != nil {
			return nil, errors.WithMessagef(err, "parameter #%d", ii)
		}
		var metadata *hlo.OpMetadata
		if opts.sourceFile != "" {
			metadata = &hlo.OpMetadata{OpType: hlo.OpcodeParameter, OpName: name,
				SourceFile: opts.sourceFile, SourceLine: ii + 1}
		}
		paramShapes = append(paramShapes, shape)
		operands = append(operands, builder.Parameter(name, shape, metadata))
	}

	var result shapes.Shape
	switch {
	case opts.result != "":
		var err error
		result, err = shapes.Parse(opts.result)
		if err != nil {
			return nil, errors.WithMessage(err, "--result")
		}
	case opts.opcode == "tuple":
		result = shapes.MakeTuple(paramShapes...)
	case len(paramShapes) > 0:
		result = paramShapes[0]
	default:
		return nil, errors.Errorf("--result is required for --op=%s without parameters", opts.opcode)
	}
	builder.Op(opts.opcode, result, operands...)
	return builder.Build()
}
