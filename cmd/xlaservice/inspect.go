// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/spf13/cobra"
)

func newInspectCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <program>",
		Short: "Print the signature and parameters of a saved program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := hlo.Load(args[0])
			if err != nil {
				return err
			}
			fingerprint, err := proto.Fingerprint()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, title(w, proto.Name))
			fmt.Fprintf(w, "fingerprint: %s\n", fingerprint)
			if !proto.HasHostProgramShape() {
				fmt.Fprintln(w, "signature:   <missing>")
				return nil
			}
			programShape := proto.ProgramShape()
			fmt.Fprintf(w, "signature:   %s\n", programShape)

			table := newTable(w, "#", "Parameter", "Shape", "Source")
			for ii, param := range programShape.Parameters {
				name := ""
				if ii < len(programShape.ParameterNames) {
					name = programShape.ParameterNames[ii]
				}
				source := "-"
				if metadata := proto.ParameterMetadata(ii); metadata != nil && metadata.SourceFile != "" {
					source = fmt.Sprintf("%s:%d", metadata.SourceFile, metadata.SourceLine)
				}
				table.Row(strconv.Itoa(ii), name, shapes.HumanStringWithLayout(param), source)
			}
			fmt.Fprintln(w, table.Render())
			return nil
		},
	}
}
