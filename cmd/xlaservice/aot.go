// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/xlaservice/aotstore"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type aotOptions struct {
	compileFlags
	storePath string
	quiet     bool
}

func newAotCommand(root *rootOptions) *cobra.Command {
	opts := &aotOptions{}
	cmd := &cobra.Command{
		Use:   "aot <program>",
		Short: "Compile a saved program ahead-of-time and store the artifacts",
		Long: `Compile a saved program ahead-of-time, one artifact per partition, and store them in a
SQLite database under the fingerprint of the program.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, layouts, buildOptions, err := opts.prepare(args[0])
			if err != nil {
				return err
			}
			service, err := root.newService()
			if err != nil {
				return err
			}
			results, err := service.CompileAotResults(proto, layouts, buildOptions)
			if err != nil {
				return err
			}

			store, err := aotstore.Open(opts.storePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var bar *progressbar.ProgressBar
			if !opts.quiet {
				bar = progressbar.NewOptions(len(results),
					progressbar.OptionSetDescription("storing artifacts"),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish())
			}
			var totalSize int
			fingerprint, err := store.PutResults(cmd.Context(), proto, service.Backend().PlatformName(), results,
				func(entry aotstore.Entry) {
					totalSize += entry.Size
					if bar != nil {
						_ = bar.Add(1)
					}
				})
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: stored %d artifact(s) (%s) under fingerprint %s\n",
				proto.Name, len(results), humanize.Bytes(uint64(totalSize)), fingerprint)
			return err
		},
	}
	opts.register(cmd.Flags())
	cmd.PersistentFlags().StringVar(&opts.storePath, "store", "artifacts.db", "SQLite database of artifacts")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Don't display a progress bar")
	cmd.AddCommand(newAotListCommand(opts), newAotDeleteCommand(opts))
	return cmd
}

func newAotListCommand(opts *aotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := aotstore.Open(opts.storePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, err = fmt.Fprintf(w, "no artifacts in %s\n", opts.storePath)
				return err
			}
			table := newTable(w, "Program", "Fingerprint", "Partition", "Platform", "Size", "Created")
			for _, entry := range entries {
				table.Row(entry.ProgramName, shortFingerprint(entry.Fingerprint), strconv.Itoa(entry.Partition),
					entry.Platform, humanize.Bytes(uint64(entry.Size)), humanize.Time(entry.CreatedAt))
			}
			_, err = fmt.Fprintln(w, table.Render())
			return err
		},
	}
}

func newAotDeleteCommand(opts *aotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Delete all the artifacts stored under a program fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := aotstore.Open(opts.storePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			count, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d artifact(s)\n", count)
			return err
		},
	}
}

// shortFingerprint returns the first 12 hex digits of the fingerprint.
func shortFingerprint(fingerprint string) string {
	if len(fingerprint) <= 12 {
		return fingerprint
	}
	return fingerprint[:12]
}
