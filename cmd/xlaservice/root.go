// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/xlaservice/xla"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	platform   string
	replicas   int

	// service is created lazily by newService.
	service *xla.LocalService
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "xlaservice",
		Short:         "Local compilation service for XLA-style programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"YAML file with the service options (platform, number_of_replicas, intra_op_parallelism_threads, allowed_devices)")
	cmd.PersistentFlags().StringVar(&opts.platform, "platform", "",
		"Platform to use, overrides the configuration. Defaults to $XLASERVICE_PLATFORM or the first registered one.")
	cmd.PersistentFlags().IntVar(&opts.replicas, "replicas", 0,
		"Number of replicas, overrides the configuration.")

	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newAotCommand(opts))
	cmd.AddCommand(newPlaceCommand(opts))
	return cmd
}

// serviceOptions returns the options from --config, overridden by the command-line flags.
func (opts *rootOptions) serviceOptions() (xla.ServiceOptions, error) {
	options := xla.DefaultServiceOptions()
	if opts.configPath != "" {
		var err error
		options, err = xla.LoadServiceOptions(opts.configPath)
		if err != nil {
			return options, err
		}
	}
	if opts.platform != "" {
		options.Platform = opts.platform
	}
	if opts.replicas != 0 {
		options.NumberOfReplicas = opts.replicas
	}
	return options, nil
}

// newService creates the LocalService on first use.
func (opts *rootOptions) newService() (*xla.LocalService, error) {
	if opts.service != nil {
		return opts.service, nil
	}
	options, err := opts.serviceOptions()
	if err != nil {
		return nil, err
	}
	opts.service, err = xla.NewLocalService(options)
	return opts.service, err
}

// loadProgram reads a program saved with "xlaservice build" (or hlo.ModuleProto.Save), and
// checks it declares its signature, which is required to compile it.
func loadProgram(path string) (*hlo.ModuleProto, error) {
	proto, err := hlo.Load(path)
	if err != nil {
		return nil, err
	}
	if !proto.HasHostProgramShape() {
		return nil, errors.Errorf("program %q in %s has no host program shape", proto.Name, path)
	}
	return proto, nil
}
