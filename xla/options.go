// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xla

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ServiceOptions configure the creation of a LocalService.
type ServiceOptions struct {
	// Platform name of the backend, empty for the default platform.
	Platform string `yaml:"platform"`

	// NumberOfReplicas is the default number of replicas of compiled programs, also used to map
	// replicas to devices. Defaults to 1.
	NumberOfReplicas int `yaml:"number_of_replicas"`

	// IntraOpParallelismThreads is the number of threads used within an op, 0 for the platform default.
	IntraOpParallelismThreads int `yaml:"intra_op_parallelism_threads"`

	// AllowedDevices restricts the devices used, by ordinal. Empty for all devices.
	AllowedDevices []int `yaml:"allowed_devices,omitempty"`
}

// DefaultServiceOptions returns the options used if none are given.
func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{NumberOfReplicas: 1}
}

// ParseServiceOptions parses options in YAML format. Missing fields take their default values.
func ParseServiceOptions(data []byte) (ServiceOptions, error) {
	options := DefaultServiceOptions()
	if err := yaml.Unmarshal(data, &options); err != nil {
		return ServiceOptions{}, errors.Wrap(err, "failed to parse service options")
	}
	if err := options.validate(); err != nil {
		return ServiceOptions{}, err
	}
	return options, nil
}

// LoadServiceOptions reads options from a YAML file.
func LoadServiceOptions(filePath string) (ServiceOptions, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return ServiceOptions{}, errors.Wrapf(err, "failed to read service options from %q", filePath)
	}
	options, err := ParseServiceOptions(data)
	if err != nil {
		return ServiceOptions{}, errors.WithMessagef(err, "in %q", filePath)
	}
	return options, nil
}

// YAML returns the options in YAML format, as read by ParseServiceOptions.
func (o ServiceOptions) YAML() ([]byte, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode service options")
	}
	return data, nil
}

func (o ServiceOptions) validate() error {
	if o.NumberOfReplicas < 1 {
		return errors.Errorf("number_of_replicas must be >= 1, got %d", o.NumberOfReplicas)
	}
	if o.IntraOpParallelismThreads < 0 {
		return errors.Errorf("intra_op_parallelism_threads must be >= 0, got %d", o.IntraOpParallelismThreads)
	}
	for _, device := range o.AllowedDevices {
		if device < 0 {
			return errors.Errorf("allowed_devices must be non-negative, got %v", o.AllowedDevices)
		}
	}
	return nil
}

func (o ServiceOptions) clone() ServiceOptions {
	o.AllowedDevices = slices.Clone(o.AllowedDevices)
	return o
}
