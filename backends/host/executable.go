// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package host

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Compile-time check:
var _ backends.Executable = (*Executable)(nil)

// Executable is a module compiled for one host device.
type Executable struct {
	id            uuid.UUID
	module        *hlo.Module
	deviceOrdinal int
	finalized     atomic.Bool
}

func newExecutable(module *hlo.Module, deviceOrdinal int) *Executable {
	return &Executable{id: uuid.New(), module: module, deviceOrdinal: deviceOrdinal}
}

// ID uniquely identifies the executable.
func (e *Executable) ID() uuid.UUID { return e.id }

// Module implements backends.Executable.
func (e *Executable) Module() *hlo.Module { return e.module }

// DeviceOrdinal implements backends.Executable.
func (e *Executable) DeviceOrdinal() int { return e.deviceOrdinal }

// Finalize implements backends.Executable.
func (e *Executable) Finalize() { e.finalized.Store(true) }

// IsFinalized returns whether Finalize was called.
func (e *Executable) IsFinalized() bool { return e.finalized.Load() }

// String implements fmt.Stringer.
func (e *Executable) String() string {
	return fmt.Sprintf("host.Executable(%q, device=%d, layout=%s)",
		e.module.Name(), e.deviceOrdinal, e.module.Config().EntryComputationLayout())
}

// Compile-time check:
var _ backends.AotCompilationResult = (*AotResult)(nil)

// AotResult is the ahead-of-time compilation artifact of the host platform: the module, its
// configuration and the passes run, serialized with gob.
type AotResult struct {
	ArtifactID    string
	DeviceOrdinal int
	Proto         *hlo.ModuleProto
	Config        hlo.ModuleConfigOptions
	Passes        []string
}

func newAotResult(module *hlo.Module, deviceOrdinal int) (*AotResult, error) {
	return &AotResult{
		ArtifactID:    uuid.NewString(),
		DeviceOrdinal: deviceOrdinal,
		Proto:         module.Proto(),
		Config:        module.Config().Options(),
		Passes:        module.Passes(),
	}, nil
}

// ID implements backends.AotCompilationResult.
func (r *AotResult) ID() string { return r.ArtifactID }

// SerializeAsString implements backends.AotCompilationResult.
func (r *AotResult) SerializeAsString() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, errors.Wrapf(err, "failed to serialize AOT result %s", r.ArtifactID)
	}
	return buf.Bytes(), nil
}

// Module rebuilds the compiled module from the artifact.
func (r *AotResult) Module() (*hlo.Module, error) {
	module, err := hlo.NewModule(r.Proto, hlo.NewModuleConfig(r.Config))
	if err != nil {
		return nil, errors.WithMessagef(err, "AOT result %s", r.ArtifactID)
	}
	return module.WithPasses(r.Passes...), nil
}

// LoadAotResult deserializes an artifact created with AotResult.SerializeAsString.
func LoadAotResult(data []byte) (*AotResult, error) {
	r := &AotResult{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(r); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize host AOT result")
	}
	if _, err := uuid.Parse(r.ArtifactID); err != nil {
		return nil, errors.Wrapf(err, "invalid AOT result id %q", r.ArtifactID)
	}
	return r, nil
}
