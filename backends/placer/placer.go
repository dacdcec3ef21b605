// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package placer maps (replica, computation) slots to device ids.
package placer

import (
	"fmt"
	"strings"

	"github.com/gomlx/xlaservice/xla/status"
	"golang.org/x/exp/constraints"
)

// ComputationPlacer assigns device ids to the replicas and computations (partitions) of a
// replicated program.
//
// The zero value is ready to use: replica r of computation c goes to device c*replicaCount+r.
type ComputationPlacer struct{}

// New returns the default ComputationPlacer.
func New() *ComputationPlacer {
	return &ComputationPlacer{}
}

// DeviceID returns the device id for the given replica and computation.
//
// It returns an InvalidPlacement error if any of the counts is < 1 or if replica/computation
// are out of range.
func (p *ComputationPlacer) DeviceID(replica, computation, replicaCount, computationCount int) (int, error) {
	if err := checkCount("replica_count", replicaCount); err != nil {
		return 0, err
	}
	if err := checkCount("computation_count", computationCount); err != nil {
		return 0, err
	}
	if err := checkIndex("replica", replica, replicaCount); err != nil {
		return 0, err
	}
	if err := checkIndex("computation", computation, computationCount); err != nil {
		return 0, err
	}
	return computation*replicaCount + replica, nil
}

// AssignDevices returns the static device assignment for replicaCount x computationCount.
func (p *ComputationPlacer) AssignDevices(replicaCount, computationCount int) (*DeviceAssignment, error) {
	if err := checkCount("replica_count", replicaCount); err != nil {
		return nil, err
	}
	if err := checkCount("computation_count", computationCount); err != nil {
		return nil, err
	}
	assignment := NewDeviceAssignment(replicaCount, computationCount)
	for replica := range replicaCount {
		for computation := range computationCount {
			deviceID, err := p.DeviceID(replica, computation, replicaCount, computationCount)
			if err != nil {
				return nil, err
			}
			assignment.Set(replica, computation, deviceID)
		}
	}
	return assignment, nil
}

func checkCount[T constraints.Integer](name string, count T) error {
	if count < 1 {
		return status.InvalidArgumentf(status.InvalidPlacement, "%s must be >= 1, got %d", name, count)
	}
	return nil
}

func checkIndex[T constraints.Integer](name string, index, count T) error {
	if index < 0 || index >= count {
		return status.InvalidArgumentf(status.InvalidPlacement,
			"%s %d out of range; must be in [0, %d)", name, index, count)
	}
	return nil
}

// DeviceAssignment is the table of device ids per (replica, computation).
//
// Devices is stored replica-major: Devices[replica*ComputationCount+computation].
type DeviceAssignment struct {
	ReplicaCount, ComputationCount int
	Devices                        []int
}

// NewDeviceAssignment creates a DeviceAssignment with all entries set to 0.
func NewDeviceAssignment(replicaCount, computationCount int) *DeviceAssignment {
	return &DeviceAssignment{
		ReplicaCount:     replicaCount,
		ComputationCount: computationCount,
		Devices:          make([]int, max(replicaCount*computationCount, 0)),
	}
}

// Get returns the device assigned to (replica, computation). It panics if out of range.
func (a *DeviceAssignment) Get(replica, computation int) int {
	return a.Devices[a.index(replica, computation)]
}

// Set the device for (replica, computation). It panics if out of range.
func (a *DeviceAssignment) Set(replica, computation, device int) {
	a.Devices[a.index(replica, computation)] = device
}

func (a *DeviceAssignment) index(replica, computation int) int {
	if replica < 0 || replica >= a.ReplicaCount || computation < 0 || computation >= a.ComputationCount {
		panic(fmt.Sprintf("DeviceAssignment: (replica=%d, computation=%d) out of range for %dx%d",
			replica, computation, a.ReplicaCount, a.ComputationCount))
	}
	return replica*a.ComputationCount + computation
}

// Validate checks that the table is consistent with its dimensions and has no negative devices.
func (a *DeviceAssignment) Validate() error {
	if a.ReplicaCount < 1 || a.ComputationCount < 1 {
		return status.InvalidArgumentf(status.InvalidPlacement,
			"device assignment must have at least 1 replica and 1 computation, got %dx%d",
			a.ReplicaCount, a.ComputationCount)
	}
	if len(a.Devices) != a.ReplicaCount*a.ComputationCount {
		return status.InvalidArgumentf(status.InvalidPlacement,
			"device assignment %dx%d has %d entries", a.ReplicaCount, a.ComputationCount, len(a.Devices))
	}
	for ii, device := range a.Devices {
		if device < 0 {
			return status.InvalidArgumentf(status.InvalidPlacement,
				"device assignment entry %d has negative device %d", ii, device)
		}
	}
	return nil
}

// Clone returns a deep copy, or nil if a is nil.
func (a *DeviceAssignment) Clone() *DeviceAssignment {
	if a == nil {
		return nil
	}
	a2 := *a
	a2.Devices = append([]int(nil), a.Devices...)
	return &a2
}

// String returns one line per replica, listing the devices of each computation.
func (a *DeviceAssignment) String() string {
	if a == nil {
		return "<nil>"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "DeviceAssignment(%dx%d)", a.ReplicaCount, a.ComputationCount)
	for replica := range a.ReplicaCount {
		_, _ = fmt.Fprintf(&sb, "\n  replica %d:", replica)
		for computation := range a.ComputationCount {
			_, _ = fmt.Fprintf(&sb, " %d", a.Get(replica, computation))
		}
	}
	return sb.String()
}
