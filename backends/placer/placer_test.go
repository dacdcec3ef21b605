// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package placer

import (
	"testing"

	"github.com/gomlx/xlaservice/xla/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceID(t *testing.T) {
	p := New()
	for replica := range 4 {
		id, err := p.DeviceID(replica, 0, 4, 1)
		require.NoError(t, err)
		assert.Equal(t, replica, id)

		// Deterministic.
		id2, err := p.DeviceID(replica, 0, 4, 1)
		require.NoError(t, err)
		assert.Equal(t, id, id2)
	}
	id, err := p.DeviceID(1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	for _, args := range [][4]int{
		{4, 0, 4, 1},  // replica out of range
		{-1, 0, 4, 1}, // negative replica
		{0, 1, 4, 1},  // computation out of range
		{0, 0, 0, 1},  // no replicas
		{0, 0, 1, 0},  // no computations
	} {
		_, err := p.DeviceID(args[0], args[1], args[2], args[3])
		require.Errorf(t, err, "DeviceID%v should have failed", args)
		assert.Equal(t, status.InvalidPlacement, status.KindOf(err))
		assert.Equal(t, status.INVALID_ARGUMENT, status.CodeOf(err))
	}
}

func TestAssignDevices(t *testing.T) {
	p := New()
	assignment, err := p.AssignDevices(2, 3)
	require.NoError(t, err)
	require.NoError(t, assignment.Validate())
	assert.Equal(t, 0, assignment.Get(0, 0))
	assert.Equal(t, 1, assignment.Get(1, 0))
	assert.Equal(t, 4, assignment.Get(0, 2))
	assert.Equal(t, 5, assignment.Get(1, 2))
	assert.Equal(t, "DeviceAssignment(2x3)\n  replica 0: 0 2 4\n  replica 1: 1 3 5", assignment.String())

	clone := assignment.Clone()
	clone.Set(0, 0, 10)
	assert.Equal(t, 0, assignment.Get(0, 0))
	assert.Panics(t, func() { assignment.Get(2, 0) })

	_, err = p.AssignDevices(0, 1)
	require.Error(t, err)

	bad := &DeviceAssignment{ReplicaCount: 2, ComputationCount: 1, Devices: []int{0}}
	require.Error(t, bad.Validate())
	bad.Devices = []int{0, -1}
	require.Error(t, bad.Validate())
}
