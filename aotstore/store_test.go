// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aotstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/backends/host"
	"github.com/gomlx/xlaservice/types/shapes"
	"github.com/gomlx/xlaservice/xla"
	"github.com/gomlx/xlaservice/xla/hlo"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "artifacts.db"))
}

func openTestStoreAt(t *testing.T, path string) *Store {
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	createdAt := time.Unix(1700000000, 0)
	require.NoError(t, store.Put(ctx, Entry{
		Fingerprint: "abc", Partition: 1, ArtifactID: "id-1", ProgramName: "prog", Platform: "host",
		CreatedAt: createdAt, Data: []byte("payload"),
	}))

	entry, err := store.Get(ctx, "abc", 1)
	require.NoError(t, err)
	assert.Equal(t, "id-1", entry.ArtifactID)
	assert.Equal(t, "prog", entry.ProgramName)
	assert.Equal(t, []byte("payload"), entry.Data)
	assert.Equal(t, 7, entry.Size)
	assert.True(t, createdAt.Equal(entry.CreatedAt))

	// Replace.
	require.NoError(t, store.Put(ctx, Entry{
		Fingerprint: "abc", Partition: 1, ArtifactID: "id-2", ProgramName: "prog", Platform: "host",
		Data: []byte("new"),
	}))
	entry, err = store.Get(ctx, "abc", 1)
	require.NoError(t, err)
	assert.Equal(t, "id-2", entry.ArtifactID)

	_, err = store.Get(ctx, "abc", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.Error(t, store.Put(ctx, Entry{ArtifactID: "no-fingerprint"}))
	require.Error(t, store.Put(ctx, Entry{Fingerprint: "abc", ArtifactID: "x", Partition: -1}))

	count, err := store.Delete(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = store.Get(ctx, "abc", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutResults(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "artifacts.db")
	store, err := Open(dbPath)
	require.NoError(t, err)

	backend := must.M1(host.NewWithDevices(2, backends.Options{}))
	service := must.M1(xla.NewLocalServiceWithBackend(xla.DefaultServiceOptions(), backend, nil))
	b := hlo.NewModuleBuilder("scale")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 8), nil)
	b.Op("multiply", shapes.Make(dtypes.Float32, 8), x, x)
	program := must.M1(b.Build())
	results, err := service.CompileAotResults(program, []shapes.Shape{shapes.Make(dtypes.Float32, 8)},
		xla.NewExecutableBuildOptions().WithNumPartitions(3))
	require.NoError(t, err)

	var stored []int
	fingerprint, err := store.PutResults(ctx, program, backend.PlatformName(), results,
		func(entry Entry) { stored = append(stored, entry.Partition) })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, stored)
	assert.Equal(t, must.M1(program.Fingerprint()), fingerprint)
	require.NoError(t, store.Close())

	// Reopen and load the artifacts back.
	store = openTestStoreAt(t, dbPath)
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for partition, entry := range entries {
		assert.Equal(t, partition, entry.Partition)
		assert.Equal(t, "scale", entry.ProgramName)
		assert.Equal(t, host.PlatformName, entry.Platform)
		assert.Empty(t, entry.Data)
		assert.Greater(t, entry.Size, 0)

		stored, err := store.Get(ctx, fingerprint, partition)
		require.NoError(t, err)
		loaded, err := host.LoadAotResult(stored.Data)
		require.NoError(t, err)
		assert.Equal(t, results[partition].ID(), loaded.ID())
		module, err := loaded.Module()
		require.NoError(t, err)
		assert.Equal(t, 3, module.Config().NumPartitions())
	}
}

func TestPutResultsReplacesPartitions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	backend := must.M1(host.NewWithDevices(4, backends.Options{}))
	service := must.M1(xla.NewLocalServiceWithBackend(xla.DefaultServiceOptions(), backend, nil))
	b := hlo.NewModuleBuilder("negate")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 4), nil)
	b.Op("negate", shapes.Make(dtypes.Float32, 4), x)
	program := must.M1(b.Build())
	compile := func(numPartitions int) []backends.AotCompilationResult {
		results, err := service.CompileAotResults(program, []shapes.Shape{shapes.Make(dtypes.Float32, 4)},
			xla.NewExecutableBuildOptions().WithNumPartitions(numPartitions))
		require.NoError(t, err)
		return results
	}

	fingerprint, err := store.PutResults(ctx, program, backend.PlatformName(), compile(4), nil)
	require.NoError(t, err)
	require.Len(t, must.M1(store.List(ctx)), 4)

	// Recompiling with fewer partitions must not leave the old ones behind.
	second := compile(2)
	var stored []int
	_, err = store.PutResults(ctx, program, backend.PlatformName(), second,
		func(entry Entry) { stored = append(stored, entry.Partition) })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, stored)
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for partition, entry := range entries {
		assert.Equal(t, second[partition].ID(), entry.ArtifactID)
	}
	for _, partition := range []int{2, 3} {
		_, err = store.Get(ctx, fingerprint, partition)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}
