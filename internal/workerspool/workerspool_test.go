// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	pool := NewWithParallelism(2)
	assert.Equal(t, 2, pool.NumThreads())

	var running, maxRunning, count atomic.Int32
	var wg sync.WaitGroup
	const numTasks = 20
	wg.Add(numTasks)
	for range numTasks {
		pool.Schedule(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				prev := maxRunning.Load()
				if current <= prev || maxRunning.CompareAndSwap(prev, current) {
					break
				}
			}
			runtime.Gosched()
			time.Sleep(time.Millisecond)
			count.Add(1)
			running.Add(-1)
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		// Success
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout before all tasks were executed.")
	}
	assert.Equal(t, int32(numTasks), count.Load())
	assert.LessOrEqual(t, int(maxRunning.Load()), goroutineToParallelismRatio*2)
}

func TestPool_NoParallelism(t *testing.T) {
	pool := NewWithParallelism(0)
	assert.Equal(t, 1, pool.NumThreads())
	var count int
	pool.Schedule(func() { count++ })
	assert.Equal(t, 1, count, "task should have run inline")
	assert.False(t, pool.StartIfAvailable(func() {}))
}

func TestPool_Unlimited(t *testing.T) {
	pool := NewWithParallelism(-1)
	assert.True(t, pool.IsUnlimited())
	assert.Equal(t, runtime.NumCPU(), pool.NumThreads())
	var count atomic.Int32
	tasks := make([]func(), 10)
	for ii := range tasks {
		tasks[ii] = func() { count.Add(1) }
	}
	pool.RunAll(tasks...)
	assert.Equal(t, int32(10), count.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := NewWithParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	started := 0
	for range goroutineToParallelismRatio {
		wg.Add(1)
		require.True(t, pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
		}))
		started++
	}
	assert.False(t, pool.StartIfAvailable(func() {}), "pool should be full")

	close(release)
	wg.Wait()
	assert.Equal(t, goroutineToParallelismRatio, started)

	// Slots are available again once tasks finish.
	require.Eventually(t, func() bool {
		ok := pool.StartIfAvailable(func() {})
		return ok
	}, 5*time.Second, time.Millisecond)
}
