// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package speller

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolSizeDefaults(t *testing.T) {
	pool, err := NewPool(testConfig(), PoolConfig{Seed: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Greater(t, pool.Size(), 0)

	pool, err = NewPool(testConfig(), PoolConfig{Size: 3, Seed: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
}

func TestPoolRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VocabSize = 0
	_, err := NewPool(cfg, PoolConfig{Size: 1, Seed: 1}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPoolConcurrentDecodes(t *testing.T) {
	pool, err := NewPool(testConfig(), PoolConfig{Size: 2, Seed: 7}, zaptest.NewLogger(t))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := pool.Decode(context.Background(), nil, autoregressiveOpts())
			if err != nil {
				errs <- err
				return
			}
			if len(result.Outputs) != 5 || len(result.Lengths) != 1 {
				errs <- errors.New("unexpected result shape")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stats := pool.QueueStats()
	assert.Equal(t, int64(workers), stats.TotalProcessed)
}

func TestPoolQueueBackpressure(t *testing.T) {
	pool, err := NewPool(testConfig(), PoolConfig{
		Size: 1,
		Seed: 7,
		Queue: DecodeQueueConfig{
			MaxConcurrent: 1,
			MaxQueueSize:  1,
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	const workers = 12
	var wg sync.WaitGroup
	var full int
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Decode(context.Background(), nil, autoregressiveOpts())
			if errors.Is(err, ErrQueueFull) {
				mu.Lock()
				full++
				mu.Unlock()
			} else if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stats := pool.QueueStats()
	assert.Equal(t, int64(full), stats.TotalRejected)
	assert.Equal(t, int64(workers-full), stats.TotalProcessed)
}

func TestPoolDeterministicWithSeed(t *testing.T) {
	decodeOnce := func() *DecodeResult {
		pool, err := NewPool(testConfig(), PoolConfig{Size: 1, Seed: 99}, zaptest.NewLogger(t))
		require.NoError(t, err)
		result, err := pool.Decode(context.Background(), nil, autoregressiveOpts())
		require.NoError(t, err)
		return result
	}

	a := decodeOnce()
	b := decodeOnce()
	assert.Equal(t, a.Sequence, b.Sequence)
	assert.Equal(t, a.Lengths, b.Lengths)
}
