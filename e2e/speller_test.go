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

package e2e

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller"
	"github.com/antflydb/speller/pkg/speller/lib/rnn"
)

func TestGreedyDecodeEndToEnd(t *testing.T) {
	cfg := speller.Config{
		VocabSize:  10,
		MaxLength:  5,
		HiddenSize: 4,
		SOSID:      1,
		EOSID:      2,
	}
	sp, err := speller.New(cfg,
		speller.WithLogger(zaptest.NewLogger(t)),
		speller.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	input := &speller.DecodeInput{
		InitialHidden: rnn.ZeroState(rnn.CellGRU, 1, 2, cfg.HiddenSize),
	}
	opts := speller.DefaultDecodeOptions()
	opts.TeacherForcingRatio = 0

	result, err := sp.Decode(context.Background(), input, opts)
	require.NoError(t, err)

	require.Len(t, result.Outputs, 5)
	for step, out := range result.Outputs {
		r, c := out.Dims()
		assert.Equal(t, 2, r, "step %d", step)
		assert.Equal(t, 10, c, "step %d", step)
	}
	require.Len(t, result.Lengths, 2)
	for _, l := range result.Lengths {
		assert.GreaterOrEqual(t, l, 1)
		assert.LessOrEqual(t, l, 5)
	}
	assert.Len(t, result.Sequence, 5)
	assert.Nil(t, result.AttentionScores)
}

func TestAttentiveDecodeEndToEnd(t *testing.T) {
	cfg := speller.Config{
		VocabSize:    10,
		MaxLength:    5,
		HiddenSize:   4,
		SOSID:        1,
		EOSID:        2,
		UseAttention: true,
	}
	sp, err := speller.New(cfg,
		speller.WithLogger(zaptest.NewLogger(t)),
		speller.WithRand(rand.New(rand.NewSource(2))))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	listener := make([]*mat.Dense, 2)
	for b := range listener {
		data := make([]float64, 7*cfg.HiddenSize)
		for i := range data {
			data[i] = rng.NormFloat64()
		}
		listener[b] = mat.NewDense(7, cfg.HiddenSize, data)
	}

	opts := speller.DefaultDecodeOptions()
	opts.TeacherForcingRatio = 0

	result, err := sp.Decode(context.Background(), &speller.DecodeInput{
		InitialHidden:  rnn.ZeroState(rnn.CellGRU, 1, 2, cfg.HiddenSize),
		EncoderOutputs: listener,
	}, opts)
	require.NoError(t, err)

	require.Len(t, result.AttentionScores, len(result.Outputs))
	for step, align := range result.AttentionScores {
		r, c := align.Dims()
		assert.Equal(t, 2, r, "step %d", step)
		assert.Equal(t, 7, c, "step %d", step)
	}
}

func TestTeacherForcedTrainingStep(t *testing.T) {
	cfg := speller.Config{
		VocabSize:  12,
		MaxLength:  8,
		HiddenSize: 6,
		SOSID:      1,
		EOSID:      2,
		NumLayers:  2,
		CellKind:   rnn.CellLSTM,
		DropoutP:   0.3,
	}
	sp, err := speller.New(cfg,
		speller.WithLogger(zaptest.NewLogger(t)),
		speller.WithRand(rand.New(rand.NewSource(4))))
	require.NoError(t, err)
	sp.SetTraining(true)

	targets := [][]int{
		{1, 3, 4, 5, 6, 2},
		{1, 7, 8, 9, 2, 0},
		{1, 10, 11, 2, 0, 0},
	}
	opts := speller.DefaultDecodeOptions()
	opts.TeacherForcingRatio = 1

	result, err := sp.Decode(context.Background(), &speller.DecodeInput{Targets: targets}, opts)
	require.NoError(t, err)

	assert.Len(t, result.Outputs, 5)
	assert.Len(t, result.Lengths, 3)
	assert.IsType(t, &rnn.PairedState{}, result.Hidden)
}
