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

package rnn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestParseCellKind(t *testing.T) {
	tests := []struct {
		in      string
		want    CellKind
		wantErr bool
	}{
		{"gru", CellGRU, false},
		{"GRU", CellGRU, false},
		{"lstm", CellLSTM, false},
		{"Lstm", CellLSTM, false},
		{"rnn", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCellKind(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedCellKind, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestZeroStateShapes(t *testing.T) {
	st := ZeroState(CellGRU, 2, 3, 4)
	simple, ok := st.(*SimpleState)
	require.True(t, ok)
	assert.Equal(t, 3, st.Batch())
	assert.Equal(t, 2, st.NumLayers())
	for _, h := range simple.Hidden {
		r, c := h.Dims()
		assert.Equal(t, 3, r)
		assert.Equal(t, 4, c)
	}

	st = ZeroState(CellLSTM, 2, 3, 4)
	paired, ok := st.(*PairedState)
	require.True(t, ok)
	assert.Equal(t, 3, st.Batch())
	assert.Equal(t, 2, st.NumLayers())
	assert.Len(t, paired.Cell, 2)
}

func TestNewStackRejectsUnknownKind(t *testing.T) {
	_, err := NewStack("elman", 1, 4, 0, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrUnsupportedCellKind)
}

func randomInputs(rng *rand.Rand, steps, batch, hidden int) []*mat.Dense {
	xs := make([]*mat.Dense, steps)
	for t := range xs {
		data := make([]float64, batch*hidden)
		for i := range data {
			data[i] = rng.NormFloat64()
		}
		xs[t] = mat.NewDense(batch, hidden, data)
	}
	return xs
}

func TestStackForwardShapes(t *testing.T) {
	for _, kind := range []CellKind{CellGRU, CellLSTM} {
		t.Run(string(kind), func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			stack, err := NewStack(kind, 2, 4, 0, rng)
			require.NoError(t, err)
			assert.Equal(t, kind, stack.Kind())

			xs := randomInputs(rng, 5, 3, 4)
			outs, st := stack.Forward(xs, stack.ZeroState(3))

			require.Len(t, outs, 5)
			for _, out := range outs {
				r, c := out.Dims()
				assert.Equal(t, 3, r)
				assert.Equal(t, 4, c)
			}
			assert.Equal(t, 3, st.Batch())
			assert.Equal(t, 2, st.NumLayers())
			if kind == CellLSTM {
				assert.IsType(t, &PairedState{}, st)
			} else {
				assert.IsType(t, &SimpleState{}, st)
			}
		})
	}
}

func TestStackOutputsBounded(t *testing.T) {
	// GRU hidden states are convex blends of tanh candidates, LSTM outputs
	// pass through tanh; both stay inside (-1, 1).
	for _, kind := range []CellKind{CellGRU, CellLSTM} {
		rng := rand.New(rand.NewSource(11))
		stack, err := NewStack(kind, 1, 6, 0, rng)
		require.NoError(t, err)

		outs, _ := stack.Forward(randomInputs(rng, 8, 2, 6), stack.ZeroState(2))
		for _, out := range outs {
			r, c := out.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					assert.Less(t, math.Abs(out.At(i, j)), 1.0)
				}
			}
		}
	}
}

func TestStackForwardDoesNotMutateIncomingState(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	stack, err := NewStack(CellGRU, 1, 4, 0, rng)
	require.NoError(t, err)

	initial := stack.ZeroState(2).(*SimpleState)
	outs, next := stack.Forward(randomInputs(rng, 3, 2, 4), initial)
	require.Len(t, outs, 3)

	zero := mat.NewDense(2, 4, nil)
	assert.True(t, mat.Equal(zero, initial.Hidden[0]), "incoming state was written")
	assert.False(t, mat.Equal(zero, next.(*SimpleState).Hidden[0]), "state did not advance")
}

func TestStackForwardDeterministic(t *testing.T) {
	build := func() (*Stack, []*mat.Dense) {
		rng := rand.New(rand.NewSource(17))
		stack, err := NewStack(CellLSTM, 2, 4, 0, rng)
		require.NoError(t, err)
		return stack, randomInputs(rng, 4, 2, 4)
	}

	s1, xs1 := build()
	s2, xs2 := build()
	out1, _ := s1.Forward(xs1, s1.ZeroState(2))
	out2, _ := s2.Forward(xs2, s2.ZeroState(2))
	for i := range out1 {
		assert.True(t, mat.Equal(out1[i], out2[i]), "step %d differs", i)
	}
}
