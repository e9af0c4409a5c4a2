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
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller/lib/layers"
)

// Stack is a multi-layer recurrent network of homogeneous cells. Input and
// hidden widths are equal across layers. Dropout, when enabled via
// SetTraining, is applied to the inputs of every layer but the first.
type Stack struct {
	kind     CellKind
	hidden   int
	cells    []cell
	dropout  layers.Dropout
	rng      *rand.Rand
	training bool
}

// NewStack builds a stack of numLayers cells of the given kind.
func NewStack(kind CellKind, numLayers, hidden int, dropoutP float64, rng *rand.Rand) (*Stack, error) {
	if _, err := ParseCellKind(string(kind)); err != nil {
		return nil, err
	}
	cells := make([]cell, numLayers)
	for i := range cells {
		if kind == CellLSTM {
			cells[i] = newLSTMCell(hidden, rng)
		} else {
			cells[i] = newGRUCell(hidden, rng)
		}
	}
	return &Stack{
		kind:    kind,
		hidden:  hidden,
		cells:   cells,
		dropout: layers.Dropout{P: dropoutP},
		rng:     rng,
	}, nil
}

// Kind returns the cell kind of the stack.
func (s *Stack) Kind() CellKind { return s.kind }

// SetTraining toggles inter-layer dropout.
func (s *Stack) SetTraining(training bool) { s.training = training }

// ZeroState allocates an all-zero state matching the stack's cell kind.
func (s *Stack) ZeroState(batch int) State {
	return ZeroState(s.kind, len(s.cells), batch, s.hidden)
}

// Forward advances the stack over a step-major input sequence. xs[t] is the
// [batch x hidden] input at step t. It returns the top-layer output per step
// and the state after the last step. The incoming state is never written;
// the returned state is freshly allocated.
func (s *Stack) Forward(xs []*mat.Dense, st State) ([]*mat.Dense, State) {
	h := make([]*mat.Dense, len(s.cells))
	var c []*mat.Dense
	switch v := st.(type) {
	case *SimpleState:
		copy(h, v.Hidden)
	case *PairedState:
		copy(h, v.Hidden)
		c = make([]*mat.Dense, len(s.cells))
		copy(c, v.Cell)
	}
	if c == nil {
		c = make([]*mat.Dense, len(s.cells))
	}

	outs := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		for l, cl := range s.cells {
			if l > 0 {
				x = s.dropout.Apply(x, s.rng, s.training)
			}
			h[l], c[l] = cl.step(x, h[l], c[l])
			x = h[l]
		}
		outs[t] = x
	}

	if s.kind == CellLSTM {
		return outs, &PairedState{Hidden: h, Cell: c}
	}
	return outs, &SimpleState{Hidden: h}
}
