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
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// decodeAccumulator collects the per-step outputs of one decode pass and
// tracks per-sample stopping lengths. Both unrolling strategies share it,
// so the bookkeeping contract lives in one place.
type decodeAccumulator struct {
	eosID          int
	trackAttention bool

	outputs   []*mat.Dense
	attention []*mat.Dense
	sequence  [][]int
	lengths   []int
}

func newDecodeAccumulator(batch, maxLength, eosID int, trackAttention bool) *decodeAccumulator {
	lengths := make([]int, batch)
	for i := range lengths {
		lengths[i] = maxLength
	}
	return &decodeAccumulator{
		eosID:          eosID,
		trackAttention: trackAttention,
		lengths:        lengths,
	}
}

// recordAndCheckStop appends one step's distribution (and alignment, when
// attention is tracked), derives the argmax symbol per batch element, and
// finalizes the length of every element that emitted end-of-sequence at
// this step and had not stopped before. An element whose length was
// finalized at an earlier step is never touched again. Returns the predicted
// symbols, which the autoregressive strategy feeds into the next step.
func (a *decodeAccumulator) recordAndCheckStop(step int, stepOutput, stepAttn *mat.Dense) []int {
	a.outputs = append(a.outputs, stepOutput)
	if a.trackAttention {
		a.attention = append(a.attention, stepAttn)
	}

	batch, _ := stepOutput.Dims()
	symbols := make([]int, batch)
	for b := 0; b < batch; b++ {
		symbols[b] = floats.MaxIdx(stepOutput.RawRowView(b))
	}
	a.sequence = append(a.sequence, symbols)

	for b, sym := range symbols {
		if sym == a.eosID && a.lengths[b] > step {
			a.lengths[b] = step + 1
		}
	}
	return symbols
}
