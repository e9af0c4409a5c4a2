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

	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller/lib/layers"
)

// lstmCell holds the forget (f), input (i), candidate (c) and output (o)
// gate weights for one layer.
type lstmCell struct {
	wf, wi, wc, wo *mat.Dense
	uf, ui, uc, uo *mat.Dense
	bf, bi, bc, bo []float64
}

func newLSTMCell(hidden int, rng *rand.Rand) *lstmCell {
	c := &lstmCell{
		wf: layers.Glorot(rng, hidden, hidden),
		wi: layers.Glorot(rng, hidden, hidden),
		wc: layers.Glorot(rng, hidden, hidden),
		wo: layers.Glorot(rng, hidden, hidden),
		uf: layers.Glorot(rng, hidden, hidden),
		ui: layers.Glorot(rng, hidden, hidden),
		uc: layers.Glorot(rng, hidden, hidden),
		uo: layers.Glorot(rng, hidden, hidden),
		bf: make([]float64, hidden),
		bi: make([]float64, hidden),
		bc: make([]float64, hidden),
		bo: make([]float64, hidden),
	}
	// Forget gate bias starts at 1 for better signal retention early on.
	for j := range c.bf {
		c.bf[j] = 1
	}
	return c
}

func (l *lstmCell) step(x, h, cPrev *mat.Dense) (*mat.Dense, *mat.Dense) {
	f := affine(x, l.wf, h, l.uf, l.bf, sigmoid)
	i := affine(x, l.wi, h, l.ui, l.bi, sigmoid)
	cand := affine(x, l.wc, h, l.uc, l.bc, math.Tanh)
	o := affine(x, l.wo, h, l.uo, l.bo, sigmoid)

	rows, cols := h.Dims()
	cNew := mat.NewDense(rows, cols, nil)
	hNew := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		fRow, iRow, candRow, oRow := f.RawRowView(r), i.RawRowView(r), cand.RawRowView(r), o.RawRowView(r)
		cPrevRow, cRow, hRow := cPrev.RawRowView(r), cNew.RawRowView(r), hNew.RawRowView(r)
		for j := 0; j < cols; j++ {
			cRow[j] = fRow[j]*cPrevRow[j] + iRow[j]*candRow[j]
			hRow[j] = oRow[j] * math.Tanh(cRow[j])
		}
	}
	return hNew, cNew
}
