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

// Package rnn implements the recurrent cells used by the speller decoder:
// multi-layer GRU and LSTM stacks over gonum matrices.
package rnn

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnsupportedCellKind is returned when a cell kind other than "gru" or
// "lstm" is requested.
var ErrUnsupportedCellKind = errors.New("rnn: unsupported cell kind")

// CellKind selects the recurrent cell variant.
type CellKind string

const (
	// CellGRU is a gated recurrent unit cell carrying a single hidden tensor.
	CellGRU CellKind = "gru"
	// CellLSTM is a long short-term memory cell carrying a hidden/cell pair.
	CellLSTM CellKind = "lstm"
)

// ParseCellKind parses a cell kind name, case-insensitively.
func ParseCellKind(s string) (CellKind, error) {
	switch strings.ToLower(s) {
	case string(CellGRU):
		return CellGRU, nil
	case string(CellLSTM):
		return CellLSTM, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCellKind, s)
	}
}

// State is the recurrent state threaded step to step through a stack. It is
// a tagged variant: SimpleState for GRU stacks, PairedState for LSTM stacks.
// States are replaced, never mutated in place, so a caller-held State stays
// valid after further steps.
type State interface {
	// Batch returns the batch dimension of the state.
	Batch() int
	// NumLayers returns the number of stacked layers.
	NumLayers() int
}

// SimpleState is the GRU state: one hidden matrix per layer, each
// [batch x hidden].
type SimpleState struct {
	Hidden []*mat.Dense
}

// Batch returns the batch dimension.
func (s *SimpleState) Batch() int {
	r, _ := s.Hidden[0].Dims()
	return r
}

// NumLayers returns the number of stacked layers.
func (s *SimpleState) NumLayers() int { return len(s.Hidden) }

// PairedState is the LSTM state: hidden and cell matrices per layer, each
// [batch x hidden].
type PairedState struct {
	Hidden []*mat.Dense
	Cell   []*mat.Dense
}

// Batch returns the batch dimension.
func (s *PairedState) Batch() int {
	r, _ := s.Hidden[0].Dims()
	return r
}

// NumLayers returns the number of stacked layers.
func (s *PairedState) NumLayers() int { return len(s.Hidden) }

// ZeroState allocates an all-zero state for the given cell kind.
func ZeroState(kind CellKind, layers, batch, hidden int) State {
	zeros := func() []*mat.Dense {
		ms := make([]*mat.Dense, layers)
		for i := range ms {
			ms[i] = mat.NewDense(batch, hidden, nil)
		}
		return ms
	}
	if kind == CellLSTM {
		return &PairedState{Hidden: zeros(), Cell: zeros()}
	}
	return &SimpleState{Hidden: zeros()}
}
