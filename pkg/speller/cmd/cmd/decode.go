// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller"
	"github.com/antflydb/speller/pkg/speller/lib/logging"
	"github.com/antflydb/speller/pkg/speller/lib/rnn"
)

var (
	vocabSize    int
	hiddenSize   int
	maxLength    int
	batchSize    int
	numLayers    int
	cellKind     string
	useAttention bool
	sourceLen    int
	dropoutP     float64
	seed         int64
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Run a demo decode over a synthetic batch",
	Long: `Build a randomly initialized speller and run one autoregressive decode
pass over synthetic listener outputs, logging the predicted symbols and
per-sample lengths. Useful as a smoke test and for eyeballing shapes.`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().IntVar(&vocabSize, "vocab-size", 40, "output vocabulary size")
	decodeCmd.Flags().IntVar(&hiddenSize, "hidden-size", 64, "hidden state width")
	decodeCmd.Flags().IntVar(&maxLength, "max-length", 32, "maximum decode length")
	decodeCmd.Flags().IntVar(&batchSize, "batch", 4, "batch size")
	decodeCmd.Flags().IntVar(&numLayers, "layers", 1, "number of recurrent layers")
	decodeCmd.Flags().StringVar(&cellKind, "cell", "gru", "recurrent cell kind (gru, lstm)")
	decodeCmd.Flags().BoolVar(&useAttention, "attention", true, "attend over listener outputs")
	decodeCmd.Flags().IntVar(&sourceLen, "source-len", 16, "synthetic listener output length")
	decodeCmd.Flags().Float64Var(&dropoutP, "dropout", 0, "dropout probability")
	decodeCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time-based)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	kind, err := rnn.ParseCellKind(cellKind)
	if err != nil {
		return err
	}
	cfg := speller.Config{
		VocabSize:    vocabSize,
		MaxLength:    maxLength,
		HiddenSize:   hiddenSize,
		SOSID:        1,
		EOSID:        2,
		NumLayers:    numLayers,
		CellKind:     kind,
		DropoutP:     dropoutP,
		UseAttention: useAttention,
	}
	sp, err := speller.New(cfg, speller.WithLogger(logger), speller.WithRand(rng))
	if err != nil {
		return err
	}

	input := &speller.DecodeInput{}
	if useAttention {
		input.EncoderOutputs = make([]*mat.Dense, batchSize)
		for b := range input.EncoderOutputs {
			data := make([]float64, sourceLen*hiddenSize)
			for i := range data {
				data[i] = rng.NormFloat64()
			}
			input.EncoderOutputs[b] = mat.NewDense(sourceLen, hiddenSize, data)
		}
	} else {
		// Without targets the batch size comes from the initial hidden state.
		input.InitialHidden = rnn.ZeroState(kind, numLayers, batchSize, hiddenSize)
	}

	opts := speller.DefaultDecodeOptions()
	opts.TeacherForcingRatio = 0 // no targets to force against

	start := time.Now()
	result, err := sp.Decode(cmd.Context(), input, opts)
	if err != nil {
		return err
	}

	logger.Info("Decode finished",
		zap.Int64("seed", seed),
		zap.Int("batch", batchSize),
		zap.Int("steps", len(result.Outputs)),
		zap.Ints("lengths", result.Lengths),
		zap.Duration("elapsed", time.Since(start)))
	for b := 0; b < batchSize; b++ {
		symbols := make([]int, 0, result.Lengths[b])
		for step := 0; step < result.Lengths[b]; step++ {
			symbols = append(symbols, result.Sequence[step][b])
		}
		logger.Info("Predicted sequence", zap.Int("sample", b), zap.Ints("symbols", symbols))
	}
	return nil
}
