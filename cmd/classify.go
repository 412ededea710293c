package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/inference/runtimes"
	"github.com/example/deepfake-detector/internal/model"
)

func newClassifyCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify IMAGE...",
		Short: "Classify local image files without storing anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			engine := inference.NewEngine(runtimes.EngineOptions(cfg.Model), logger, nil)
			if err := engine.Load(cmd.Context(), runtimes.Opener(cfg.Model)); err != nil {
				return err
			}
			defer engine.Close()

			return runClassify(cmd.Context(), cmd.OutOrStdout(), engine, args, asJSON, logger)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per image")
	return cmd
}

type classification struct {
	Path       string  `json:"path"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// runClassify reads every path, classifies the readable ones in one batch and
// reports each image, failed ones as ERROR.
func runClassify(ctx context.Context, w io.Writer, engine *inference.Engine, paths []string, asJSON bool, logger *zap.Logger) error {
	inputs := make([][]byte, len(paths))
	readErrs := make([]error, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			readErrs[i] = apperror.IO("classify.read", err)
			continue
		}
		inputs[i] = data
	}

	results := engine.DetectBatch(ctx, inputs)
	out := make([]classification, len(paths))
	failed := 0
	for i, res := range results {
		c := classification{Path: paths[i], Prediction: string(res.Prediction), Confidence: model.Round(res.Confidence, 4)}
		err := res.Err
		if readErrs[i] != nil {
			err = readErrs[i]
			c.Prediction = string(model.PredictionError)
			c.Confidence = 0
		}
		if err != nil {
			failed++
			c.Error = err.Error()
			logger.Warn("classification failed", zap.String("path", paths[i]), zap.Error(err))
		}
		out[i] = c
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, c := range out {
			if err := enc.Encode(c); err != nil {
				return err
			}
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, c := range out {
			fmt.Fprintf(tw, "%s\t%s\t%.4f\n", c.Path, c.Prediction, c.Confidence)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images could not be classified", failed, len(paths))
	}
	return nil
}
