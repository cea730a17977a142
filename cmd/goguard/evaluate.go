package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/taosad/pkg/config"
	"github.com/hed1ad/taosad/pkg/detectors"
	"github.com/hed1ad/taosad/pkg/eval"
)

// evaluation is the outcome of one algorithm run.
type evaluation struct {
	Algorithm string
	Report    eval.Report
	Took      time.Duration
}

func newEvaluateCmd() *cobra.Command {
	var (
		in         inputOptions
		algorithms []string
		positive   int
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Fit every selected algorithm and report metrics against ground truth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.labelColumn == "" {
				return errors.New("--label-column is required")
			}
			cfg, err := in.config()
			if err != nil {
				return err
			}
			data, labels, err := in.load()
			if err != nil {
				return err
			}

			truth := make([]int, len(labels))
			for i, l := range labels {
				truth[i] = detectors.Inlier
				if l == positive {
					truth[i] = detectors.Outlier
				}
			}

			results, err := evaluateAll(cmd.Context(), cfg, algorithms, data, truth)
			if err != nil {
				return err
			}
			return printEvaluations(cmd.OutOrStdout(), results)
		},
	}

	in.addFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&algorithms, "algorithms", config.Algorithms, "Algorithms to evaluate")
	cmd.Flags().IntVar(&positive, "positive-label", 1, "Label value marking an outlier in the label column")
	return cmd
}

// evaluateAll fits each algorithm concurrently. Detectors share no state,
// so every goroutine owns its own instance.
func evaluateAll(ctx context.Context, cfg *config.Config, algorithms []string, data [][]float64, truth []int) ([]evaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]evaluation, len(algorithms))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, a := range algorithms {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger := log.WithField("algorithm", a)

			det, err := cfg.NewDetectorFor(a, logger)
			if err != nil {
				return errors.Wrap(err, a)
			}

			start := time.Now()
			if err := det.Fit(data); err != nil {
				return errors.Wrapf(err, "%s fit", a)
			}
			pred, err := det.Predict(data)
			if err != nil {
				return errors.Wrapf(err, "%s predict", a)
			}
			calib, err := det.Calibration()
			if err != nil {
				return err
			}
			report, err := eval.Evaluate(truth, pred, calib.Scores)
			if err != nil {
				return errors.Wrapf(err, "%s evaluate", a)
			}

			results[i] = evaluation{Algorithm: a, Report: report, Took: time.Since(start)}
			logger.WithField("took", results[i].Took).Debug("evaluation complete")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func printEvaluations(w io.Writer, results []evaluation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"ALGORITHM", "ACCURACY", "PRECISION", "RECALL", "F1", "ROC_AUC", "TIME"}, "\t"))
	for _, r := range results {
		auc := "n/a"
		if !math.IsNaN(r.Report.ROCAUC) {
			auc = fmt.Sprintf("%.4f", r.Report.ROCAUC)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\t%s\n",
			r.Algorithm, r.Report.Accuracy, r.Report.Precision, r.Report.Recall, r.Report.F1,
			auc, r.Took.Round(time.Millisecond))
	}
	return tw.Flush()
}
