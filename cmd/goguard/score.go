package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/taosad/pkg/detectors"
	taosio "github.com/hed1ad/taosad/pkg/io"
	"github.com/hed1ad/taosad/pkg/io/csv"
)

func newScoreCmd() *cobra.Command {
	var (
		in        inputOptions
		algorithm string
		output    string
		modelPath string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Fit a detector on the input and write one scored result per row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := in.config()
			if err != nil {
				return err
			}
			if algorithm != "" {
				cfg.Algorithm = algorithm
			}

			data, _, err := in.load()
			if err != nil {
				return err
			}

			det, err := cfg.NewDetector(log.StandardLogger())
			if err != nil {
				return err
			}
			results, err := score(det, data)
			if err != nil {
				return err
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			if output != "" {
				if w, err = csv.NewFileWriter(output); err != nil {
					return err
				}
			}
			if err := w.WriteAll(results); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}

			if modelPath != "" {
				if err := saveModel(det, modelPath); err != nil {
					return err
				}
			}
			return nil
		},
	}

	in.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Algorithm (hbos, cblof, iforest); overrides the config")
	cmd.Flags().StringVar(&output, "output", "", "Write results to this CSV file instead of stdout")
	cmd.Flags().StringVar(&modelPath, "save-model", "", "Save the fitted model to this file")
	return cmd
}

// score fits det on data and builds one result per training row.
func score(det detectors.Detector, data [][]float64) ([]taosio.Result, error) {
	start := time.Now()
	if err := det.Fit(data); err != nil {
		return nil, errors.Wrap(err, "fit")
	}
	calib, err := det.Calibration()
	if err != nil {
		return nil, err
	}
	labels, err := det.Predict(data)
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}

	prob := calib.Probability(calib.Scores)
	results := make([]taosio.Result, len(data))
	var anomalies int
	for i := range data {
		results[i] = taosio.Result{
			Index:       i,
			Score:       calib.Scores[i],
			IsAnomaly:   calib.Labels[i] == 1,
			Label:       labels[i],
			Probability: prob[i],
		}
		if results[i].IsAnomaly {
			anomalies++
		}
	}

	log.WithFields(log.Fields{
		"rows":      len(data),
		"anomalies": anomalies,
		"threshold": calib.Threshold,
		"took":      time.Since(start),
	}).Info("scoring complete")
	return results, nil
}

func saveModel(det detectors.Detector, path string) error {
	p, ok := det.(detectors.Persistable)
	if !ok {
		return errors.Errorf("detector %T does not support saving", det)
	}
	b, err := p.Save()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return errors.Wrapf(err, "failed to write model file: %s", path)
	}
	log.Infof("model saved to %s", path)
	return nil
}
