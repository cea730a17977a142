package detectors

import (
	"context"
)

// Stream scores samples from input against a fitted detector and writes one
// Score per sample to output. IsAnomaly compares each score with the fit-time
// threshold. Samples the detector rejects are skipped. Stream returns when
// input is closed or ctx is done.
func Stream(ctx context.Context, d Detector, input <-chan []float64, output chan<- Score) error {
	calib, err := d.Calibration()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			scores, err := d.DecisionFunction([][]float64{sample})
			if err != nil {
				continue
			}

			select {
			case output <- Score{
				Value:     scores[0],
				IsAnomaly: scores[0] > calib.Threshold,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
