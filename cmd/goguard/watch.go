package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/taosad/pkg/config"
	"github.com/hed1ad/taosad/pkg/detectors"
	taosio "github.com/hed1ad/taosad/pkg/io"
	"github.com/hed1ad/taosad/pkg/io/csv"
	"github.com/hed1ad/taosad/pkg/io/pcap"
)

func newWatchCmd() *cobra.Command {
	var (
		algorithm string
		modelPath string
		pcapFile  string
		iface     string
		filter    string
		limit     int
		output    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Score packets from a capture file or interface against a saved model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if modelPath == "" {
				return errors.New("--model is required")
			}
			det, err := loadModel(algorithm, modelPath)
			if err != nil {
				return err
			}

			opts := []pcap.Option{pcap.WithLimit(limit)}
			var r *pcap.Reader
			switch {
			case pcapFile != "":
				r, err = pcap.NewFileReader(pcapFile, opts...)
			case iface != "":
				r, err = pcap.NewLiveReader(iface, filter, opts...)
			default:
				return errors.New("one of --pcap or --interface is required")
			}
			if err != nil {
				return err
			}
			defer r.Close()

			w := csv.NewWriter(cmd.OutOrStdout())
			if output != "" {
				if w, err = csv.NewFileWriter(output); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				// unblocks a live capture waiting for traffic
				<-ctx.Done()
				r.Close()
			}()

			n, err := watch(ctx, det, r, w)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			log.WithField("packets", n).Info("watch complete")
			return err
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", config.AlgorithmHBOS, "Algorithm the model was saved from (hbos, iforest)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model file written by score --save-model")
	cmd.Flags().StringVar(&pcapFile, "pcap", "", "Path to a packet capture file")
	cmd.Flags().StringVar(&iface, "interface", "", "Network interface to capture from")
	cmd.Flags().StringVar(&filter, "filter", "", "BPF filter for live capture")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many packets (0: no limit)")
	cmd.Flags().StringVar(&output, "output", "", "Write results to this CSV file instead of stdout")
	return cmd
}

// loadModel restores a fitted detector saved by score --save-model.
func loadModel(algorithm, path string) (detectors.Detector, error) {
	det, err := config.Default().NewDetectorFor(algorithm, log.StandardLogger())
	if err != nil {
		return nil, err
	}
	p, ok := det.(detectors.Persistable)
	if !ok {
		return nil, errors.Errorf("detector %s does not support loading a model", algorithm)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file: %s", path)
	}
	if err := p.Load(b); err != nil {
		return nil, err
	}
	return det, nil
}

// watch scores every sample of r against the fit-time threshold of det and
// writes one result per sample. It returns the number of results written.
func watch(ctx context.Context, det detectors.Detector, r taosio.Reader, w taosio.Writer) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	calib, err := det.Calibration()
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	input, err := r.Stream(ctx)
	if err != nil {
		return 0, err
	}
	scores := make(chan detectors.Score)

	g.Go(func() error {
		defer close(scores)
		return detectors.Stream(ctx, det, input, scores)
	})

	var written int
	g.Go(func() error {
		for s := range scores {
			label := detectors.Inlier
			if s.IsAnomaly {
				label = detectors.Outlier
			}
			err := w.Write(taosio.Result{
				Index:       written,
				Score:       s.Value,
				IsAnomaly:   s.IsAnomaly,
				Label:       label,
				Probability: calib.Probability([]float64{s.Value})[0],
			})
			if err != nil {
				return err
			}
			written++
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return written, err
	}
	return written, nil
}
