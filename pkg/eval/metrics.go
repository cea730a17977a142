// Package eval measures detector output against ground truth labels.
//
// Labels follow the detectors' convention: -1 marks an outlier and is the
// positive class, any other value is an inlier.
package eval

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// Report holds classification metrics for one detector run.
type Report struct {
	Samples   int     `json:"samples" yaml:"samples"`
	Outliers  int     `json:"outliers" yaml:"outliers"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	// ROCAUC is NaN when truth holds a single class.
	ROCAUC float64 `json:"roc_auc" yaml:"roc_auc"`
}

func (r Report) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f roc_auc=%.4f",
		r.Accuracy, r.Precision, r.Recall, r.F1, r.ROCAUC)
}

// Evaluate compares predicted labels and decision scores with truth.
// The ROC-AUC is reported as max(auc, 1-auc) so an inverted score ordering
// still reads as separable.
func Evaluate(truth, pred []int, scores []float64) (Report, error) {
	if len(truth) == 0 {
		return Report{}, detectors.ErrEmptyData
	}
	if len(pred) != len(truth) || len(scores) != len(truth) {
		return Report{}, &detectors.ShapeError{
			Op:   "evaluate",
			Want: fmt.Sprintf("%d labels and scores", len(truth)),
			Got:  fmt.Sprintf("%d predictions and %d scores", len(pred), len(scores)),
		}
	}

	var tp, fp, tn, fn int
	for i := range truth {
		actual, predicted := truth[i] == detectors.Outlier, pred[i] == detectors.Outlier
		switch {
		case actual && predicted:
			tp++
		case !actual && predicted:
			fp++
		case actual && !predicted:
			fn++
		default:
			tn++
		}
	}

	r := Report{
		Samples:   len(truth),
		Outliers:  tp + fn,
		Accuracy:  float64(tp+tn) / float64(len(truth)),
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}

	auc, err := ROCAUC(truth, scores)
	if err != nil {
		return Report{}, err
	}
	r.ROCAUC = auc
	return r, nil
}

// ROCAUC returns max(auc, 1-auc) of the ROC curve of scores against truth,
// or NaN when truth holds a single class.
func ROCAUC(truth []int, scores []float64) (float64, error) {
	if len(truth) != len(scores) {
		return 0, errors.Errorf("roc auc: %d labels for %d scores", len(truth), len(scores))
	}

	y := append([]float64(nil), scores...)
	classes := make([]bool, len(truth))
	var positives int
	for i, l := range truth {
		classes[i] = l == detectors.Outlier
		if classes[i] {
			positives++
		}
	}
	if positives == 0 || positives == len(truth) {
		return math.NaN(), nil
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	return math.Max(auc, 1-auc), nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
