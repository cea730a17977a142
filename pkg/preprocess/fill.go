package preprocess

import "math"

// FillForward replaces NaN entries in place with the last non-NaN value
// above them in the same column. Leading NaNs are left untouched.
func FillForward(data [][]float64) {
	if len(data) == 0 {
		return
	}
	last := make([]float64, len(data[0]))
	seen := make([]bool, len(data[0]))
	for _, row := range data {
		for f := range row {
			if f >= len(last) {
				break
			}
			switch {
			case !math.IsNaN(row[f]):
				last[f], seen[f] = row[f], true
			case seen[f]:
				row[f] = last[f]
			}
		}
	}
}

// FillBackward replaces NaN entries in place with the next non-NaN value
// below them in the same column. Trailing NaNs are left untouched.
func FillBackward(data [][]float64) {
	if len(data) == 0 {
		return
	}
	next := make([]float64, len(data[0]))
	seen := make([]bool, len(data[0]))
	for i := len(data) - 1; i >= 0; i-- {
		row := data[i]
		for f := range row {
			if f >= len(next) {
				break
			}
			switch {
			case !math.IsNaN(row[f]):
				next[f], seen[f] = row[f], true
			case seen[f]:
				row[f] = next[f]
			}
		}
	}
}

// Fill applies FillForward and then FillBackward, so only columns that are
// entirely NaN keep missing values.
func Fill(data [][]float64) {
	FillForward(data)
	FillBackward(data)
}
