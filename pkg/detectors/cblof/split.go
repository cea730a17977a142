package cblof

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/taosad/pkg/detectors"
)

// Split separates clusters into large and small ones.
type Split struct {
	// Order lists cluster labels by descending size.
	Order []int
	// Coverage holds the prefix lengths i whose top-i clusters cover at
	// least alpha of all samples.
	Coverage []int
	// Gap holds the prefix lengths i where cluster i-1 is at least beta
	// times the size of cluster i, in Order.
	Gap []int
	// Index is the number of large clusters: Order[:Index] are large and
	// Order[Index:] are small.
	Index int
}

func (s Split) clone() Split {
	s.Order = slices.Clone(s.Order)
	s.Coverage = slices.Clone(s.Coverage)
	s.Gap = slices.Clone(s.Gap)
	return s
}

// Large returns the labels of the large clusters.
func (s Split) Large() []int {
	return s.Order[:s.Index]
}

// Small returns the labels of the small clusters.
func (s Split) Small() []int {
	return s.Order[s.Index:]
}

// SplitClusters orders clusters by descending size and picks the split index
// among the prefix lengths 1..k-1: the smallest index satisfying both the
// coverage and gap rules, else the smallest coverage index, else the smallest
// gap index. When no proper prefix qualifies but all k clusters together
// satisfy the coverage rule, every cluster is large.
func SplitClusters(sizes []int, nSamples int, alpha, beta float64) (Split, error) {
	k := len(sizes)

	neg := make([]float64, k)
	for c, size := range sizes {
		neg[c] = -float64(size)
	}
	order := make([]int, k)
	floats.ArgsortStable(neg, order)

	s := Split{Order: order}
	var cumulative int
	for i := 1; i < k; i++ {
		cumulative += sizes[order[i-1]]
		if float64(cumulative) >= float64(nSamples)*alpha {
			s.Coverage = append(s.Coverage, i)
		}
		if float64(sizes[order[i-1]])/float64(sizes[order[i]]) >= beta {
			s.Gap = append(s.Gap, i)
		}
	}

	switch {
	case len(intersect(s.Coverage, s.Gap)) > 0:
		s.Index = intersect(s.Coverage, s.Gap)[0]
	case len(s.Coverage) > 0:
		s.Index = s.Coverage[0]
	case len(s.Gap) > 0:
		s.Index = s.Gap[0]
	case k > 0 && float64(total(sizes)) >= float64(nSamples)*alpha:
		s.Index = k
	default:
		return Split{}, &detectors.ConfigurationError{
			Msg: fmt.Sprintf("could not form a valid large/small cluster separation from %d clusters; "+
				"change n_clusters, alpha or beta", k),
		}
	}
	return s, nil
}

// intersect returns the values present in both ascending slices, in order.
func intersect(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func total(sizes []int) int {
	var sum int
	for _, s := range sizes {
		sum += s
	}
	return sum
}
