package evaluation

import (
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/recoeval/reco-eval/internal/results"
)

// Summarize reduces successful folds to mean, sample standard deviation,
// min and max per metric. Top-k accuracies come first in ascending k as
// "top_<k>", followed by ranking metrics in name order.
func Summarize(folds []results.FoldResult) []results.MetricSummary {
	values := make(map[string][]float64)
	for _, f := range folds {
		if f.Failed() {
			continue
		}
		for k, v := range f.TopK {
			values["top_"+k] = append(values["top_"+k], v)
		}
		for name, v := range f.Ranking {
			values[name] = append(values[name], v)
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return metricLess(names[i], names[j]) })

	out := make([]results.MetricSummary, 0, len(names))
	for _, name := range names {
		xs := values[name]
		mean, std := stat.MeanStdDev(xs, nil)
		if len(xs) < 2 {
			std = 0
		}
		out = append(out, results.MetricSummary{
			Metric: name,
			Folds:  len(xs),
			Mean:   mean,
			Std:    std,
			Min:    floats.Min(xs),
			Max:    floats.Max(xs),
		})
	}
	return out
}

// metricLess orders top-k metrics first by numeric k, then the rest by name.
func metricLess(a, b string) bool {
	ka, aTop := topKOf(a)
	kb, bTop := topKOf(b)
	switch {
	case aTop && bTop:
		return ka < kb
	case aTop != bTop:
		return aTop
	}
	return a < b
}

func topKOf(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "top_")
	if !ok {
		return 0, false
	}
	k, err := strconv.Atoi(rest)
	return k, err == nil
}
