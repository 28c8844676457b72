package report

import (
	"fmt"

	"github.com/adammck/biped/search"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Summary describes the distances of a whole run.
type Summary struct {
	Trials int
	Best   search.Result
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes the summary of a run. The best result is the first one
// with the greatest distance.
func Summarize(results []search.Result) (Summary, error) {
	if len(results) == 0 {
		return Summary{}, errors.New("no results")
	}

	data := make(stats.Float64Data, len(results))
	best := results[0]
	for i, r := range results {
		data[i] = r.Distance
		if r.Distance > best.Distance {
			best = r
		}
	}

	s := Summary{Trials: len(results), Best: best}

	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return Summary{}, err
	}
	if s.Median, err = stats.Median(data); err != nil {
		return Summary{}, err
	}
	if s.StdDev, err = stats.StandardDeviation(data); err != nil {
		return Summary{}, err
	}
	if s.Min, err = stats.Min(data); err != nil {
		return Summary{}, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return Summary{}, err
	}

	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"%d trials, best %.2fm (#%d), mean %.2fm, median %.2fm, stddev %.2fm, range %.2f-%.2fm",
		s.Trials, s.Best.Distance, s.Best.Index, s.Mean, s.Median, s.StdDev, s.Min, s.Max)
}
