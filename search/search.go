package search

import (
	"context"
	"sort"

	"github.com/adammck/biped"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	// Number of results kept in the leaderboard.
	DefaultK = 10
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "search",
})

// Trials runs a single trial, and returns the distance walked.
type Trials interface {
	Run(ctx context.Context, p biped.Parameters) (float64, error)
}

// Recorder is told about each result as soon as it exists, so that a crash
// part-way through a long run doesn't lose everything.
type Recorder interface {
	Record(r Result) error
}

// Recorders hands each result to every recorder in turn.
type Recorders []Recorder

func (rs Recorders) Record(r Result) error {
	var err error
	for _, rec := range rs {
		err = multierr.Append(err, rec.Record(r))
	}

	return err
}

// Result is the outcome of a single trial. Index starts at one.
type Result struct {
	Index      int
	Parameters biped.Parameters
	Distance   float64
}

// TopK keeps the K best results seen so far, best first.
type TopK struct {
	k       int
	results []Result
}

func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

// Add inserts a result, and drops the worst if there are now more than K.
// Results with equal distances stay in the order they were added.
func (t *TopK) Add(r Result) {
	t.results = append(t.results, r)

	sort.SliceStable(t.results, func(i, j int) bool {
		return t.results[i].Distance > t.results[j].Distance
	})

	if len(t.results) > t.k {
		t.results = t.results[:t.k]
	}
}

// Results returns a copy of the retained results, best first.
func (t *TopK) Results() []Result {
	return append([]Result(nil), t.results...)
}

func (t *TopK) Len() int {
	return len(t.results)
}

// record hands the result to the recorder, if there is one. Failing to record
// isn't fatal; the result is still returned at the end of the run.
func record(rec Recorder, r Result) {
	if rec == nil {
		return
	}

	err := rec.Record(r)
	if err != nil {
		log.Warnf("error recording result %d: %s", r.Index, err)
	}
}
