package search

import (
	"context"

	"github.com/adammck/biped"
	"github.com/pkg/errors"
)

// Combination is a set of field overrides, e.g. {"knee1_min": 440}.
type Combination map[string]float64

// Grid walks the robot once with each of a fixed list of combinations. It
// doesn't look at the results; every combination is tried in order.
type Grid struct {
	// Values of every field which the combinations don't set.
	Base biped.Parameters

	Recorder Recorder
}

// Run tries each combination in turn. Cancellation is only checked between
// trials. On failure, the results so far are returned along with the error.
func (g *Grid) Run(ctx context.Context, trials Trials, combos []Combination) ([]Result, error) {
	results := make([]Result, 0, len(combos))

	for i, c := range combos {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		p, err := g.Base.Merge(c.fields())
		if err != nil {
			return results, errors.Wrapf(err, "combination %d", i+1)
		}

		log.Infof("combination %d/%d: %s", i+1, len(combos), p)

		d, err := trials.Run(ctx, p)
		if err != nil {
			return results, errors.Wrapf(err, "combination %d", i+1)
		}

		r := Result{Index: i + 1, Parameters: p, Distance: d}
		results = append(results, r)
		record(g.Recorder, r)
	}

	return results, nil
}

func (c Combination) fields() map[string]interface{} {
	f := make(map[string]interface{}, len(c))
	for k, v := range c {
		f[k] = v
	}

	return f
}
