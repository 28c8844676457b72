package search

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/adammck/biped"
	"github.com/pkg/errors"
)

const (
	DefaultTemperature = 1.0
	DefaultDecay       = 0.98
	DefaultIterations  = 128

	// The scale factor is drawn from [lowScale-e, highScale+e], where e is the
	// exploration width. It never drops below minExploration, so the search
	// keeps moving even once it has cooled.
	lowScale       = 0.8
	highScale      = 1.2
	minExploration = 0.2
)

// State is the search state carried between iterations.
type State struct {
	Best         biped.Parameters
	BestDistance float64
	Temperature  float64
}

// Outcome is everything a finished (or aborted) run produced.
type Outcome struct {
	Results []Result
	Top     []Result
	Final   State
}

// Annealer is a stochastic local search. Each iteration scales the bounds of
// every joint group of the best gait so far by a random factor, and keeps the
// result if it walks strictly further.
type Annealer struct {
	Layout      biped.Layout
	Rand        *rand.Rand
	Temperature float64
	Decay       float64
	Iterations  int
	K           int
	Recorder    Recorder
}

func NewAnnealer(layout biped.Layout, seed uint64) *Annealer {
	return &Annealer{
		Layout:      layout,
		Rand:        rand.New(rand.NewPCG(seed, 0)),
		Temperature: DefaultTemperature,
		Decay:       DefaultDecay,
		Iterations:  DefaultIterations,
		K:           DefaultK,
	}
}

// Run searches from the initial parameters for a fixed number of iterations.
// Cancellation is only checked between trials. On failure, everything up to
// the failed trial is returned along with the error.
func (a *Annealer) Run(ctx context.Context, trials Trials, initial biped.Parameters) (Outcome, error) {
	st := State{
		Best:         initial.Clone(),
		BestDistance: -1,
		Temperature:  a.Temperature,
	}

	top := NewTopK(a.K)
	results := make([]Result, 0, a.Iterations)

	outcome := func() Outcome {
		return Outcome{Results: results, Top: top.Results(), Final: st}
	}

	for i := 0; i < a.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return outcome(), err
		}

		log.Infof("iteration %d/%d (T=%.3f)", i+1, a.Iterations, st.Temperature)
		p := a.Perturb(st)

		d, err := trials.Run(ctx, p)
		if err != nil {
			return outcome(), errors.Wrapf(err, "iteration %d", i+1)
		}

		st = a.Step(st, p, d)

		r := Result{Index: i + 1, Parameters: p, Distance: d}
		results = append(results, r)
		top.Add(r)
		record(a.Recorder, r)
	}

	log.Infof("best distance %.2f with %s", st.BestDistance, st.Best)
	return outcome(), nil
}

// Step returns the state after a trial of p walked d metres. The parameters
// are adopted only if they beat the best so far; ties don't count. The
// temperature decays either way.
func (a *Annealer) Step(st State, p biped.Parameters, d float64) State {
	if d > st.BestDistance {
		log.Infof("new best: %.2f (was %.2f)", d, st.BestDistance)
		st.Best = p.Clone()
		st.BestDistance = d
	}

	st.Temperature *= a.Decay
	return st
}

// Perturb returns a candidate near the best parameters. Each joint group gets
// its own scale factor. Phases and speed are left alone.
func (a *Annealer) Perturb(st State) biped.Parameters {
	e := math.Max(minExploration, st.Temperature)
	lo, hi := lowScale-e, highScale+e

	p := st.Best.Clone()
	for _, g := range a.Layout.Groups() {
		scale := lo + a.Rand.Float64()*(hi-lo)

		for _, j := range a.Layout.Joints {
			if j.Group != g {
				continue
			}

			jp, ok := p.Joints[j.Name]
			if !ok {
				continue
			}

			jp.Min = j.Clamp(jp.Min * scale)
			jp.Max = j.Clamp(jp.Max * scale)
			p.Joints[j.Name] = Repair(jp)
		}
	}

	return p
}

// Repair makes sure that Max isn't above Min, by lowering Max to Min. This
// collapses the amplitude of the joint rather than swapping the bounds.
func Repair(j biped.JointParameters) biped.JointParameters {
	if j.Max > j.Min {
		j.Max = j.Min
	}

	return j
}
