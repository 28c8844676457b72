package gait

import (
	"math"

	"github.com/adammck/biped"
)

// Position returns the actuator command for a joint at gait-cycle position t.
// The joint swings sinusoidally between its Min and Max, offset by its Phase,
// with a period of exactly one unit of t. Inverted joints are mirrored around
// the midpoint.
//
// The result never falls outside of [Min,Max] after rounding, even when those
// bounds are fractional.
func Position(j biped.JointParameters, t float64, invert bool) int {
	beta := (j.Max + j.Min) / 2
	alpha := (j.Max - j.Min) / 2

	s := math.Sin(2 * math.Pi * (t + j.Phase))
	if invert {
		s = -s
	}

	lo := math.Ceil(math.Min(j.Min, j.Max))
	hi := math.Floor(math.Max(j.Min, j.Max))
	if lo > hi {
		return int(math.Round(beta))
	}

	v := math.Round(alpha*s + beta)
	return int(math.Min(hi, math.Max(lo, v)))
}

// Frame is the command for every joint at a single instant, keyed by channel.
type Frame map[int]int

// Gait renders frames for a layout.
type Gait struct {
	layout biped.Layout
}

func New(layout biped.Layout) *Gait {
	return &Gait{layout: layout}
}

// Frame returns the command for every joint in the layout at gait-cycle
// position t. Joints which are missing from p are left out of the frame.
func (g *Gait) Frame(p biped.Parameters, t float64) Frame {
	f := make(Frame, len(g.layout.Joints))

	for _, j := range g.layout.Joints {
		jp, ok := p.Joints[j.Name]
		if !ok {
			continue
		}

		f[j.Channel] = Position(jp, t, j.Invert)
	}

	return f
}

// Rest returns the frame which holds every joint at its rest pose.
func (g *Gait) Rest() Frame {
	f := make(Frame, len(g.layout.Joints))
	for _, j := range g.layout.Joints {
		f[j.Channel] = j.Rest
	}

	return f
}
