package biped

import (
	"fmt"
	"math"
)

// Joint groups. Every joint in a group is scaled by the same factor when the
// stochastic search perturbs a gait.
const (
	GroupHip  = "hip"
	GroupKnee = "knee"
)

// JointConfig binds a named joint to the actuator channel which drives it.
type JointConfig struct {
	Name    string `yaml:"name"`
	Channel int    `yaml:"channel"`

	// The command which holds this joint still when the robot isn't walking.
	Rest int `yaml:"rest"`

	// Mirror the waveform around its midpoint. Used to drive a left/right pair
	// of joints from a shared phase.
	Invert bool `yaml:"invert"`

	Group string `yaml:"group"`

	// Where the joint's waveform starts in the default gait.
	Phase float64 `yaml:"phase"`

	// The mechanical envelope of the joint. The search never proposes a bound
	// outside of this range.
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

// Clamp constrains v to the joint's envelope.
func (j JointConfig) Clamp(v float64) float64 {
	return math.Min(j.Upper, math.Max(j.Lower, v))
}

// Layout is the set of joints which make up a robot. The number of joints is
// chosen here, so every other component works with any joint count.
type Layout struct {
	Joints []JointConfig `yaml:"joints"`
}

// Names returns the joint names in layout order.
func (l Layout) Names() []string {
	names := make([]string, len(l.Joints))
	for i, j := range l.Joints {
		names[i] = j.Name
	}

	return names
}

// Channels returns the actuator channel of each joint, in layout order.
func (l Layout) Channels() []int {
	chs := make([]int, len(l.Joints))
	for i, j := range l.Joints {
		chs[i] = j.Channel
	}

	return chs
}

// Groups returns the distinct joint groups in order of first appearance.
func (l Layout) Groups() []string {
	seen := map[string]bool{}
	groups := []string{}
	for _, j := range l.Joints {
		if !seen[j.Group] {
			seen[j.Group] = true
			groups = append(groups, j.Group)
		}
	}

	return groups
}

// FieldNames returns the wire names of every parameter of this layout.
func (l Layout) FieldNames() []string {
	return FieldNames(l.Names())
}

// Validate returns an error if the layout is unusable.
func (l Layout) Validate() error {
	if len(l.Joints) == 0 {
		return fmt.Errorf("layout has no joints")
	}

	names := map[string]bool{}
	channels := map[int]string{}

	for _, j := range l.Joints {
		if j.Name == "" {
			return fmt.Errorf("joint on channel %d has no name", j.Channel)
		}

		if names[j.Name] {
			return fmt.Errorf("duplicate joint: %s", j.Name)
		}
		names[j.Name] = true

		if other, ok := channels[j.Channel]; ok {
			return fmt.Errorf("joints %s and %s share channel %d", other, j.Name, j.Channel)
		}
		channels[j.Channel] = j.Name

		if j.Lower > j.Upper {
			return fmt.Errorf("joint %s: envelope lower bound %.1f is above upper bound %.1f", j.Name, j.Lower, j.Upper)
		}
	}

	return nil
}

// TwoDOF is the default layout: a hip and a knee on each leg.
func TwoDOF() Layout {
	return Layout{
		Joints: []JointConfig{
			{Name: "hip1", Channel: 0, Rest: 340, Group: GroupHip, Lower: 220, Upper: 340},                // Right hip
			{Name: "knee1", Channel: 2, Rest: 450, Group: GroupKnee, Phase: 0.25, Lower: 320, Upper: 450}, // Right knee
			{Name: "hip2", Channel: 3, Rest: 300, Group: GroupHip, Lower: 220, Upper: 340},                // Left hip
			{Name: "knee2", Channel: 4, Rest: 450, Group: GroupKnee, Phase: 0.25, Lower: 320, Upper: 450}, // Left knee
		},
	}
}

// OneDOF is the knee-only layout, in which the hips aren't actuated at all.
// Both knees start in phase.
func OneDOF() Layout {
	return Layout{
		Joints: []JointConfig{
			{Name: "knee1", Channel: 2, Rest: 450, Group: GroupKnee, Lower: 320, Upper: 450},
			{Name: "knee2", Channel: 4, Rest: 450, Group: GroupKnee, Lower: 320, Upper: 450},
		},
	}
}

// DefaultParameters returns the gait which the robot starts with: every joint
// swings across its whole envelope (from Upper down to Lower), starting at the
// phase given by the layout.
func DefaultParameters(l Layout) Parameters {
	p := Parameters{
		Joints: make(map[string]JointParameters, len(l.Joints)),
		Speed:  0.0015,
	}

	for _, j := range l.Joints {
		p.Joints[j.Name] = JointParameters{Min: j.Upper, Max: j.Lower, Phase: j.Phase}
	}

	return p
}
