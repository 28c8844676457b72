package biped

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

const (
	fieldMin   = "min"
	fieldMax   = "max"
	fieldPhase = "phase"

	// FieldSpeed is the name of the single non-joint parameter.
	FieldSpeed = "speed"
)

// JointParameters describes the waveform which drives a single joint. Min and
// Max are actuator commands (not angles), and Phase is an offset into the gait
// cycle in the range [0,1).
type JointParameters struct {
	Min   float64 `mapstructure:"min"`
	Max   float64 `mapstructure:"max"`
	Phase float64 `mapstructure:"phase"`
}

// Parameters is a complete gait: one waveform per joint, plus the fraction of
// a cycle which the gait advances per control tick.
type Parameters struct {
	Joints map[string]JointParameters
	Speed  float64
}

// Clone returns a deep copy, so the result can be handed to another goroutine.
func (p Parameters) Clone() Parameters {
	c := Parameters{
		Joints: make(map[string]JointParameters, len(p.Joints)),
		Speed:  p.Speed,
	}

	for name, j := range p.Joints {
		c.Joints[name] = j
	}

	return c
}

// Joint returns the parameters of the named joint, or the zero value if the
// joint isn't part of this gait.
func (p Parameters) Joint(name string) JointParameters {
	return p.Joints[name]
}

// Fields flattens the parameters into the wire format used by the control
// surface, e.g. {"hip1_min": 340, "speed": 0.0015}.
func (p Parameters) Fields() map[string]float64 {
	f := make(map[string]float64, len(p.Joints)*3+1)

	for name, j := range p.Joints {
		f[name+"_"+fieldMin] = j.Min
		f[name+"_"+fieldMax] = j.Max
		f[name+"_"+fieldPhase] = j.Phase
	}

	f[FieldSpeed] = p.Speed
	return f
}

// Values returns the value of each of the given fields, in the same order.
// Unknown fields are zero.
func (p Parameters) Values(names []string) []float64 {
	f := p.Fields()
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = f[n]
	}

	return out
}

// Merge returns a copy of the parameters with the given fields overwritten.
// Fields which are absent (or nil) keep their current value, and fields which
// don't name a joint of this gait are ignored. A value which isn't a number is
// an ErrBadRequest, and nothing is merged.
func (p Parameters) Merge(fields map[string]interface{}) (Parameters, error) {
	out := p.Clone()
	groups := map[string]map[string]interface{}{}

	// Sort the keys so that errors are reported deterministically.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := fields[key]
		if v == nil {
			continue
		}

		if key == FieldSpeed {
			var s struct {
				Speed float64 `mapstructure:"speed"`
			}

			if err := mapstructure.Decode(map[string]interface{}{FieldSpeed: v}, &s); err != nil {
				return p, errors.Wrapf(ErrBadRequest, "%s: %s", key, err)
			}

			out.Speed = s.Speed
			continue
		}

		joint, attr, ok := splitField(key)
		if !ok {
			continue
		}

		if _, known := out.Joints[joint]; !known {
			continue
		}

		if groups[joint] == nil {
			groups[joint] = map[string]interface{}{}
		}

		groups[joint][attr] = v
	}

	for joint, g := range groups {
		j := out.Joints[joint]

		// Decoding into the existing value only touches the attributes which
		// were present in the payload.
		if err := mapstructure.Decode(g, &j); err != nil {
			return p, errors.Wrapf(ErrBadRequest, "%s: %s", joint, err)
		}

		out.Joints[joint] = j
	}

	return out, nil
}

func (p Parameters) String() string {
	names := make([]string, 0, len(p.Joints))
	for n := range p.Joints {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	for _, n := range names {
		j := p.Joints[n]
		parts = append(parts, fmt.Sprintf("%s=(%.1f,%.1f,%.2f)", n, j.Min, j.Max, j.Phase))
	}

	parts = append(parts, fmt.Sprintf("speed=%.4f", p.Speed))
	return strings.Join(parts, " ")
}

// splitField splits e.g. "knee2_phase" into ("knee2", "phase").
func splitField(key string) (string, string, bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}

	attr := key[i+1:]
	switch attr {
	case fieldMin, fieldMax, fieldPhase:
		return key[:i], attr, true
	}

	return "", "", false
}

// FieldNames returns the wire names of every parameter of a gait over the
// given joints: the bounds of each joint, then the phases, then the speed.
// This is the column order of every CSV which contains parameters.
func FieldNames(joints []string) []string {
	names := make([]string, 0, len(joints)*3+1)
	for _, j := range joints {
		names = append(names, j+"_"+fieldMin, j+"_"+fieldMax)
	}

	for _, j := range joints {
		names = append(names, j+"_"+fieldPhase)
	}

	return append(names, FieldSpeed)
}

// Label returns a human-friendly column header for a field name, e.g.
// "hip1_min" becomes "Hip1 Min".
func Label(field string) string {
	parts := strings.Split(field, "_")
	for i, s := range parts {
		if s != "" {
			parts[i] = strings.ToUpper(s[:1]) + s[1:]
		}
	}

	return strings.Join(parts, " ")
}
