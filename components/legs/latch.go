package legs

// Edge is one of the transitions reported by a Latch.
type Edge int

const (
	Steady Edge = iota
	Rising
	Falling
)

// Latch remembers a boolean condition, and reports when it changes.
type Latch struct {
	val bool
}

// Set records the current value of the condition, and returns how it changed
// since the previous call.
func (l *Latch) Set(v bool) Edge {
	prev := l.val
	l.val = v

	switch {
	case v && !prev:
		return Rising
	case !v && prev:
		return Falling
	}

	return Steady
}

// Value returns the most recent value passed to Set.
func (l *Latch) Value() bool {
	return l.val
}
