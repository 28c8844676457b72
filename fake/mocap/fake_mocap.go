package mocap

import (
	"context"
	"math"
	"sync"

	"github.com/adammck/biped/math3d"
	"github.com/adammck/biped/mocap"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "fake/mocap",
})

// Session is what the fake source does when asked to stream: fail with Err,
// or deliver Frames (possibly none) before StreamFrames returns.
type Session struct {
	Frames []mocap.Frame
	Err    error
}

// FakeSource is a mocap.Source which plays back scripted sessions. Once the
// script runs out, the last session is repeated forever.
type FakeSource struct {
	mu       sync.Mutex
	names    []string
	sessions []Session
	opened   int
	stops    int

	// When set, Bodies fails with this error.
	BodiesErr error
}

func New(names []string, sessions ...Session) *FakeSource {
	return &FakeSource{
		names:    names,
		sessions: sessions,
	}
}

func (f *FakeSource) Bodies(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.BodiesErr != nil {
		return nil, f.BodiesErr
	}

	return append([]string(nil), f.names...), nil
}

func (f *FakeSource) StreamFrames(ctx context.Context, onFrame func(mocap.Frame)) error {
	f.mu.Lock()
	s := Session{}
	if len(f.sessions) > 0 {
		i := f.opened
		if i >= len(f.sessions) {
			i = len(f.sessions) - 1
		}
		s = f.sessions[i]
	}
	f.opened++
	f.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}

	log.Debugf("session %d: %d frames", f.Opened(), len(s.Frames))
	for _, fr := range s.Frames {
		onFrame(fr)
	}

	return nil
}

func (f *FakeSource) StopStreaming(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

// Push appends sessions to the script.
func (f *FakeSource) Push(sessions ...Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessions...)
}

// Opened returns the number of sessions opened so far.
func (f *FakeSource) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Stopped returns the number of times StopStreaming was called.
func (f *FakeSource) Stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// At returns a session with a single frame, in which every body is at the
// given position.
func At(pos math3d.Vector3, bodies int) Session {
	fr := mocap.Frame{Bodies: make([]mocap.Body, bodies)}
	for i := range fr.Bodies {
		fr.Bodies[i].Position = pos
	}

	return Session{Frames: []mocap.Frame{fr}}
}

// Hidden returns a session with a single frame, in which no body is visible.
func Hidden(bodies int) Session {
	nan := math.NaN()
	return At(math3d.Vector3{X: nan, Y: nan, Z: nan}, bodies)
}

// Empty returns a session in which no frames arrive.
func Empty() Session {
	return Session{}
}
