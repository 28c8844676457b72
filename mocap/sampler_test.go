package mocap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	fakemocap "github.com/adammck/biped/fake/mocap"
	"github.com/adammck/biped/math3d"
	"github.com/adammck/biped/mocap"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bodies = []string{"table", "mortenrobot"}

// sample runs Sample, advancing the mock clock until it returns.
func sample(t *testing.T, ctx context.Context, s *mocap.Sampler, clk *clock.Mock) (math3d.Vector3, error) {
	type result struct {
		pos math3d.Vector3
		err error
	}

	ch := make(chan result, 1)
	go func() {
		pos, err := s.Sample(ctx)
		ch <- result{pos, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			return r.pos, r.err
		case <-deadline:
			t.Fatal("Sample didn't return")
		case <-time.After(time.Millisecond):
			clk.Add(s.Window)
		}
	}
}

func TestSampleFirstTry(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies, fakemocap.At(math3d.Vector3{X: 1000, Y: 2, Z: 3}, 2))

	pos, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	require.NoError(t, err)
	assert.Equal(t, math3d.Vector3{X: 1000, Y: 2, Z: 3}, pos)
	assert.Equal(t, 1, src.Opened())
	assert.Equal(t, 1, src.Stopped())
}

func TestSampleRetriesUntilValid(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies,
		fakemocap.Hidden(2),
		fakemocap.Empty(),
		fakemocap.Hidden(2),
		fakemocap.At(math3d.Vector3{X: 5, Y: 6, Z: 7}, 2),
	)

	pos, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	require.NoError(t, err)
	assert.Equal(t, math3d.Vector3{X: 5, Y: 6, Z: 7}, pos)
	assert.Equal(t, 4, src.Opened())
	assert.Equal(t, 4, src.Stopped())
}

func TestSampleUsesTheRightBody(t *testing.T) {
	clk := clock.NewMock()
	fr := mocap.Frame{Bodies: []mocap.Body{
		{Position: math3d.Vector3{X: 1}},
		{Position: math3d.Vector3{X: 2}},
	}}
	src := fakemocap.New(bodies, fakemocap.Session{Frames: []mocap.Frame{fr}})

	pos, err := sample(t, context.Background(), mocap.NewSampler(src, "table", clk), clk)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.X)
}

func TestSampleFirstFrameWins(t *testing.T) {
	clk := clock.NewMock()
	a := fakemocap.At(math3d.Vector3{X: 10}, 2)
	b := fakemocap.At(math3d.Vector3{X: 20}, 2)
	src := fakemocap.New(bodies, fakemocap.Session{Frames: append(a.Frames, b.Frames...)})

	pos, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos.X)
}

func TestSampleBodyNotFound(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New([]string{"table"}, fakemocap.At(math3d.Vector3{}, 1))

	_, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	assert.True(t, errors.Is(err, mocap.ErrBodyNotFound))
	assert.Equal(t, 0, src.Opened())
}

func TestSampleMaxAttempts(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies, fakemocap.Hidden(2))

	s := mocap.NewSampler(src, "mortenrobot", clk)
	s.MaxAttempts = 3

	_, err := sample(t, context.Background(), s, clk)
	assert.True(t, errors.Is(err, mocap.ErrSensorTimeout))
	assert.Equal(t, 3, src.Opened())
}

func TestSampleStreamErrors(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies,
		fakemocap.Session{Err: errors.New("busy")},
		fakemocap.At(math3d.Vector3{X: 9}, 2),
	)

	pos, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	require.NoError(t, err)
	assert.Equal(t, 9.0, pos.X)

	// Losing the connection is fatal.
	src = fakemocap.New(bodies, fakemocap.Session{Err: mocap.ErrDisconnected})
	_, err = sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	assert.True(t, errors.Is(err, mocap.ErrDisconnected))
	assert.Equal(t, 1, src.Opened())
}

func TestSampleBodiesError(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies)
	src.BodiesErr = errors.New("no route to host")

	_, err := sample(t, context.Background(), mocap.NewSampler(src, "mortenrobot", clk), clk)
	assert.Equal(t, src.BodiesErr, err)
}

func TestSampleCancelled(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies, fakemocap.Hidden(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sample(t, ctx, mocap.NewSampler(src, "mortenrobot", clk), clk)
	assert.Equal(t, context.Canceled, err)
}

func TestSampleAfterMoving(t *testing.T) {
	clk := clock.NewMock()
	src := fakemocap.New(bodies, fakemocap.At(math3d.Vector3{X: 100, Y: 10}, 2))
	s := mocap.NewSampler(src, "mortenrobot", clk)

	start, err := sample(t, context.Background(), s, clk)
	require.NoError(t, err)

	// The robot walks off between samples, and vanishes once on the way.
	src.Push(fakemocap.Hidden(2), fakemocap.At(math3d.Vector3{X: 600, Y: 40}, 2))

	end, err := sample(t, context.Background(), s, clk)
	require.NoError(t, err)
	assert.Equal(t, math3d.Vector3{X: 500, Y: 30}, end.Subtract(start))
	assert.Equal(t, 3, src.Opened())
}
