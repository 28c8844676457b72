package trial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adammck/biped"
	"github.com/adammck/biped/math3d"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	positions []math3d.Vector3
	errs      []error
	calls     int
}

func (f *fakeSampler) Sample(ctx context.Context) (math3d.Vector3, error) {
	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return math3d.Vector3{}, f.errs[i]
	}

	return f.positions[i], nil
}

type fakeControl struct {
	calls    []string
	params   []biped.Parameters
	startErr error
	stopErr  error
}

func (f *fakeControl) SetParameters(ctx context.Context, p biped.Parameters) error {
	f.calls = append(f.calls, "set_params")
	f.params = append(f.params, p)
	return nil
}

func (f *fakeControl) Start(ctx context.Context) error {
	f.calls = append(f.calls, "start")
	return f.startErr
}

func (f *fakeControl) Stop(ctx context.Context) error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

// run runs a trial, advancing the mock clock until it returns.
func run(t *testing.T, ctx context.Context, r *Runner, clk *clock.Mock, p biped.Parameters) (float64, error) {
	type result struct {
		d   float64
		err error
	}

	ch := make(chan result, 1)
	go func() {
		d, err := r.Run(ctx, p)
		ch <- result{d, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case res := <-ch:
			return res.d, res.err
		case <-deadline:
			t.Fatal("trial didn't finish")
		case <-time.After(time.Millisecond):
			clk.Add(time.Second)
		}
	}
}

func TestRun(t *testing.T) {
	type eg struct {
		start float64
		end   float64
		exp   float64
	}

	examples := []eg{
		{1000, 1450, 0.45},
		{1450, 1000, 0.45},
		{-200, 100, 0.3},
		{500, 500, 0},
	}

	for i, x := range examples {
		clk := clock.NewMock()
		s := &fakeSampler{positions: []math3d.Vector3{{X: x.start, Y: 3}, {X: x.end, Y: 900}}}
		c := &fakeControl{}
		p := biped.DefaultParameters(biped.TwoDOF())

		d, err := run(t, context.Background(), New(s, c, clk), clk, p)
		require.NoError(t, err, "example #%d", i+1)
		assert.InDelta(t, x.exp, d, 1e-9, "example #%d", i+1)
		assert.Equal(t, []string{"set_params", "start", "stop"}, c.calls, "example #%d", i+1)
		assert.Equal(t, []biped.Parameters{p}, c.params, "example #%d", i+1)
		assert.Equal(t, 2, s.calls, "example #%d", i+1)
	}
}

func TestRunWaitsForDuration(t *testing.T) {
	clk := clock.NewMock()
	s := &fakeSampler{positions: []math3d.Vector3{{X: 0}, {X: 100}}}
	c := &fakeControl{}
	r := New(s, c, clk)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), biped.DefaultParameters(biped.TwoDOF()))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	clk.Add(DefaultDuration - time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"set_params", "start"}, c.calls)

	clk.Add(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trial didn't finish")
	}
	assert.Equal(t, []string{"set_params", "start", "stop"}, c.calls)
}

func TestRunIgnoresCancellation(t *testing.T) {
	clk := clock.NewMock()
	s := &fakeSampler{positions: []math3d.Vector3{{X: 0}, {X: 250}}}
	c := &fakeControl{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := run(t, ctx, New(s, c, clk), clk, biped.DefaultParameters(biped.TwoDOF()))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, d, 1e-9)
}

func TestRunFailures(t *testing.T) {
	boom := errors.New("boom")
	p := biped.DefaultParameters(biped.TwoDOF())

	// Start position
	clk := clock.NewMock()
	c := &fakeControl{}
	_, err := run(t, context.Background(), New(&fakeSampler{errs: []error{boom}}, c, clk), clk, p)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, c.calls)

	// Start rejected: stop anyway
	c = &fakeControl{startErr: biped.ErrNotReady}
	s := &fakeSampler{positions: []math3d.Vector3{{}, {}}}
	_, err = run(t, context.Background(), New(s, c, clk), clk, p)
	assert.True(t, errors.Is(err, biped.ErrNotReady))
	assert.Equal(t, []string{"set_params", "start", "stop"}, c.calls)
	assert.Equal(t, 1, s.calls)

	// End position
	c = &fakeControl{}
	s = &fakeSampler{positions: []math3d.Vector3{{}, {}}, errs: []error{nil, boom}}
	_, err = run(t, context.Background(), New(s, c, clk), clk, p)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"set_params", "start", "stop"}, c.calls)
}
