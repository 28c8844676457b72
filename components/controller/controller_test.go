package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adammck/biped"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLegs struct {
	mu    sync.Mutex
	rests int
	err   error
}

func (f *fakeLegs) Rest() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rests++
	return f.err
}

func (f *fakeLegs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rests
}

type fakeAudit struct {
	records []biped.Parameters
}

func (f *fakeAudit) Record(p biped.Parameters) error {
	f.records = append(f.records, p)
	return nil
}

func setup() (*Controller, *biped.State, *fakeLegs, *fakeAudit) {
	state := biped.NewState(biped.DefaultParameters(biped.TwoDOF()))
	legs := &fakeLegs{}
	audit := &fakeAudit{}
	c := New(state, legs, audit, clock.NewMock())
	c.Settle = 0
	return c, state, legs, audit
}

func TestStartBeforeParameters(t *testing.T) {
	c, _, _, _ := setup()

	err := c.Start()
	assert.True(t, errors.Is(err, biped.ErrNotReady))
	assert.Equal(t, biped.RunState{}, c.Status())
}

func TestSetParametersThenStart(t *testing.T) {
	c, state, legs, audit := setup()

	p, err := c.SetParameters(map[string]interface{}{"knee1_min": 400.0})
	require.NoError(t, err)
	assert.Equal(t, 400.0, p.Joint("knee1").Min)
	assert.Equal(t, 1, legs.count())
	require.Len(t, audit.records, 1)
	assert.Equal(t, p, audit.records[0])

	require.NoError(t, c.Start())
	assert.Equal(t, biped.RunState{Running: true, ParametersReceived: true}, c.Status())

	// Setting parameters while running stops the robot.
	_, err = c.SetParameters(map[string]interface{}{"speed": 0.002})
	require.NoError(t, err)
	assert.False(t, c.Status().Running)
	assert.Equal(t, 400.0, state.Snapshot().Parameters.Joint("knee1").Min)
	assert.Equal(t, 2, legs.count())
}

func TestBadParametersChangeNothing(t *testing.T) {
	c, _, legs, audit := setup()
	_, err := c.SetParameters(map[string]interface{}{"speed": 0.002})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	_, err = c.SetParameters(map[string]interface{}{"speed": "fast"})
	assert.True(t, errors.Is(err, biped.ErrBadRequest))

	_, err = c.SetParameters(nil)
	assert.True(t, errors.Is(err, biped.ErrBadRequest))

	assert.True(t, c.Status().Running)
	assert.Equal(t, 1, legs.count())
	assert.Len(t, audit.records, 1)
}

func TestStopAlwaysSucceeds(t *testing.T) {
	c, _, legs, _ := setup()
	legs.err = errors.New("servo on fire")

	c.Stop()
	assert.Equal(t, biped.RunState{}, c.Status())
	assert.Equal(t, 1, legs.count())
}

func TestSetParametersWaitsToSettle(t *testing.T) {
	state := biped.NewState(biped.DefaultParameters(biped.TwoDOF()))
	clk := clock.NewMock()
	c := New(state, &fakeLegs{}, nil, clk)

	done := make(chan error)
	go func() {
		_, err := c.SetParameters(map[string]interface{}{"speed": 0.002})
		done <- err
	}()

	// Not committed until the settle time has passed.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, state.Status().ParametersReceived)

	clk.Add(DefaultSettle)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SetParameters didn't return")
	}

	assert.True(t, state.Status().ParametersReceived)
}

func TestServer(t *testing.T) {
	c, _, _, _ := setup()
	h := NewServer(c, ":0").Handler()

	type eg struct {
		method string
		path   string
		body   string
		code   int
		exp    map[string]interface{}
	}

	examples := []eg{
		{"GET", "/", "", 200, map[string]interface{}{"Status": "OK", "Running": false, "Parameters Received": false}},
		{"POST", "/start", "", 400, map[string]interface{}{"Status": "Error"}},
		{"POST", "/stop", "", 200, map[string]interface{}{"Status": "OK"}},
		{"POST", "/set_params", "", 400, map[string]interface{}{"Status": "Error"}},
		{"POST", "/set_params", "{}", 400, map[string]interface{}{"Status": "Error"}},
		{"POST", "/set_params", "nope", 400, map[string]interface{}{"Status": "Error"}},
		{"POST", "/set_params", `{"hip1_min": "x"}`, 400, map[string]interface{}{"Status": "Error"}},
		{"GET", "/", "", 200, map[string]interface{}{"Status": "OK", "Running": false, "Parameters Received": false}},
		{"POST", "/set_params", `{"hip1_min": 300, "knee2_phase": 0.5}`, 200, map[string]interface{}{"Status": "OK"}},
		{"GET", "/", "", 200, map[string]interface{}{"Status": "OK", "Running": false, "Parameters Received": true}},
		{"POST", "/start", "", 200, map[string]interface{}{"Status": "OK"}},
		{"GET", "/", "", 200, map[string]interface{}{"Status": "OK", "Running": true, "Parameters Received": true}},
		{"POST", "/stop", "", 200, map[string]interface{}{"Status": "OK"}},
		{"GET", "/", "", 200, map[string]interface{}{"Status": "OK", "Running": false, "Parameters Received": true}},
	}

	for i, x := range examples {
		req := httptest.NewRequest(x.method, x.path, bytes.NewBufferString(x.body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, x.code, rec.Code, "example #%d", i+1)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "example #%d", i+1)
		for k, v := range x.exp {
			assert.Equal(t, v, body[k], "example #%d: %s", i+1, k)
		}
	}

	assert.Equal(t, 300.0, c.state.Snapshot().Parameters.Joint("hip1").Min)
	assert.Equal(t, 0.5, c.state.Snapshot().Parameters.Joint("knee2").Phase)
}

func TestClient(t *testing.T) {
	c, state, _, _ := setup()
	srv := httptest.NewServer(NewServer(c, ":0").Handler())
	defer srv.Close()

	ctx := context.Background()
	cl := NewClient(srv.URL+"/", time.Second)

	rs, err := cl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, biped.RunState{}, rs)

	err = cl.Start(ctx)
	assert.True(t, errors.Is(err, biped.ErrNotReady))

	p := biped.DefaultParameters(biped.TwoDOF())
	p.Joints["hip2"] = biped.JointParameters{Min: 330, Max: 240, Phase: 0.5}
	p.Speed = 0.002
	require.NoError(t, cl.SetParameters(ctx, p))
	assert.Equal(t, p, state.Snapshot().Parameters)

	require.NoError(t, cl.Start(ctx))
	rs, err = cl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, biped.RunState{Running: true, ParametersReceived: true}, rs)

	require.NoError(t, cl.Stop(ctx))
	rs, err = cl.Status(ctx)
	require.NoError(t, err)
	assert.False(t, rs.Running)
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cl := NewClient(srv.URL, time.Second)
	err := cl.Stop(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, biped.ErrBadRequest))
}

func TestStartWaitsForSettle(t *testing.T) {
	state := biped.NewState(biped.DefaultParameters(biped.TwoDOF()))
	clk := clock.NewMock()
	c := New(state, &fakeLegs{}, nil, clk)

	c.Settle = 0
	_, err := c.SetParameters(map[string]interface{}{"speed": 0.001})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	c.Settle = DefaultSettle
	set := make(chan error)
	go func() {
		_, err := c.SetParameters(map[string]interface{}{"speed": 0.009})
		set <- err
	}()

	// Let SetParameters park and start waiting.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, state.Status().Running)

	started := make(chan error)
	go func() { started <- c.Start() }()

	// Start must not get in ahead of the commit.
	time.Sleep(10 * time.Millisecond)
	select {
	case <-started:
		t.Fatal("Start returned during the settle wait")
	default:
	}
	assert.False(t, state.Status().Running)

	clk.Add(DefaultSettle)
	for _, ch := range []chan error{set, started} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("didn't return after settling")
		}
	}

	snap := state.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, 0.009, snap.Parameters.Speed)
}
