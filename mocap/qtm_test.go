package mocap

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/adammck/biped/math3d"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parametersXML = `<?xml version="1.0"?>
<QTM_Parameters_Ver_1.19>
  <The_6D>
    <Bodies>2</Bodies>
    <Body><Name>table</Name><RGBColor>255</RGBColor></Body>
    <Body><Name> mortenrobot </Name><RGBColor>16711680</RGBColor></Body>
  </The_6D>
</QTM_Parameters_Ver_1.19>`

func encodePacket(kind uint32, payload []byte) []byte {
	b := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(b[0:], uint32(len(b)))
	binary.LittleEndian.PutUint32(b[4:], kind)
	copy(b[headerSize:], payload)
	return b
}

func encodeText(kind uint32, s string) []byte {
	return encodePacket(kind, append([]byte(s), 0))
}

func putF32(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

// encodeFrame builds a data packet with an unrelated component, followed by a
// 6D component with the given positions.
func encodeFrame(number uint32, positions ...math3d.Vector3) []byte {
	le := binary.LittleEndian

	var sixD []byte
	sixD = le.AppendUint32(sixD, uint32(len(positions)))
	sixD = le.AppendUint16(sixD, 0)
	sixD = le.AppendUint16(sixD, 0)
	for _, p := range positions {
		sixD = putF32(sixD, p.X)
		sixD = putF32(sixD, p.Y)
		sixD = putF32(sixD, p.Z)
		for j := 0; j < 9; j++ {
			sixD = putF32(sixD, float64(j))
		}
	}

	var b []byte
	b = le.AppendUint64(b, 123456)
	b = le.AppendUint32(b, number)
	b = le.AppendUint32(b, 2)

	// A 3D component, which should be skipped.
	b = le.AppendUint32(b, 12)
	b = le.AppendUint32(b, 1)
	b = le.AppendUint32(b, 0)

	b = le.AppendUint32(b, uint32(8+len(sixD)))
	b = le.AppendUint32(b, component6D)
	b = append(b, sixD...)

	return encodePacket(ptData, b)
}

func TestParseFrame(t *testing.T) {
	raw := encodeFrame(42, math3d.Vector3{X: 1.5, Y: -2, Z: 3}, math3d.Vector3{X: math.NaN(), Y: 0, Z: 0})

	f, err := parseFrame(raw[headerSize:])
	require.NoError(t, err)
	assert.Equal(t, int64(123456), f.Timestamp)
	assert.Equal(t, uint32(42), f.Number)
	require.Len(t, f.Bodies, 2)
	assert.Equal(t, math3d.Vector3{X: 1.5, Y: -2, Z: 3}, f.Bodies[0].Position)
	assert.Equal(t, 8.0, f.Bodies[0].Rotation[8])
	assert.True(t, f.Bodies[1].Position.HasNaN())

	_, err = parseFrame(raw[headerSize : len(raw)-4])
	assert.Error(t, err)

	_, err = parseFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseBodies(t *testing.T) {
	names, err := parseBodies(append([]byte(parametersXML), 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"table", "mortenrobot"}, names)

	_, err = parseBodies([]byte("<nope"))
	assert.Error(t, err)
}

// server plays the QTM side of a connection: it reads each expected command,
// and replies with the given packet (if any).
func server(t *testing.T, conn net.Conn, script []struct {
	cmd   string
	reply []byte
}) {
	_, err := conn.Write(encodeText(ptCommand, "QTM RT Interface connected"))
	if err != nil {
		t.Errorf("write welcome: %s", err)
		return
	}

	for _, step := range script {
		p, err := readPacket(conn)
		if err != nil {
			t.Errorf("read %q: %s", step.cmd, err)
			return
		}

		assert.Equal(t, uint32(ptCommand), p.kind)
		assert.Equal(t, step.cmd, p.text())

		if step.reply != nil {
			_, err = conn.Write(step.reply)
			if err != nil {
				t.Errorf("reply to %q: %s", step.cmd, err)
				return
			}
		}
	}

	conn.Close()
}

func TestClient(t *testing.T) {
	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go server(t, b, []struct {
		cmd   string
		reply []byte
	}{
		{"Version 1.19", encodeText(ptCommand, "Version set to 1.19")},
		{"GetParameters 6D", encodeText(ptXML, parametersXML)},
		{"StreamFrames AllFrames 6D", encodeFrame(7, math3d.Vector3{X: 10}, math3d.Vector3{X: 1234, Y: 5, Z: 6})},
		{"StreamFrames Stop", nil},
	})

	c, err := NewClient(ctx, a)
	require.NoError(t, err)

	names, err := c.Bodies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"table", "mortenrobot"}, names)

	frames := make(chan Frame, 10)
	require.NoError(t, c.StreamFrames(ctx, func(f Frame) { frames <- f }))

	select {
	case f := <-frames:
		assert.Equal(t, uint32(7), f.Number)
		assert.Equal(t, math3d.Vector3{X: 1234, Y: 5, Z: 6}, f.Bodies[1].Position)
	case <-ctx.Done():
		t.Fatal("no frame")
	}

	require.NoError(t, c.StopStreaming(ctx))

	// The server hangs up after the script.
	<-c.done
	_, err = c.Bodies(ctx)
	assert.True(t, errors.Is(err, ErrDisconnected))
}

func TestClientVersionRejected(t *testing.T) {
	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go server(t, b, []struct {
		cmd   string
		reply []byte
	}{
		{"Version 1.19", encodeText(ptError, "Version NOT supported")},
	})

	_, err := NewClient(ctx, a)
	assert.ErrorContains(t, err, "Version NOT supported")
}

func TestClientSkipsLateStreamErrors(t *testing.T) {
	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The error in reply to StreamFrames only turns up once the client has
	// moved on to its next request.
	late := append(encodeText(ptError, "Not streaming"), encodeText(ptCommand, "QTM Version is 2.17")...)

	go server(t, b, []struct {
		cmd   string
		reply []byte
	}{
		{"Version 1.19", encodeText(ptCommand, "Version set to 1.19")},
		{"StreamFrames AllFrames 6D", nil},
		{"StreamFrames Stop", nil},
		{"QTMVersion", late},
		{"GetParameters 6D", encodeText(ptXML, parametersXML)},
		{"GetParameters 6D", encodeText(ptXML, parametersXML)},
	})

	c, err := NewClient(ctx, a)
	require.NoError(t, err)

	require.NoError(t, c.StreamFrames(ctx, func(Frame) {}))
	require.NoError(t, c.StopStreaming(ctx))

	names, err := c.Bodies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"table", "mortenrobot"}, names)

	// Settled now, so no more syncing until the next stream.
	names, err = c.Bodies(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestClientErrorReply(t *testing.T) {
	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go server(t, b, []struct {
		cmd   string
		reply []byte
	}{
		{"Version 1.19", encodeText(ptCommand, "Version set to 1.19")},
		{"GetParameters 6D", encodeText(ptError, "Parameters unavailable")},
	})

	c, err := NewClient(ctx, a)
	require.NoError(t, err)

	// With no stream commands outstanding, an error is the reply.
	_, err = c.Bodies(ctx)
	assert.ErrorContains(t, err, "Parameters unavailable")
}
