package mocap

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/adammck/biped/math3d"
	"github.com/pkg/errors"
)

const (
	// Default port of the little-endian QTM RT server.
	DefaultPort = 22223

	protocolVersion = "1.19"

	headerSize = 8

	// Packet types.
	ptError      = 0
	ptCommand    = 1
	ptXML        = 2
	ptData       = 3
	ptNoMoreData = 4
	ptC3D        = 5
	ptEvent      = 6

	// Component type of 6DOF data in a data packet.
	component6D = 5

	// Largest packet we're willing to allocate for.
	maxPacketSize = 16 << 20

	responseBuffer = 16

	// Harmless command with a command reply, used to flush out late errors.
	cmdSync = "QTMVersion"
)

// ErrDisconnected is returned by every call after the connection to the QTM
// server is lost.
var ErrDisconnected = errors.New("disconnected from qtm")

type packet struct {
	kind    uint32
	payload []byte
}

func (p packet) text() string {
	return strings.TrimRight(string(p.payload), "\x00")
}

// Client talks to a Qualisys Track Manager server via its real-time protocol.
type Client struct {
	conn net.Conn

	// Requests are serialized, so responses arrive in order.
	reqMu     sync.Mutex
	responses chan packet

	mu      sync.Mutex
	onFrame func(Frame)
	err     error
	done    chan struct{}

	// Set after sending a command which only replies on failure. Until the
	// server has answered something later, an error packet might belong to it.
	unsettled bool
}

// Dial connects to a QTM server at the given address (host:port, or just host
// for the default port), and negotiates the protocol version.
func Dial(ctx context.Context, addr string) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultPort))
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "while connecting to %s", addr)
	}

	c, err := NewClient(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Infof("connected to qtm at %s", addr)
	return c, nil
}

// NewClient performs the handshake over an existing connection.
func NewClient(ctx context.Context, conn net.Conn) (*Client, error) {
	c := &Client{
		conn:      conn,
		responses: make(chan packet, responseBuffer),
		done:      make(chan struct{}),
	}

	go c.read()

	// The server greets every new connection.
	welcome, err := c.await(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "while waiting for welcome")
	}
	log.Debugf("qtm: %s", welcome.text())

	resp, err := c.request(ctx, "Version "+protocolVersion)
	if err != nil {
		return nil, errors.Wrap(err, "while setting version")
	}

	if resp.kind != ptCommand {
		return nil, fmt.Errorf("while setting version: %s", resp.text())
	}

	return c, nil
}

// Bodies fetches the 6DOF parameters, and returns the names of the bodies.
func (c *Client) Bodies(ctx context.Context) ([]string, error) {
	resp, err := c.request(ctx, "GetParameters 6D")
	if err != nil {
		return nil, errors.Wrap(err, "while getting parameters")
	}

	if resp.kind != ptXML {
		return nil, fmt.Errorf("while getting parameters: %s", resp.text())
	}

	return parseBodies(resp.payload)
}

func (c *Client) StreamFrames(ctx context.Context, onFrame func(Frame)) error {
	c.mu.Lock()
	c.onFrame = onFrame
	c.mu.Unlock()

	// No response unless something went wrong, which will turn up as an
	// unexpected error packet.
	return c.sendUnanswered("StreamFrames AllFrames 6D")
}

func (c *Client) StopStreaming(ctx context.Context) error {
	err := c.sendUnanswered("StreamFrames Stop")

	c.mu.Lock()
	c.onFrame = nil
	c.mu.Unlock()

	return err
}

// sendUnanswered sends a command which the server only replies to on failure.
func (c *Client) sendUnanswered(cmd string) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	c.unsettled = true
	c.mu.Unlock()

	return c.send(cmd)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) request(ctx context.Context, cmd string) (packet, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.drain()

	err := c.settle(ctx)
	if err != nil {
		return packet{}, err
	}

	err = c.send(cmd)
	if err != nil {
		return packet{}, err
	}

	return c.await(ctx)
}

// settle makes sure that no error from an unanswered command is still in
// flight. The server answers in order, so every such error arrives before the
// reply to the sync command. Must be called with reqMu held.
func (c *Client) settle(ctx context.Context) error {
	c.mu.Lock()
	unsettled := c.unsettled
	c.mu.Unlock()

	if !unsettled {
		return nil
	}

	err := c.send(cmdSync)
	if err != nil {
		return err
	}

	for {
		p, err := c.await(ctx)
		if err != nil {
			return errors.Wrap(err, "while syncing")
		}

		if p.kind == ptCommand {
			break
		}

		log.Debugf("discarding late packet: %s", p.text())
	}

	c.mu.Lock()
	c.unsettled = false
	c.mu.Unlock()

	return nil
}

func (c *Client) await(ctx context.Context) (packet, error) {
	select {
	case p := <-c.responses:
		return p, nil
	case <-c.done:
		return packet{}, c.failure()
	case <-ctx.Done():
		return packet{}, ctx.Err()
	}
}

func (c *Client) send(cmd string) error {
	select {
	case <-c.done:
		return c.failure()
	default:
	}

	b := make([]byte, headerSize+len(cmd)+1)
	binary.LittleEndian.PutUint32(b[0:], uint32(len(b)))
	binary.LittleEndian.PutUint32(b[4:], ptCommand)
	copy(b[headerSize:], cmd)

	log.Debugf("qtm < %s", cmd)
	_, err := c.conn.Write(b)
	if err != nil {
		return errors.Wrapf(err, "while sending %q", cmd)
	}

	return nil
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Wrap(ErrDisconnected, c.err.Error())
}

// read runs until the connection fails, handing data packets to the current
// frame callback and everything else to whoever is waiting for a response.
func (c *Client) read() {
	r := bufio.NewReader(c.conn)

	for {
		p, err := readPacket(r)
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			close(c.done)
			return
		}

		switch p.kind {
		case ptData:
			f, err := parseFrame(p.payload)
			if err != nil {
				log.Warnf("bad data packet: %s", err)
				continue
			}

			c.mu.Lock()
			cb := c.onFrame
			c.mu.Unlock()

			if cb != nil {
				cb(f)
			}

		case ptNoMoreData, ptEvent, ptC3D:
			log.Debugf("qtm > type=%d", p.kind)

		case ptError:
			log.Warnf("qtm error: %s", p.text())
			c.respond(p)

		default:
			c.respond(p)
		}
	}
}

// respond hands a packet to a waiting request. Packets which nobody is waiting
// for (e.g. errors in reply to StreamFrames) are dropped once the buffer fills.
func (c *Client) respond(p packet) {
	select {
	case c.responses <- p:
	default:
		log.Debugf("dropped unsolicited packet: %s", p.text())
	}
}

// drain discards any unsolicited packets, so they aren't mistaken for the
// response to the next request.
func (c *Client) drain() {
	for {
		select {
		case p := <-c.responses:
			log.Debugf("discarding stale packet: %s", p.text())
		default:
			return
		}
	}
}

func readPacket(r io.Reader) (packet, error) {
	var hdr [headerSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return packet{}, err
	}

	size := binary.LittleEndian.Uint32(hdr[0:])
	kind := binary.LittleEndian.Uint32(hdr[4:])
	if size < headerSize || size > maxPacketSize {
		return packet{}, fmt.Errorf("bad packet size: %d", size)
	}

	payload := make([]byte, size-headerSize)
	_, err = io.ReadFull(r, payload)
	if err != nil {
		return packet{}, err
	}

	return packet{kind: kind, payload: payload}, nil
}

// parseFrame decodes a data packet, ignoring every component except 6DOF.
func parseFrame(b []byte) (Frame, error) {
	if len(b) < 16 {
		return Frame{}, fmt.Errorf("short data packet: %d bytes", len(b))
	}

	le := binary.LittleEndian
	f := Frame{
		Timestamp: int64(le.Uint64(b[0:])),
		Number:    le.Uint32(b[8:]),
	}

	count := le.Uint32(b[12:])
	b = b[16:]

	for i := uint32(0); i < count; i++ {
		if len(b) < 8 {
			return Frame{}, fmt.Errorf("short component header")
		}

		size := le.Uint32(b[0:])
		kind := le.Uint32(b[4:])
		if size < 8 || int(size) > len(b) {
			return Frame{}, fmt.Errorf("bad component size: %d", size)
		}

		if kind == component6D {
			bodies, err := parse6D(b[8:size])
			if err != nil {
				return Frame{}, err
			}
			f.Bodies = bodies
		}

		b = b[size:]
	}

	return f, nil
}

func parse6D(b []byte) ([]Body, error) {
	const bodySize = 12 * 4

	if len(b) < 8 {
		return nil, fmt.Errorf("short 6d component")
	}

	le := binary.LittleEndian
	n := int(le.Uint32(b[0:]))

	// Skip the drop rate and out-of-sync rate.
	b = b[8:]
	if len(b) < n*bodySize {
		return nil, fmt.Errorf("6d component too short for %d bodies", n)
	}

	f32 := func(off int) float64 {
		return float64(math.Float32frombits(le.Uint32(b[off:])))
	}

	bodies := make([]Body, n)
	for i := range bodies {
		off := i * bodySize
		bodies[i].Position = math3d.Vector3{X: f32(off), Y: f32(off + 4), Z: f32(off + 8)}
		for j := 0; j < 9; j++ {
			bodies[i].Rotation[j] = f32(off + 12 + j*4)
		}
	}

	return bodies, nil
}

type parameters struct {
	Bodies []struct {
		Name string `xml:"Name"`
	} `xml:"The_6D>Body"`
}

func parseBodies(b []byte) ([]string, error) {
	var p parameters

	err := xml.Unmarshal([]byte(strings.TrimRight(string(b), "\x00")), &p)
	if err != nil {
		return nil, errors.Wrap(err, "while parsing 6d parameters")
	}

	names := make([]string, len(p.Bodies))
	for i, body := range p.Bodies {
		names[i] = strings.TrimSpace(body.Name)
	}

	return names, nil
}
