package serial

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "fake/serial",
})

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("fake serial port closed")

// FakeSerial is an io.ReadWriteCloser which records everything written to it.
// The Maestro never answers the commands we send, so there is nothing to read.
type FakeSerial struct {
	mu      sync.Mutex
	written bytes.Buffer
	closed  bool

	// When set, every write fails with this error.
	WriteErr error
}

func (s *FakeSerial) Read(p []byte) (n int, err error) {
	log.Debugf("read %d bytes", len(p))
	return 0, io.EOF
}

func (s *FakeSerial) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if s.WriteErr != nil {
		return 0, s.WriteErr
	}

	log.Debugf("write: %v", p)
	return s.written.Write(p)
}

func (s *FakeSerial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debugf("close")
	s.closed = true
	return nil
}

// Written returns a copy of every byte written so far.
func (s *FakeSerial) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

func (s *FakeSerial) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
