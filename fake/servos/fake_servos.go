package servos

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "fake/servos",
})

// Command is a single call recorded by the fake driver. Relax calls are
// recorded with Relax set and Position zero.
type Command struct {
	Channel  int
	Position int
	Relax    bool
}

// FakeServos is a servos.Driver which keeps the last position of each channel
// in memory, and can be told to fail.
type FakeServos struct {
	mu       sync.Mutex
	pos      map[int]int
	history  []Command
	failing  map[int]bool
	closed   bool
	commands int
}

func New() *FakeServos {
	return &FakeServos{
		pos:     map[int]int{},
		failing: map[int]bool{},
	}
}

func (f *FakeServos) SetPosition(channel int, pos int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands++
	if f.failing[channel] {
		return fmt.Errorf("channel %d: fake failure", channel)
	}

	log.Debugf("channel %d -> %d", channel, pos)
	f.pos[channel] = pos
	f.history = append(f.history, Command{Channel: channel, Position: pos})
	return nil
}

func (f *FakeServos) Relax(channel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands++
	if f.failing[channel] {
		return fmt.Errorf("channel %d: fake failure", channel)
	}

	delete(f.pos, channel)
	f.history = append(f.history, Command{Channel: channel, Relax: true})
	return nil
}

func (f *FakeServos) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Fail makes every subsequent command to the given channels fail, until Heal
// is called.
func (f *FakeServos) Fail(channels ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		f.failing[ch] = true
	}
}

// Heal clears every injected failure.
func (f *FakeServos) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = map[int]bool{}
}

// Positions returns a copy of the last commanded position of each channel.
func (f *FakeServos) Positions() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[int]int, len(f.pos))
	for k, v := range f.pos {
		out[k] = v
	}

	return out
}

// History returns every successful command, oldest first.
func (f *FakeServos) History() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.history...)
}

// Reset forgets the history, but not the positions.
func (f *FakeServos) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
	f.commands = 0
}

// Commands returns the number of commands attempted, including failures.
func (f *FakeServos) Commands() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands
}

func (f *FakeServos) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
