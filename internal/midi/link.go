package midi

import (
	"errors"
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/versioduo/v2configure/internal/sysex"
)

var (
	ErrNoInput    = errors.New("device has no input port")
	ErrNoOutput   = errors.New("device has no output port")
	ErrLinkClosed = errors.New("link is closed")
)

// Link is the open input/output port pair of one device
type Link struct {
	mu     sync.Mutex
	in     Input
	out    Output
	stop   func()
	closed bool
}

// NewLink creates a link for a pair; the ports are not opened yet
func NewLink(in Input, out Output) *Link {
	return &Link{in: in, out: out}
}

// Name returns the input port name
func (l *Link) Name() string {
	if l.in == nil {
		return l.out.Name()
	}
	return l.in.Name()
}

// OpenInput opens the input port. When the link is closed while the port
// opens, the port is closed again and ErrLinkClosed is returned.
func (l *Link) OpenInput() error {
	if l.in == nil {
		return ErrNoInput
	}
	if l.isClosed() {
		return ErrLinkClosed
	}
	if err := l.in.Open(); err != nil {
		return fmt.Errorf("failed to open input %s: %w", l.in.Name(), err)
	}
	return l.closeIfClosed(l.in)
}

// OpenOutput opens the output port, like OpenInput
func (l *Link) OpenOutput() error {
	if l.out == nil {
		return ErrNoOutput
	}
	if l.isClosed() {
		return ErrLinkClosed
	}
	if err := l.out.Open(); err != nil {
		return fmt.Errorf("failed to open output %s: %w", l.out.Name(), err)
	}
	return l.closeIfClosed(l.out)
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// closeIfClosed closes a port opened after Close ran
func (l *Link) closeIfClosed(p Port) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		return nil
	}
	if p.IsOpen() {
		if err := p.Close(); err != nil {
			return errors.Join(ErrLinkClosed, err)
		}
	}
	return ErrLinkClosed
}

// Open opens both ports
func (l *Link) Open() error {
	if err := l.OpenInput(); err != nil {
		return err
	}
	return l.OpenOutput()
}

// Listen decodes incoming messages and passes them to handler. A second call
// replaces the previous handler.
func (l *Link) Listen(handler func(Message)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if l.in == nil {
		return ErrNoInput
	}
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}

	stop, err := l.in.Listen(func(raw []byte) {
		if msg, ok := Decode(raw); ok {
			handler(msg)
		}
	})
	if err != nil {
		return err
	}
	l.stop = stop
	return nil
}

// Send writes one raw message
func (l *Link) Send(raw []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if l.out == nil {
		return ErrNoOutput
	}
	if err := l.out.Send(raw); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNote sends a note-on message
func (l *Link) SendNote(channel, note, velocity uint8) error {
	return l.Send(midi.NoteOn(channel, note, velocity).Bytes())
}

// SendNoteOff sends a note-off message with a release velocity
func (l *Link) SendNoteOff(channel, note, velocity uint8) error {
	return l.Send(midi.NoteOffVelocity(channel, note, velocity).Bytes())
}

// SendControlChange sends a control change message
func (l *Link) SendControlChange(channel, controller, value uint8) error {
	return l.Send(midi.ControlChange(channel, controller, value).Bytes())
}

// SendProgramChange sends a program change message
func (l *Link) SendProgramChange(channel, program uint8) error {
	return l.Send(midi.ProgramChange(channel, program).Bytes())
}

// SendAftertouchChannel sends a channel pressure message
func (l *Link) SendAftertouchChannel(channel, pressure uint8) error {
	return l.Send(midi.AfterTouch(channel, pressure).Bytes())
}

// SendPitchBend sends a relative value in the range -8192..8191
func (l *Link) SendPitchBend(channel uint8, value int16) error {
	return l.Send(midi.Pitchbend(channel, value).Bytes())
}

// SendSystemReset sends a MIDI System Reset
func (l *Link) SendSystemReset() error {
	return l.Send([]byte{statusSystemReset})
}

// SendSystemExclusive encodes v as a JSON System Exclusive message and
// returns the number of bytes written.
func (l *Link) SendSystemExclusive(v any) (int, error) {
	msg, err := sysex.Encode(v)
	if err != nil {
		return 0, err
	}
	if err := l.Send(msg); err != nil {
		return 0, err
	}
	return len(msg), nil
}

// Close detaches the listener and closes both ports. It is safe to call more
// than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.stop != nil {
		l.stop()
		l.stop = nil
	}

	var errs []error
	if l.in != nil && l.in.IsOpen() {
		errs = append(errs, l.in.Close())
	}
	if l.out != nil && l.out.IsOpen() {
		errs = append(errs, l.out.Close())
	}
	return errors.Join(errs...)
}
