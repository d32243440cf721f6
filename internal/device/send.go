package device

import (
	"errors"
	"fmt"
)

// Test messages, as named in the send API and the device tab
const (
	SendTypeNote       = "note"
	SendTypeNoteOff    = "noteOff"
	SendTypeProgram    = "program"
	SendTypeControl    = "control"
	SendTypeAftertouch = "aftertouch"
	SendTypePitchBend  = "pitchbend"
)

// SendTypes lists the test messages in display order
var SendTypes = []string{
	SendTypeNote,
	SendTypeNoteOff,
	SendTypeProgram,
	SendTypeControl,
	SendTypeAftertouch,
	SendTypePitchBend,
}

var ErrInvalidMessage = errors.New("invalid message")

// TestMessage is a channel message typed in by the user. Number is the note,
// program or controller; Value is the velocity, controller value, pressure or
// pitch bend. Fields a type does not use are ignored.
type TestMessage struct {
	Type    string `json:"type" validate:"required,oneof=note noteOff program control aftertouch pitchbend"`
	Channel int    `json:"channel" validate:"min=0,max=15"`
	Number  int    `json:"number" validate:"min=0,max=127"`
	Value   int    `json:"value" validate:"min=-8192,max=8191"`
}

func (m TestMessage) check() error {
	if m.Channel < 0 || m.Channel > 15 {
		return fmt.Errorf("%w: channel %d", ErrInvalidMessage, m.Channel)
	}
	if m.Number < 0 || m.Number > 127 {
		return fmt.Errorf("%w: number %d", ErrInvalidMessage, m.Number)
	}
	switch m.Type {
	case SendTypeProgram:
		return nil
	case SendTypePitchBend:
		if m.Value < -8192 || m.Value > 8191 {
			return fmt.Errorf("%w: pitch bend %d", ErrInvalidMessage, m.Value)
		}
		return nil
	case SendTypeNote, SendTypeNoteOff, SendTypeControl, SendTypeAftertouch:
		if m.Value < 0 || m.Value > 127 {
			return fmt.Errorf("%w: value %d", ErrInvalidMessage, m.Value)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
}

// Send sends a test message to the device
func (s *Session) Send(m TestMessage) error {
	if err := m.check(); err != nil {
		return err
	}
	channel, number, value := uint8(m.Channel), uint8(m.Number), uint8(m.Value)

	switch m.Type {
	case SendTypeNote:
		return s.SendNote(channel, number, value)
	case SendTypeNoteOff:
		return s.SendNoteOff(channel, number, value)
	case SendTypeProgram:
		return s.SendProgramChange(channel, number)
	case SendTypeControl:
		return s.SendControlChange(channel, number, value)
	case SendTypeAftertouch:
		return s.SendAftertouchChannel(channel, value)
	default:
		return s.SendPitchBend(channel, int16(m.Value))
	}
}
