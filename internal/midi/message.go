package midi

import "github.com/versioduo/v2configure/internal/sysex"

// MessageType identifies an incoming message the device layer cares about
type MessageType string

const (
	MessageNote              MessageType = "note"
	MessageNoteOff           MessageType = "noteOff"
	MessageAftertouch        MessageType = "aftertouch"
	MessageControlChange     MessageType = "controlChange"
	MessageAftertouchChannel MessageType = "aftertouchChannel"
	MessageSystemExclusive   MessageType = "systemExclusive"
)

// Status bytes; the lower nibble of channel messages is the channel.
const (
	statusNoteOff           byte = 0x80
	statusNoteOn            byte = 0x90
	statusAftertouch        byte = 0xA0
	statusControlChange     byte = 0xB0
	statusAftertouchChannel byte = 0xD0
	statusSystem            byte = 0xF0
	statusSystemExclusive   byte = 0xF0
	statusSystemReset       byte = 0xFF
)

// DefaultNoteOffVelocity is used when a note-off carries no velocity
const DefaultNoteOffVelocity uint8 = 64

// Message is a decoded incoming MIDI message
type Message struct {
	Type    MessageType `json:"type"`
	Channel uint8       `json:"channel"`
	Number  uint8       `json:"number"` // note or controller
	Value   uint8       `json:"value"`  // velocity, pressure or controller value
	Payload []byte      `json:"-"`      // JSON object of a System Exclusive message
}

// Decode classifies a raw message by its status byte. Messages of other types,
// short messages, and System Exclusive messages which are not JSON objects
// addressed to us are reported as not ok.
func Decode(raw []byte) (Message, bool) {
	if len(raw) == 0 {
		return Message{}, false
	}

	status := raw[0]
	kind := status
	if status&0xF0 != statusSystem {
		kind = status & 0xF0
	}
	channel := status & 0x0F

	switch kind {
	case statusNoteOn:
		if len(raw) < 3 {
			return Message{}, false
		}
		return Message{Type: MessageNote, Channel: channel, Number: raw[1], Value: raw[2]}, true

	case statusNoteOff:
		if len(raw) < 2 {
			return Message{}, false
		}
		velocity := DefaultNoteOffVelocity
		if len(raw) >= 3 {
			velocity = raw[2]
		}
		return Message{Type: MessageNoteOff, Channel: channel, Number: raw[1], Value: velocity}, true

	case statusAftertouch:
		if len(raw) < 3 {
			return Message{}, false
		}
		return Message{Type: MessageAftertouch, Channel: channel, Number: raw[1], Value: raw[2]}, true

	case statusControlChange:
		if len(raw) < 3 {
			return Message{}, false
		}
		return Message{Type: MessageControlChange, Channel: channel, Number: raw[1], Value: raw[2]}, true

	case statusAftertouchChannel:
		if len(raw) < 2 {
			return Message{}, false
		}
		return Message{Type: MessageAftertouchChannel, Channel: channel, Value: raw[1]}, true

	case statusSystemExclusive:
		payload, ok := sysex.Payload(raw)
		if !ok {
			return Message{}, false
		}
		return Message{Type: MessageSystemExclusive, Payload: payload}, true
	}

	return Message{}, false
}
