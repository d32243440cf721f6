// Package sysex frames JSON documents as 7-bit MIDI System Exclusive messages.
//
// A message is F0 7D <json> F7. 0x7D is the MIDI "private/research" manufacturer
// ID. The JSON text must be pure 7-bit ASCII, so every character outside the
// printable range is written as a \uXXXX escape.
package sysex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	Start          byte = 0xF0
	End            byte = 0xF7
	ManufacturerID byte = 0x7D

	// Namespace is the top-level key of every device request and reply.
	Namespace = "com.versioduo.device"
)

// ErrMalformed matches every decode failure.
var ErrMalformed = errors.New("malformed message")

// MalformedError wraps the underlying JSON error of a payload that could not be decoded.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// Encode serializes v and frames it as a System Exclusive message.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	js := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	msg := make([]byte, 0, len(js)+8)
	msg = append(msg, Start, ManufacturerID)
	msg = appendASCII(msg, js)
	msg = append(msg, End)
	return msg, nil
}

// appendASCII copies js, replacing every rune from U+007F upward with a JSON
// escape. Runes outside the BMP become a surrogate pair.
func appendASCII(dst, js []byte) []byte {
	for len(js) > 0 {
		r, size := utf8.DecodeRune(js)
		js = js[size:]

		switch {
		case r < 0x7F:
			dst = append(dst, byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			dst = fmt.Appendf(dst, `\u%04x\u%04x`, hi, lo)
		default:
			dst = fmt.Appendf(dst, `\u%04x`, r)
		}
	}
	return dst
}

// Payload extracts the JSON object from a framed message. It reports false for
// messages of other manufacturers or messages which do not carry a JSON object.
func Payload(msg []byte) ([]byte, bool) {
	if len(msg) < 5 || msg[0] != Start || msg[len(msg)-1] != End {
		return nil, false
	}
	if msg[1] != ManufacturerID {
		return nil, false
	}
	if msg[2] != '{' || msg[len(msg)-2] != '}' {
		return nil, false
	}
	return msg[2 : len(msg)-1], true
}

// Decode parses a payload returned by Payload into v.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &MalformedError{Err: err}
	}
	return nil
}

// Envelope wraps a request object in the device namespace.
func Envelope(request map[string]any) map[string]any {
	return map[string]any{Namespace: request}
}
