package sysex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFraming(t *testing.T) {
	msg, err := Encode(Envelope(map[string]any{"method": "getAll"}))
	require.NoError(t, err)

	assert.Equal(t, Start, msg[0])
	assert.Equal(t, ManufacturerID, msg[1])
	assert.Equal(t, End, msg[len(msg)-1])
	assert.Equal(t, `{"com.versioduo.device":{"method":"getAll"}}`, string(msg[2:len(msg)-1]))
}

func TestEncodeEscapesNonASCII(t *testing.T) {
	msg, err := Encode(map[string]any{"name": "Grüße\u007f🎹"})
	require.NoError(t, err)

	for i, b := range msg[1 : len(msg)-1] {
		assert.Less(t, b, byte(0x7F), "byte %d", i+1)
	}
	assert.Contains(t, string(msg), `"Gr\u00fc\u00dfe\u007f\ud83c\udfb9"`)

	payload, ok := Payload(msg)
	require.True(t, ok)

	var out map[string]string
	require.NoError(t, Decode(payload, &out))
	assert.Equal(t, "Grüße\u007f🎹", out["name"])
}

func TestEncodeKeepsHTMLCharacters(t *testing.T) {
	msg, err := Encode(map[string]any{"help": "<b>a & b</b>"})
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"<b>a & b</b>"`)
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want string
		ok   bool
	}{
		{"json object", []byte{0xF0, 0x7D, '{', '}', 0xF7}, "{}", true},
		{"other manufacturer", []byte{0xF0, 0x43, '{', '}', 0xF7}, "", false},
		{"not an object", []byte{0xF0, 0x7D, '[', ']', 0xF7}, "", false},
		{"truncated", []byte{0xF0, 0x7D, '{', 'x', 0xF7}, "", false},
		{"too short", []byte{0xF0, 0x7D, 0xF7}, "", false},
		{"missing end", []byte{0xF0, 0x7D, '{', '}', '}'}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := Payload(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, string(payload))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	var v map[string]any
	err := Decode([]byte(`{"com.versioduo.device":`), &v)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	var merr *MalformedError
	assert.ErrorAs(t, err, &merr)
}
