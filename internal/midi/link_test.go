package midi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/midi/miditest"
)

func openLink(t *testing.T) (*midi.Link, *miditest.Input, *miditest.Output) {
	t.Helper()
	host := miditest.NewHost()
	in, out := host.AddDevice("Drum")
	link := midi.NewLink(in, out)
	require.NoError(t, link.Open())
	return link, in, out
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want midi.Message
		ok   bool
	}{
		{"note on", []byte{0x92, 60, 100}, midi.Message{Type: midi.MessageNote, Channel: 2, Number: 60, Value: 100}, true},
		{"note off", []byte{0x80, 60, 10}, midi.Message{Type: midi.MessageNoteOff, Number: 60, Value: 10}, true},
		{"note off without velocity", []byte{0x81, 60}, midi.Message{Type: midi.MessageNoteOff, Channel: 1, Number: 60, Value: 64}, true},
		{"aftertouch", []byte{0xA0, 60, 5}, midi.Message{Type: midi.MessageAftertouch, Number: 60, Value: 5}, true},
		{"control change", []byte{0xBF, 7, 127}, midi.Message{Type: midi.MessageControlChange, Channel: 15, Number: 7, Value: 127}, true},
		{"channel aftertouch", []byte{0xD3, 42}, midi.Message{Type: midi.MessageAftertouchChannel, Channel: 3, Value: 42}, true},
		{"program change ignored", []byte{0xC0, 1}, midi.Message{}, false},
		{"clock ignored", []byte{0xF8}, midi.Message{}, false},
		{"short note", []byte{0x90, 60}, midi.Message{}, false},
		{"empty", nil, midi.Message{}, false},
		{"foreign sysex", []byte{0xF0, 0x41, '{', '}', 0xF7}, midi.Message{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := midi.Decode(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecodeSystemExclusive(t *testing.T) {
	msg, ok := midi.Decode([]byte{0xF0, 0x7D, '{', '"', 'a', '"', ':', '1', '}', 0xF7})
	require.True(t, ok)
	assert.Equal(t, midi.MessageSystemExclusive, msg.Type)
	assert.Equal(t, `{"a":1}`, string(msg.Payload))
}

func TestLinkListen(t *testing.T) {
	link, in, _ := openLink(t)

	var got []midi.Message
	require.NoError(t, link.Listen(func(msg midi.Message) {
		got = append(got, msg)
	}))

	in.Inject([]byte{0x90, 60, 1})
	in.Inject([]byte{0xF8})
	in.Inject([]byte{0xF0, 0x7D, '{', '}', 0xF7})

	require.Len(t, got, 2)
	assert.Equal(t, midi.MessageNote, got[0].Type)
	assert.Equal(t, midi.MessageSystemExclusive, got[1].Type)
}

func TestLinkSendHelpers(t *testing.T) {
	link, _, out := openLink(t)

	require.NoError(t, link.SendNote(1, 60, 100))
	require.NoError(t, link.SendNoteOff(1, 60, 64))
	require.NoError(t, link.SendControlChange(0, 7, 127))
	require.NoError(t, link.SendProgramChange(2, 5))
	require.NoError(t, link.SendAftertouchChannel(3, 9))
	require.NoError(t, link.SendPitchBend(0, 0))
	require.NoError(t, link.SendSystemReset())

	assert.Equal(t, [][]byte{
		{0x91, 60, 100},
		{0x81, 60, 64},
		{0xB0, 7, 127},
		{0xC2, 5},
		{0xD3, 9},
		{0xE0, 0x00, 0x40},
		{0xFF},
	}, out.Sent())
}

func TestLinkSendSystemExclusive(t *testing.T) {
	link, _, out := openLink(t)

	n, err := link.SendSystemExclusive(map[string]any{"method": "getAll"})
	require.NoError(t, err)

	sent := out.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, len(sent[0]), n)
	assert.Equal(t, byte(0xF0), sent[0][0])
	assert.Equal(t, byte(0xF7), sent[0][n-1])
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	link, in, out := openLink(t)
	require.NoError(t, link.Listen(func(midi.Message) {}))

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	assert.False(t, in.IsOpen())
	assert.False(t, out.IsOpen())
	assert.False(t, in.Listening())
	assert.ErrorIs(t, link.Send([]byte{0xFF}), midi.ErrLinkClosed)
}

func TestLinkWithoutOutput(t *testing.T) {
	host := miditest.NewHost()
	in := host.AddInput("Keys")
	link := midi.NewLink(in, nil)

	require.NoError(t, link.OpenInput())
	assert.ErrorIs(t, link.OpenOutput(), midi.ErrNoOutput)
	assert.ErrorIs(t, link.Send([]byte{0xFF}), midi.ErrNoOutput)
	require.NoError(t, link.Close())
}

func TestLinkClosedWhileOpening(t *testing.T) {
	host := miditest.NewHost()
	in, out := host.AddDevice("Drum")
	link := midi.NewLink(in, out)
	in.OpenHook = func() { require.NoError(t, link.Close()) }

	assert.ErrorIs(t, link.OpenInput(), midi.ErrLinkClosed)
	assert.False(t, in.IsOpen())

	assert.ErrorIs(t, link.OpenOutput(), midi.ErrLinkClosed)
	assert.False(t, out.IsOpen())
}
