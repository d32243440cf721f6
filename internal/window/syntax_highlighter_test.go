package window

import (
	"testing"

	"fyne.io/fyne/v2/test"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segment(t *testing.T, rt *widget.RichText, text string) *widget.TextSegment {
	t.Helper()
	for _, s := range rt.Segments {
		if ts, ok := s.(*widget.TextSegment); ok && ts.Text == text {
			return ts
		}
	}
	require.Failf(t, "segment not found", "%q", text)
	return nil
}

func TestHighlightJSON(t *testing.T) {
	test.NewTempApp(t)

	rt := HighlightJSON(`{"a": "b", "n": -1.5, "t": true, "z": null}`)

	key := segment(t, rt, `"a"`)
	assert.Equal(t, theme.ColorNamePrimary, key.Style.ColorName)
	assert.True(t, key.Style.TextStyle.Bold)

	assert.Equal(t, theme.ColorNameSuccess, segment(t, rt, `"b"`).Style.ColorName)
	assert.Equal(t, theme.ColorNameWarning, segment(t, rt, "-1.5").Style.ColorName)

	literal := segment(t, rt, "true")
	assert.Equal(t, theme.ColorNamePrimary, literal.Style.ColorName)
	assert.False(t, literal.Style.TextStyle.Bold)
	assert.Equal(t, theme.ColorNamePrimary, segment(t, rt, "null").Style.ColorName)
}

func TestHighlightJSONLines(t *testing.T) {
	test.NewTempApp(t)

	rt := HighlightJSON("{\n  \"a\": 1\n}")
	newlines := 0
	for _, s := range rt.Segments {
		if ts, ok := s.(*widget.TextSegment); ok && ts.Text == "\n" {
			newlines++
		}
	}
	assert.Equal(t, 2, newlines)
	assert.True(t, segment(t, rt, `"a"`).Style.TextStyle.Bold)
}

func TestHighlightJSONEmpty(t *testing.T) {
	test.NewTempApp(t)

	rt := HighlightJSON("")
	require.Len(t, rt.Segments, 1)
	assert.True(t, rt.Segments[0].(*widget.TextSegment).Style.TextStyle.Italic)
}

func TestNumberLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"12,", 2},
		{"-1.5e3 ", 6},
		{"0}", 1},
		{"7", 1},
		{"-x", 0},
		{"12a", 0},
		{"e5", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, numberLength(tt.in), tt.in)
	}
}

func TestFindStringEnd(t *testing.T) {
	assert.Equal(t, 1, findStringEnd(`a"`))
	assert.Equal(t, 5, findStringEnd(`ab\"c"x`))
	assert.Equal(t, -1, findStringEnd(`abc`))
	assert.Equal(t, -1, findStringEnd(`ab\"`))
}

func TestIsBoundary(t *testing.T) {
	for _, b := range []byte(" \t\r\n[]{}:,") {
		assert.True(t, isBoundary(b), string(b))
	}
	assert.False(t, isBoundary('a'))
	assert.False(t, isBoundary('"'))
}
