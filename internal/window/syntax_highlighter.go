package window

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// jsonKeywords are the literal values of JSON
var jsonKeywords = []string{"true", "false", "null"}

// HighlightJSON returns a RichText widget with highlighted JSON text. Object
// keys are bold, strings and literals are colored.
func HighlightJSON(text string) *widget.RichText {
	if text == "" {
		return widget.NewRichText(&widget.TextSegment{
			Text:  "(no configuration)",
			Style: widget.RichTextStyle{Inline: true, TextStyle: fyne.TextStyle{Italic: true}},
		})
	}

	var segments []widget.RichTextSegment
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		segments = append(segments, highlightLine(line)...)
		if i < len(lines)-1 {
			segments = append(segments, &widget.TextSegment{Text: "\n"})
		}
	}
	return widget.NewRichText(segments...)
}

func highlightLine(line string) []widget.RichTextSegment {
	var segments []widget.RichTextSegment
	plain := func(s string) {
		segments = append(segments, &widget.TextSegment{
			Text:  s,
			Style: widget.RichTextStyle{Inline: true, TextStyle: fyne.TextStyle{Monospace: true}},
		})
	}
	styled := func(s string, color fyne.ThemeColorName, bold bool) {
		segments = append(segments, &widget.TextSegment{
			Text: s,
			Style: widget.RichTextStyle{
				Inline:    true,
				ColorName: color,
				TextStyle: fyne.TextStyle{Monospace: true, Bold: bold},
			},
		})
	}

	remaining := line
	for len(remaining) > 0 {
		if remaining[0] == '"' {
			end := findStringEnd(remaining[1:])
			if end >= 0 {
				length := end + 2 // quote + content + quote
				token := remaining[:length]
				remaining = remaining[length:]
				if strings.HasPrefix(strings.TrimLeft(remaining, " \t"), ":") {
					styled(token, theme.ColorNamePrimary, true)
				} else {
					styled(token, theme.ColorNameSuccess, false)
				}
				continue
			}
		}

		if n := numberLength(remaining); n > 0 {
			styled(remaining[:n], theme.ColorNameWarning, false)
			remaining = remaining[n:]
			continue
		}

		found := false
		for _, kw := range jsonKeywords {
			if strings.HasPrefix(remaining, kw) && (len(remaining) == len(kw) || isBoundary(remaining[len(kw)])) {
				styled(kw, theme.ColorNamePrimary, false)
				remaining = remaining[len(kw):]
				found = true
				break
			}
		}
		if found {
			continue
		}

		// consume up to the next token start
		next := len(remaining)
		for i := 1; i < len(remaining); i++ {
			if remaining[i] == '"' || isBoundary(remaining[i-1]) {
				next = i
				break
			}
		}
		plain(remaining[:next])
		remaining = remaining[next:]
	}
	return segments
}

// numberLength returns the length of the JSON number at the start of s
func numberLength(s string) int {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := i
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == 'e' || s[i] == 'E' || s[i] == '+' ||
		(s[i] == '-' && i > digits)) {
		i++
	}
	if i == digits || s[digits] < '0' || s[digits] > '9' {
		return 0
	}
	if i < len(s) && !isBoundary(s[i]) {
		return 0
	}
	return i
}

func isBoundary(b uint8) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == ':' || b == ','
}

// findStringEnd finds the closing quote of a string literal, handling escapes
func findStringEnd(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++ // Skip escaped character
			continue
		}
		if s[i] == '"' {
			return i
		}
	}
	return -1
}
