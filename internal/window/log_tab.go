package window

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// logLines is the number of lines the log tab keeps
const logLines = 500

// ============ LOG TAB ============

func (mw *MainWindow) createLogTab() fyne.CanvasObject {
	mw.logLabel = widget.NewLabel("")
	mw.logLabel.TextStyle = fyne.TextStyle{Monospace: true}
	mw.logLabel.Selectable = true
	scroll := container.NewVScroll(mw.logLabel)

	var lines []string
	if mw.opts.Short != nil {
		lines = mw.opts.Short.Lines()
		mw.opts.Short.OnLine(func(line string) {
			fyne.Do(func() {
				lines = append(lines, line)
				if len(lines) > logLines {
					lines = lines[len(lines)-logLines:]
				}
				mw.logLabel.SetText(strings.Join(lines, ""))
				scroll.ScrollToBottom()
			})
		})
	}
	mw.logLabel.SetText(strings.Join(lines, ""))

	clearBtn := widget.NewButtonWithIcon("Clear", theme.ContentClearIcon(), func() {
		lines = nil
		mw.logLabel.SetText("")
	})

	return container.NewBorder(
		nil,
		container.NewVBox(widget.NewSeparator(), container.NewHBox(clearBtn)),
		nil, nil,
		scroll,
	)
}
