package window

import (
	"bytes"
	"encoding/json"
	"errors"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/settings"
)

// ============ CONFIGURATION TAB ============

func (mw *MainWindow) createConfigurationTab() fyne.CanvasObject {
	mw.confEntry = widget.NewMultiLineEntry()
	mw.confEntry.TextStyle = fyne.TextStyle{Monospace: true}
	mw.confEntry.SetPlaceHolder(`{"midi": {"channel": 1}}`)

	preview := container.NewVScroll(HighlightJSON(""))
	mw.confEntry.OnChanged = func(text string) {
		preview.Content = HighlightJSON(text)
		preview.Refresh()
	}

	writeBtn := widget.NewButtonWithIcon("Write", theme.UploadIcon(), func() {
		mw.writeConfiguration()
	})
	writeBtn.Importance = widget.HighImportance
	reloadBtn := widget.NewButtonWithIcon("Reload", theme.ViewRefreshIcon(), func() {
		mw.showConfiguration(mw.opts.Session.Data())
	})
	mw.deviceButtons = append(mw.deviceButtons, writeBtn, reloadBtn)

	split := container.NewHSplit(mw.confEntry, preview)
	split.Offset = 0.5

	return container.NewBorder(
		nil,
		container.NewVBox(widget.NewSeparator(), container.NewHBox(writeBtn, reloadBtn)),
		nil, nil,
		split,
	)
}

func (mw *MainWindow) showConfiguration(d *device.Descriptor) {
	if d == nil || len(d.Configuration) == 0 {
		mw.confEntry.SetText("")
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, d.Configuration, "", "  "); err != nil {
		mw.log.Warn().Err(err).Msg("unable to format configuration")
		mw.confEntry.SetText(string(d.Configuration))
		return
	}
	mw.confEntry.SetText(out.String())
}

// writeConfiguration sends the edited text. A syntax error moves the cursor
// to the offending position.
func (mw *MainWindow) writeConfiguration() {
	conf, err := settings.ParseConfiguration([]byte(mw.confEntry.Text))
	if err != nil {
		var syntax *settings.SyntaxError
		if errors.As(err, &syntax) {
			mw.confEntry.CursorRow = syntax.Line - 1
			mw.confEntry.CursorColumn = syntax.Column - 1
			mw.confEntry.Refresh()
			mw.window.Canvas().Focus(mw.confEntry)
		}
		mw.showError(err)
		return
	}
	mw.run(func() error { return mw.opts.Session.WriteConfiguration(conf) })
}
