package window

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/settings"
)

// ============ SETTINGS TAB ============

func (mw *MainWindow) createSettingsTab() fyne.CanvasObject {
	mw.settingsBox = container.NewVBox()

	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), func() {
		mw.saveSettings()
	})
	saveBtn.Importance = widget.HighImportance

	backupBtn := widget.NewButtonWithIcon("Backup", theme.DownloadIcon(), func() {
		mw.backup()
	})
	restoreBtn := widget.NewButtonWithIcon("Restore", theme.UploadIcon(), func() {
		mw.restore()
	})
	mw.deviceButtons = append(mw.deviceButtons, saveBtn, backupBtn, restoreBtn)

	return container.NewBorder(
		nil,
		container.NewVBox(widget.NewSeparator(), container.NewHBox(saveBtn, backupBtn, restoreBtn)),
		nil, nil,
		container.NewVScroll(mw.settingsBox),
	)
}

func (mw *MainWindow) showSettings(d *device.Descriptor) {
	mw.stopCalibration()
	mw.settingsBox.RemoveAll()
	mw.editor = nil
	if d == nil {
		return
	}

	editor, err := settings.NewEditor(d)
	if err != nil {
		mw.showError(err)
		return
	}
	mw.editor = editor

	for _, section := range editor.Sections {
		var content fyne.CanvasObject
		switch s := section.(type) {
		case *settings.USB:
			content = usbForm(s)
		case *settings.MIDI:
			content = widget.NewForm(widget.NewFormItem("Channel", numberSelect(1, 16, &s.Channel)))
		case *settings.Controller:
			content = widget.NewForm(widget.NewFormItem("Controller", numberSelect(0, 127, &s.Controller)))
		case *settings.Drum:
			content = drumForm(s)
		case *settings.Calibration:
			content = mw.calibrationForm(s)
		default:
			continue
		}
		mw.settingsBox.Add(widget.NewCard(section.Title(), "", content))
	}
}

func usbForm(u *settings.USB) fyne.CanvasObject {
	name := widget.NewEntry()
	name.SetPlaceHolder(u.Placeholder)
	name.SetText(u.Name)
	name.Validator = func(s string) error {
		if len(s) > 31 {
			return errors.New("the name is too long")
		}
		return nil
	}
	name.OnChanged = func(s string) { u.Name = s }

	form := widget.NewForm(widget.NewFormItem("Name", name))
	if u.PortsEditable {
		form.Append("MIDI Ports", numberSelect(1, 16, &u.Ports))
	}
	return form
}

func drumForm(dr *settings.Drum) fyne.CanvasObject {
	form := widget.NewForm()
	if dr.Controller != nil {
		form.Append("Controller", numberSelect(0, 127, dr.Controller))
	}
	if dr.Note != nil {
		form.Append("Note", numberSelect(0, 127, dr.Note))
	}
	if dr.Sensitivity != nil {
		value := widget.NewLabel(fmt.Sprintf("%.2f", *dr.Sensitivity))
		slider := widget.NewSlider(-0.99, 0.99)
		slider.Step = 0.01
		slider.SetValue(*dr.Sensitivity)
		slider.OnChanged = func(v float64) {
			*dr.Sensitivity = v
			value.SetText(fmt.Sprintf("%.2f", v))
		}
		form.Append("Sensitivity", container.NewBorder(nil, nil, nil, value, slider))
	}
	return form
}

// numberSelect edits *v within [lo, hi]
func numberSelect(lo, hi int, v *int) *widget.Select {
	options := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		options = append(options, strconv.Itoa(i))
	}
	sel := widget.NewSelect(options, nil)
	if *v >= lo && *v <= hi {
		sel.SetSelected(strconv.Itoa(*v))
	}
	sel.OnChanged = func(s string) {
		if n, err := strconv.Atoi(s); err == nil {
			*v = n
		}
	}
	return sel
}

func (mw *MainWindow) calibrationForm(c *settings.Calibration) fyne.CanvasObject {
	rows := container.NewVBox()
	for i := range c.Values {
		r := &c.Values[i]
		minEntry := rangeEntry(&r.Min)
		maxEntry := rangeEntry(&r.Max)
		playMin := widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
			mw.run(func() error { return c.Play(mw.opts.Session, i, false) })
		})
		playMax := widget.NewButtonWithIcon("", theme.MediaFastForwardIcon(), func() {
			mw.run(func() error { return c.Play(mw.opts.Session, i, true) })
		})
		rows.Add(container.NewGridWithColumns(5,
			widget.NewLabel("Note "+strconv.Itoa(int(c.Note(i)))),
			minEntry, playMin, maxEntry, playMax,
		))
	}

	playAll := func(loud bool) {
		mw.stopCalibration()
		ctx, cancel := context.WithCancel(context.Background())
		mw.stopPlaying = cancel
		go func() {
			err := c.PlayAll(ctx, mw.opts.Session, loud, settings.PlayInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				fyne.Do(func() { mw.showError(err) })
			}
		}()
	}

	buttons := container.NewHBox(
		widget.NewButtonWithIcon("Play Minimum", theme.MediaPlayIcon(), func() { playAll(false) }),
		widget.NewButtonWithIcon("Play Maximum", theme.MediaFastForwardIcon(), func() { playAll(true) }),
		widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() { mw.stopCalibration() }),
	)
	return container.NewVBox(rows, buttons)
}

func rangeEntry(v *int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(*v))
	e.Validator = func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 127 {
			return errors.New("value must be between 1 and 127")
		}
		return nil
	}
	e.OnChanged = func(s string) {
		if n, err := strconv.Atoi(s); err == nil {
			*v = n
		}
	}
	return e
}

func (mw *MainWindow) stopCalibration() {
	if mw.stopPlaying != nil {
		mw.stopPlaying()
		mw.stopPlaying = nil
	}
}

func (mw *MainWindow) saveSettings() {
	if mw.editor == nil {
		return
	}
	conf, err := mw.editor.Configuration()
	if err != nil {
		mw.showError(err)
		return
	}
	mw.run(func() error { return mw.opts.Session.WriteConfiguration(conf) })
}

func (mw *MainWindow) backup() {
	d := mw.opts.Session.Data()
	if d == nil {
		return
	}
	conf, err := settings.ConfigurationOf(d)
	if err != nil {
		mw.showError(err)
		return
	}
	b, err := settings.Backup(d, conf, "v2configure "+mw.opts.Version, time.Now())
	if err != nil {
		mw.showError(err)
		return
	}

	save := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			mw.showError(err)
			return
		}
		if w == nil {
			return
		}
		defer w.Close()
		if _, err := w.Write(b); err != nil {
			mw.showError(err)
			return
		}
		mw.showNotice(device.Notice{Level: device.LevelSuccess, Text: "Configuration saved to " + w.URI().Name()})
	}, mw.window)
	save.SetFileName(settings.BackupFilename(d))
	save.Show()
}

func (mw *MainWindow) restore() {
	open := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			mw.showError(err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()

		data, err := io.ReadAll(r)
		if err != nil {
			mw.showError(err)
			return
		}
		conf, err := settings.Restore(data)
		if err != nil {
			mw.showError(err)
			return
		}
		mw.run(func() error { return mw.opts.Session.WriteConfiguration(conf) })
	}, mw.window)
	open.SetFilter(storage.NewExtensionFileFilter([]string{".json"}))
	open.Show()
}
