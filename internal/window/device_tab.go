package window

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/versioduo/v2configure/internal/device"
)

// ============ DEVICE TAB ============

func (mw *MainWindow) createDeviceTab() fyne.CanvasObject {
	header := widget.NewLabel("MIDI Devices")
	header.TextStyle = fyne.TextStyle{Bold: true}

	mw.portSelect = widget.NewSelect([]string{}, nil)
	mw.portSelect.PlaceHolder = "Select device..."

	rescanBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), func() {
		mw.refreshPorts()
	})

	mw.connectBtn = widget.NewButtonWithIcon("Connect", theme.LoginIcon(), func() {
		mw.connect(mw.portSelect.Selected)
	})
	mw.connectBtn.Importance = widget.HighImportance

	mw.disconnectBtn = widget.NewButtonWithIcon("Disconnect", theme.LogoutIcon(), func() {
		mw.opts.Session.Disconnect()
	})
	mw.disconnectBtn.Disable()

	toolbar := container.NewBorder(nil, nil, header,
		container.NewHBox(rescanBtn, mw.connectBtn, mw.disconnectBtn),
		mw.portSelect,
	)

	mw.info = widget.NewForm()

	refreshBtn := widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), func() {
		mw.run(mw.opts.Session.Refresh)
	})
	resetBtn := widget.NewButtonWithIcon("Reset", theme.MediaReplayIcon(), func() {
		mw.run(mw.opts.Session.Reset)
	})
	rebootBtn := widget.NewButtonWithIcon("Reboot", theme.MediaSkipNextIcon(), func() {
		mw.run(mw.opts.Session.Reboot)
	})
	eraseBtn := widget.NewButtonWithIcon("Erase Configuration", theme.DeleteIcon(), func() {
		dialog.ShowConfirm("Erase Configuration",
			"Reset all settings of the device to the factory defaults?",
			func(ok bool) {
				if ok {
					mw.run(mw.opts.Session.EraseConfiguration)
				}
			}, mw.window)
	})
	eraseBtn.Importance = widget.DangerImportance

	testType := widget.NewSelect(device.SendTypes, nil)
	testType.SetSelected(device.SendTypeNote)
	testChannel := numberEntry("Channel", "1")
	testNumber := numberEntry("Number", "60")
	testValue := numberEntry("Value", "10")
	sendBtn := widget.NewButtonWithIcon("Send", theme.MailSendIcon(), func() {
		m, err := testMessage(testType.Selected, testChannel.Text, testNumber.Text, testValue.Text)
		if err != nil {
			mw.showError(err)
			return
		}
		mw.run(func() error { return mw.opts.Session.Send(m) })
	})
	testRow := container.NewBorder(nil, nil, widget.NewLabel("Test"), sendBtn,
		container.NewGridWithColumns(4, testType, testChannel, testNumber, testValue))

	mw.deviceButtons = []*widget.Button{refreshBtn, resetBtn, rebootBtn, eraseBtn, sendBtn}
	for _, b := range mw.deviceButtons {
		b.Disable()
	}

	return container.NewBorder(
		container.NewVBox(toolbar, widget.NewSeparator()),
		container.NewVBox(widget.NewSeparator(), testRow, container.NewHBox(refreshBtn, resetBtn, rebootBtn, eraseBtn)),
		nil, nil,
		container.NewVScroll(mw.info),
	)
}

func numberEntry(placeholder, value string) *widget.Entry {
	e := widget.NewEntry()
	e.PlaceHolder = placeholder
	e.SetText(value)
	return e
}

// testMessage parses the test row. Channels are shown as 1-16.
func testMessage(kind, channel, number, value string) (device.TestMessage, error) {
	m := device.TestMessage{Type: kind}
	for _, f := range []struct {
		name string
		text string
		dst  *int
	}{
		{"channel", channel, &m.Channel},
		{"number", number, &m.Number},
		{"value", value, &m.Value},
	} {
		n, err := strconv.Atoi(strings.TrimSpace(f.text))
		if err != nil {
			return device.TestMessage{}, fmt.Errorf("%w: %s %q", device.ErrInvalidMessage, f.name, f.text)
		}
		*f.dst = n
	}
	m.Channel--
	return m, nil
}

// refreshPorts fills the device list from the host ports
func (mw *MainWindow) refreshPorts() {
	pairs, err := mw.opts.Ports.Enumerate()
	if err != nil {
		mw.showError(err)
		return
	}

	mw.portIDs = make(map[string]string, len(pairs))
	options := make([]string, 0, len(pairs))
	for _, p := range pairs {
		name := p.Name()
		if _, dup := mw.portIDs[name]; dup {
			name += " (" + p.ID() + ")"
		}
		mw.portIDs[name] = p.ID()
		options = append(options, name)
	}
	mw.portSelect.Options = options
	mw.portSelect.Refresh()

	if mw.portSelect.Selected == "" && mw.opts.Config.LastDevice != "" {
		for _, name := range options {
			if name == mw.opts.Config.LastDevice {
				mw.portSelect.SetSelected(name)
				break
			}
		}
	}
}

// PortsChanged is called on the fyne goroutine when ports appear or vanish
func (mw *MainWindow) PortsChanged() {
	mw.refreshPorts()
}

func (mw *MainWindow) connect(name string) {
	if name == "" {
		return
	}
	key := name
	if id, ok := mw.portIDs[name]; ok {
		key = id
	}

	pair, ok, err := mw.opts.Ports.FindPair(key)
	if err != nil {
		mw.showError(err)
		return
	}
	if !ok {
		mw.showNotice(device.Notice{Level: device.LevelWarning, Text: "Device " + name + " is no longer available"})
		mw.refreshPorts()
		return
	}

	mw.opts.Session.Connect(pair)

	mw.opts.Config.LastDevice = pair.Name()
	if err := mw.opts.Config.Save(); err != nil {
		mw.log.Warn().Err(err).Msg("failed to save config")
	}
}

// run calls a session command and shows its error
func (mw *MainWindow) run(cmd func() error) {
	if err := cmd(); err != nil {
		mw.showError(err)
	}
}

func (mw *MainWindow) showInfo(d *device.Descriptor) {
	mw.info.Items = nil
	if d == nil {
		mw.info.Append("Device", widget.NewLabel("Not connected"))
		mw.info.Refresh()
		return
	}

	add := func(label, value string) {
		if value == "" {
			return
		}
		l := widget.NewLabel(value)
		l.Selectable = true
		mw.info.Append(label, l)
	}
	add("Product", d.Metadata.Product)
	add("Name", d.System.Name)
	add("Description", d.Metadata.Description)
	add("Vendor", d.Metadata.Vendor)
	add("Serial", d.Metadata.Serial)
	add("Version", strconv.Itoa(d.Metadata.Version))
	add("Firmware", d.System.Firmware.ID)
	add("Hash", d.System.Firmware.Hash)
	add("Board", d.System.Hardware.Board)
	if p := d.System.Ports; p != nil && p.Announce > 0 {
		add("MIDI Ports", strconv.Itoa(p.Configured))
	}
	if d.EEPROMUsed() {
		add("Configuration", "stored")
	}
	add("Home", d.Metadata.Home)
	mw.info.Refresh()
}
