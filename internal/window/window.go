package window

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/config"
	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/logs"
	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/settings"
)

// Ports lists the devices and looks them up by port id or name
type Ports interface {
	Enumerate() ([]midi.Pair, error)
	FindPair(key string) (midi.Pair, bool, error)
}

// Options wires the window to the application
type Options struct {
	Version  string
	Config   *config.Config
	Ports    Ports
	Session  *device.Session
	Transfer *firmware.Transfer
	Resolver *firmware.Resolver
	Log      zerolog.Logger
	// Short feeds the log tab
	Short *logs.MemoryWriter
}

// MainWindow manages the main application window
type MainWindow struct {
	window fyne.Window
	app    fyne.App
	opts   Options
	log    zerolog.Logger

	notice *widget.Label
	tabs   *container.AppTabs

	// Device tab state
	portSelect    *widget.Select
	portIDs       map[string]string // display name -> port id
	connectBtn    *widget.Button
	disconnectBtn *widget.Button
	info          *widget.Form
	deviceButtons []*widget.Button

	// Settings tab state
	settingsBox *fyne.Container
	editor      *settings.Editor
	stopPlaying context.CancelFunc

	// Configuration tab state
	confEntry *widget.Entry

	// Firmware tab state
	versionSelect *widget.Select
	updateInfo    *widget.Label
	progress      *widget.ProgressBar
	installBtn    *widget.Button
	lookup        *firmwareLookup

	// Log tab state
	logLabel *widget.Label
}

// NewMainWindow creates the main application window
func NewMainWindow(app fyne.App, opts Options) *MainWindow {
	win := app.NewWindow("V2 Configure")

	mw := &MainWindow{
		window: win,
		app:    app,
		opts:   opts,
		log:    opts.Log.With().Str("component", "window").Logger(),
	}

	mw.setupUI()
	mw.subscribe()

	win.Resize(fyne.NewSize(800, 600))
	win.CenterOnScreen()

	win.SetCloseIntercept(func() {
		win.Hide()
	})

	return mw
}

// QuitOnClose quits the app when the window is closed instead of hiding it
func (mw *MainWindow) QuitOnClose() {
	mw.window.SetCloseIntercept(mw.app.Quit)
}

// Show brings the window to the front
func (mw *MainWindow) Show() {
	mw.refreshPorts()
	mw.window.Show()
	mw.window.RequestFocus()
}

func (mw *MainWindow) setupUI() {
	mw.notice = widget.NewLabel("")
	mw.notice.Wrapping = fyne.TextWrapWord

	mw.tabs = container.NewAppTabs(
		container.NewTabItem("Device", mw.createDeviceTab()),
		container.NewTabItem("Settings", mw.createSettingsTab()),
		container.NewTabItem("Configuration", mw.createConfigurationTab()),
		container.NewTabItem("Firmware", mw.createFirmwareTab()),
		container.NewTabItem("Log", mw.createLogTab()),
	)
	mw.tabs.SetTabLocation(container.TabLocationTop)

	mw.window.SetContent(container.NewBorder(nil, mw.notice, nil, nil, mw.tabs))
	mw.showDevice(nil)
	mw.showState(mw.opts.Session.State())
}

// subscribe routes session events to the widgets. The session calls from
// its own goroutines, everything is handed to the fyne goroutine.
func (mw *MainWindow) subscribe() {
	s := mw.opts.Session
	s.Subscribe(mw)
	s.OnNotice(func(n device.Notice) {
		fyne.Do(func() { mw.showNotice(n) })
	})
	s.OnStateChange(func(state device.State) {
		fyne.Do(func() { mw.showState(state) })
	})
	mw.opts.Transfer.AddReporter(mw)
}

// SnapshotReceived implements device.Subscriber
func (mw *MainWindow) SnapshotReceived(d *device.Descriptor) {
	fyne.Do(func() { mw.showDevice(d) })
}

// SessionReset implements device.Subscriber
func (mw *MainWindow) SessionReset() {
	fyne.Do(func() { mw.showDevice(nil) })
}

// Progress implements firmware.Reporter
func (mw *MainWindow) Progress(sent, total int) {
	fyne.Do(func() {
		mw.progress.Max = float64(total)
		mw.progress.SetValue(float64(sent))
	})
}

// Completed implements firmware.Reporter
func (mw *MainWindow) Completed() {
	fyne.Do(func() {
		mw.progress.SetValue(mw.progress.Max)
		mw.showNotice(device.Notice{Level: device.LevelSuccess, Text: "Firmware update successful. Reconnecting device ..."})
	})
}

// Failed implements firmware.Reporter
func (mw *MainWindow) Failed(err error) {
	fyne.Do(func() {
		mw.progress.SetValue(0)
		mw.showNotice(device.Notice{Level: device.LevelError, Text: firmware.Describe(err)})
	})
}

func (mw *MainWindow) showNotice(n device.Notice) {
	mw.notice.Importance = importance(n.Level)
	mw.notice.SetText(n.Text)
}

func (mw *MainWindow) showError(err error) {
	mw.showNotice(device.Notice{Level: device.LevelError, Text: err.Error()})
}

func importance(level device.Level) widget.Importance {
	switch level {
	case device.LevelSuccess:
		return widget.SuccessImportance
	case device.LevelWarning:
		return widget.WarningImportance
	case device.LevelError:
		return widget.DangerImportance
	}
	return widget.MediumImportance
}

func (mw *MainWindow) showState(state device.State) {
	connected := state == device.StateConnected
	idle := state == device.StateIdle

	if idle {
		mw.connectBtn.Enable()
		mw.disconnectBtn.Disable()
	} else {
		mw.connectBtn.Disable()
		mw.disconnectBtn.Enable()
	}
	for _, b := range mw.deviceButtons {
		if connected {
			b.Enable()
		} else {
			b.Disable()
		}
	}
}

// showDevice updates every tab for a new snapshot; nil clears them
func (mw *MainWindow) showDevice(d *device.Descriptor) {
	mw.showInfo(d)
	mw.showSettings(d)
	mw.showConfiguration(d)
	mw.showFirmware(d)
}
