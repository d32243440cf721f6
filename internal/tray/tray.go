package tray

import (
	"net/url"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/config"
	"github.com/versioduo/v2configure/internal/startup"
)

// Callbacks for tray menu actions
type Callbacks struct {
	OnOpen func() // nil hides the window entry
	OnQuit func()
}

// Tray is the system tray menu
type Tray struct {
	menu       *fyne.Menu
	deviceItem *fyne.MenuItem
	desk       desktop.App
}

// Setup initializes the system tray using Fyne's built-in support. It
// returns nil when the app does not run on a desktop. A nil entry hides the
// login item.
func Setup(app fyne.App, cfg *config.Config, entry *startup.Entry, log zerolog.Logger, callbacks Callbacks) *Tray {
	desk, ok := app.(desktop.App)
	if !ok {
		return nil
	}
	t := &Tray{desk: desk}

	t.deviceItem = fyne.NewMenuItem("No device connected", nil)
	t.deviceItem.Disabled = true

	items := []*fyne.MenuItem{t.deviceItem, fyne.NewMenuItemSeparator()}

	if callbacks.OnOpen != nil {
		items = append(items, fyne.NewMenuItem("Open V2 Configure", callbacks.OnOpen))
	}

	statusItem := fyne.NewMenuItem("Bridge Status", func() {
		u, err := url.Parse("http://" + cfg.HTTPAddr + "/status/")
		if err != nil {
			log.Warn().Err(err).Msg("invalid status address")
			return
		}
		if err := app.OpenURL(u); err != nil {
			log.Warn().Err(err).Msg("failed to open status page")
		}
	})

	startupItem := fyne.NewMenuItem("Open at Startup", nil)
	startupItem.Checked = cfg.OpenAtStartup

	quitItem := fyne.NewMenuItem("Quit", func() {
		if callbacks.OnQuit != nil {
			callbacks.OnQuit()
		}
	})

	items = append(items, statusItem, fyne.NewMenuItemSeparator())
	if entry != nil {
		items = append(items, startupItem, fyne.NewMenuItemSeparator())
	}
	items = append(items, quitItem)
	t.menu = fyne.NewMenu("V2 Configure", items...)

	// Set the action after menu is created so we can refresh it
	startupItem.Action = func() {
		enabled := !startupItem.Checked
		if err := entry.Sync(enabled); err != nil {
			log.Error().Err(err).Bool("enabled", enabled).Msg("failed to change login item")
			return
		}
		startupItem.Checked = enabled
		cfg.OpenAtStartup = enabled
		if err := cfg.Save(); err != nil {
			log.Error().Err(err).Msg("failed to save config")
		}
		t.menu.Refresh()
	}

	desk.SetSystemTrayMenu(t.menu)
	desk.SetSystemTrayIcon(theme.MediaMusicIcon())
	return t
}

// SetDevice shows the connected device in the menu; an empty name means none.
// It must be called on the fyne goroutine.
func (t *Tray) SetDevice(name string) {
	if t == nil {
		return
	}
	if name == "" {
		name = "No device connected"
	}
	t.deviceItem.Label = name
	t.menu.Refresh()
}
