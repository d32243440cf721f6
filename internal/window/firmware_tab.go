package window

import (
	"context"
	"errors"
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
	"github.com/versioduo/v2configure/internal/firmware"
)

const lookupTimeout = 30 * time.Second

// firmwareLookup is the result of the last update check
type firmwareLookup struct {
	res    *firmware.Resolution
	query  firmware.Query
	labels []string
}

// ============ FIRMWARE TAB ============

func (mw *MainWindow) createFirmwareTab() fyne.CanvasObject {
	mw.updateInfo = widget.NewLabel("")
	mw.updateInfo.Wrapping = fyne.TextWrapWord

	mw.versionSelect = widget.NewSelect([]string{}, nil)
	mw.versionSelect.PlaceHolder = "Version"

	mw.progress = widget.NewProgressBar()

	checkBtn := widget.NewButtonWithIcon("Check for Update", theme.SearchIcon(), func() {
		mw.checkUpdate()
	})
	mw.installBtn = widget.NewButtonWithIcon("Install", theme.DownloadIcon(), func() {
		mw.installSelected()
	})
	mw.installBtn.Importance = widget.HighImportance
	loadBtn := widget.NewButtonWithIcon("Load File", theme.FolderOpenIcon(), func() {
		mw.loadFirmware()
	})
	mw.deviceButtons = append(mw.deviceButtons, checkBtn, mw.installBtn, loadBtn)

	return container.NewVBox(
		container.NewBorder(nil, nil, nil, container.NewHBox(checkBtn, mw.installBtn), mw.versionSelect),
		mw.updateInfo,
		widget.NewSeparator(),
		container.NewHBox(loadBtn),
		mw.progress,
	)
}

func (mw *MainWindow) showFirmware(d *device.Descriptor) {
	mw.lookup = nil
	mw.versionSelect.Options = nil
	mw.versionSelect.ClearSelected()
	mw.versionSelect.Refresh()
	if d == nil {
		mw.updateInfo.SetText("")
		return
	}
	mw.updateInfo.SetText("Installed version " + strconv.Itoa(d.Metadata.Version) + ", " + d.System.Firmware.ID)
}

func (mw *MainWindow) checkUpdate() {
	d := mw.opts.Session.Data()
	if d == nil {
		return
	}
	q := firmware.QueryFor(d)
	if mw.opts.Config.DownloadOverride != "" {
		q.Download = mw.opts.Config.DownloadOverride
	}
	mw.updateInfo.SetText("Requesting firmware information ...")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		res, err := mw.opts.Resolver.Resolve(ctx, q)
		fyne.Do(func() {
			if err != nil {
				mw.updateInfo.SetText(firmware.Describe(err))
				return
			}
			mw.showLookup(&firmwareLookup{res: res, query: q}, d)
		})
	}()
}

func (mw *MainWindow) showLookup(l *firmwareLookup, d *device.Descriptor) {
	mw.lookup = l
	for i := range l.res.Candidates {
		l.labels = append(l.labels, l.res.Label(i))
	}
	mw.versionSelect.Options = l.labels
	mw.versionSelect.SetSelectedIndex(l.res.Selected)

	switch {
	case l.res.UpToDate:
		mw.updateInfo.SetText("The firmware is up to date.")
	case l.res.Image != nil:
		verdict := firmware.Check(l.res.Image, d)
		mw.updateInfo.SetText(verdict.Text)
		mw.showNotice(device.Notice{Level: verdict.Level, Text: verdict.Text})
	case l.res.ImageErr != nil:
		mw.updateInfo.SetText(firmware.Describe(l.res.ImageErr))
	case l.res.Newer:
		mw.updateInfo.SetText("The installed firmware is newer than the available update.")
	default:
		mw.updateInfo.SetText("A firmware update is available.")
	}
	if l.res.Newer {
		mw.showNotice(device.Notice{Level: device.LevelWarning, Text: "A more recent firmware is already installed."})
	}
}

func (mw *MainWindow) installSelected() {
	l := mw.lookup
	i := mw.versionSelect.SelectedIndex()
	if l == nil || i < 0 || i >= len(l.res.Candidates) {
		return
	}
	mw.progress.SetValue(0)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		img, err := mw.opts.Resolver.ImageFor(ctx, l.res, l.query, i)
		fyne.Do(func() {
			if err != nil {
				mw.showError(errors.New(firmware.Describe(err)))
				return
			}
			mw.install(img)
		})
	}()
}

func (mw *MainWindow) loadFirmware() {
	open := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			mw.showError(err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()

		b, err := io.ReadAll(r)
		if err != nil {
			mw.showError(err)
			return
		}
		img, err := firmware.ParseImage(b)
		if err != nil {
			mw.showError(errors.New(firmware.Describe(err)))
			return
		}
		mw.install(img)
	}, mw.window)
	open.SetFilter(storage.NewExtensionFileFilter([]string{".bin"}))
	open.Show()
}

// install shows the compatibility verdict and starts the transfer once the
// user agrees.
func (mw *MainWindow) install(img *firmware.Image) {
	d := mw.opts.Session.Data()
	if d == nil {
		mw.showError(device.ErrNotConnected)
		return
	}

	verdict := firmware.Check(img, d)
	mw.showNotice(device.Notice{Level: verdict.Level, Text: verdict.Text})

	dialog.ShowConfirm("Install Firmware",
		verdict.Text+"\n\nInstall version "+strconv.Itoa(img.Metadata.Version)+"?",
		func(ok bool) {
			if !ok {
				return
			}
			mw.progress.Max = float64(len(img.Bytes))
			mw.progress.SetValue(0)
			if err := mw.opts.Transfer.Begin(img); err != nil {
				mw.showError(errors.New(firmware.Describe(err)))
			}
		}, mw.window)
}
