package firmware

import "github.com/versioduo/v2configure/internal/device"

const backupHint = " Please backup the configuration before the installation."

// Verdict is the result of comparing an image with the connected device.
// It is advisory; the installation is never blocked.
type Verdict struct {
	Level device.Level `json:"level"`
	Text  string       `json:"text"`
}

// Check compares img against the installed firmware. The first matching rule
// wins: board, functionality, version, installed hash.
func Check(img *Image, d *device.Descriptor) Verdict {
	backup := ""
	if d.EEPROMUsed() {
		backup = backupHint
	}

	board := d.System.Hardware.Board
	switch {
	case board != "" && img.Metadata.Board != board:
		return Verdict{device.LevelError, "The firmware update is for a different board which has the name " + img.Metadata.Board + "."}
	case img.Metadata.ID != d.System.Firmware.ID:
		return Verdict{device.LevelWarning, "The firmware update appears to provide a different functionality, it has the name " + img.Metadata.ID + "."}
	case img.Metadata.Version < d.Metadata.Version:
		return Verdict{device.LevelWarning, "The firmware is older than the currently installed version." + backup}
	case img.Hash == d.System.Firmware.Hash:
		return Verdict{device.LevelInfo, "This firmware is currently installed."}
	}
	return Verdict{device.LevelInfo, "A firmware update is available." + backup}
}
