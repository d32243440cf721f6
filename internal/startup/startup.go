// Package startup registers the bridge to run at login.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	label   = "com.versioduo.v2configure"
	appName = "V2Configure"
)

// Entry describes the login item
type Entry struct {
	Exec string   // executable path
	Args []string // arguments, typically -hidden

	// Platform directories; empty values use the user's defaults
	HomeDir   string
	ConfigDir string
	GOOS      string
}

// NewEntry returns an entry for the running executable
func NewEntry(args ...string) (*Entry, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &Entry{Exec: execPath, Args: args}, nil
}

func (e *Entry) goos() string {
	if e.GOOS != "" {
		return e.GOOS
	}
	return runtime.GOOS
}

func (e *Entry) home() string {
	if e.HomeDir != "" {
		return e.HomeDir
	}
	home, _ := os.UserHomeDir()
	return home
}

func (e *Entry) xdgConfig() string {
	if e.ConfigDir != "" {
		return e.ConfigDir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(e.home(), ".config")
}

// Enable registers the login item
func (e *Entry) Enable() error {
	switch e.goos() {
	case "darwin":
		return writeFile(e.plistPath(), e.plist())
	case "linux":
		return writeFile(e.desktopPath(), e.desktop())
	case "windows":
		cmd := exec.Command("reg", "add", windowsRunKey,
			"/v", appName,
			"/t", "REG_SZ",
			"/d", e.commandLine(),
			"/f")
		return cmd.Run()
	}
	return fmt.Errorf("unsupported platform: %s", e.goos())
}

// Disable removes the login item
func (e *Entry) Disable() error {
	switch e.goos() {
	case "darwin":
		return removeFile(e.plistPath())
	case "linux":
		return removeFile(e.desktopPath())
	case "windows":
		cmd := exec.Command("reg", "delete", windowsRunKey, "/v", appName, "/f")
		output, err := cmd.CombinedOutput()
		if err != nil && !strings.Contains(string(output), "unable to find") {
			return err
		}
		return nil
	}
	return fmt.Errorf("unsupported platform: %s", e.goos())
}

// IsEnabled checks if the login item is registered
func (e *Entry) IsEnabled() bool {
	switch e.goos() {
	case "darwin":
		_, err := os.Stat(e.plistPath())
		return err == nil
	case "linux":
		_, err := os.Stat(e.desktopPath())
		return err == nil
	case "windows":
		return exec.Command("reg", "query", windowsRunKey, "/v", appName).Run() == nil
	}
	return false
}

// Sync enables or disables the login item to match enabled
func (e *Entry) Sync(enabled bool) error {
	if enabled == e.IsEnabled() {
		return nil
	}
	if enabled {
		return e.Enable()
	}
	return e.Disable()
}

func (e *Entry) plistPath() string {
	return filepath.Join(e.home(), "Library", "LaunchAgents", label+".plist")
}

func (e *Entry) plist() string {
	var args strings.Builder
	for _, a := range append([]string{e.Exec}, e.Args...) {
		fmt.Fprintf(&args, "        <string>%s</string>\n", a)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
</dict>
</plist>
`, label, args.String())
}

func (e *Entry) desktopPath() string {
	return filepath.Join(e.xdgConfig(), "autostart", "v2configure.desktop")
}

func (e *Entry) desktop() string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=%s
Exec=%s
Hidden=false
NoDisplay=false
X-GNOME-Autostart-enabled=true
`, appName, e.commandLine())
}

func (e *Entry) commandLine() string {
	parts := []string{quote(e.Exec)}
	for _, a := range e.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

const windowsRunKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
