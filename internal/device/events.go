package device

import "time"

// State is the connection state of a session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Level is the severity of a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-visible message
type Notice struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Subscriber receives snapshots and resets in subscription order
type Subscriber interface {
	SnapshotReceived(*Descriptor)
	SessionReset()
}

// FirmwareHandler receives the status of firmware block acknowledgements
type FirmwareHandler interface {
	HandleStatus(status string)
}

// Clock schedules watchdog callbacks
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock uses the runtime timers
var SystemClock Clock = systemClock{}
