package firmware

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/device"
)

// BlockSize is fixed; daisy-chained devices cannot forward larger packets.
const BlockSize = 0x2000

var (
	ErrHashMismatch  = errors.New("error while verifying the transferred firmware")
	ErrInvalidOffset = errors.New("invalid parameters for firmware update")
	ErrNoReply       = errors.New("no reply from device")
	ErrDisconnected  = errors.New("device disconnected during firmware update")
	ErrBusy          = errors.New("firmware update already in progress")
)

// StatusError carries an unknown status reported by the device
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return "error while updating the firmware: " + e.Status
}

// State of a transfer
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingLastAck
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingLastAck:
		return "awaiting last ack"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Requester is the part of the session a transfer uses
type Requester interface {
	SendRequest(method string, params map[string]any) error
	ExpectReply(onTimeout func())
	Disconnect()
}

// Reporter follows the progress of a transfer
type Reporter interface {
	Progress(sent, total int)
	Completed()
	Failed(err error)
}

// Transfer writes one image at a time. Every block waits for the device to
// acknowledge the previous one.
type Transfer struct {
	req Requester
	log zerolog.Logger

	mu        sync.Mutex
	state     State
	image     *Image
	offset    int
	err       error
	reporters []Reporter
}

func NewTransfer(req Requester, log zerolog.Logger) *Transfer {
	return &Transfer{
		req: req,
		log: log.With().Str("component", "firmware").Logger(),
	}
}

// AddReporter registers r for progress updates
func (t *Transfer) AddReporter(r Reporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporters = append(t.reporters, r)
}

// State returns the current state
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the reason of a failed transfer
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transfer) activeLocked() bool {
	return t.state == StateSending || t.state == StateAwaitingLastAck
}

// Begin starts transferring img from offset zero
func (t *Transfer) Begin(img *Image) error {
	t.mu.Lock()
	if t.activeLocked() {
		t.mu.Unlock()
		return ErrBusy
	}
	t.state = StateSending
	t.image = img
	t.offset = 0
	t.err = nil
	t.mu.Unlock()

	t.log.Info().Int("bytes", len(img.Bytes)).Int("blocks", img.Blocks()).Str("hash", img.Hash).Msg("starting firmware update")
	return t.sendBlock()
}

func (t *Transfer) sendBlock() error {
	t.mu.Lock()
	if t.state != StateSending {
		t.mu.Unlock()
		return nil
	}
	img := t.image
	offset := t.offset
	end := min(offset+BlockSize, len(img.Bytes))

	firmware := map[string]any{
		"offset": offset,
		"data":   base64.StdEncoding.EncodeToString(img.Bytes[offset:end]),
	}

	progress := offset
	if offset+BlockSize >= len(img.Bytes) {
		// The device verifies the hash, copies the image, and reboots.
		firmware["hash"] = img.Hash
		t.state = StateAwaitingLastAck
		progress = len(img.Bytes)
		t.log.Info().Str("hash", img.Hash).Msg("firmware submitted, requesting device update")
	} else {
		t.offset += BlockSize
	}
	reporters := t.reporters
	t.mu.Unlock()

	for _, r := range reporters {
		r.Progress(progress, len(img.Bytes))
	}

	t.req.ExpectReply(func() { t.fail(ErrNoReply) })
	if err := t.req.SendRequest("writeFirmware", map[string]any{"firmware": firmware}); err != nil {
		err = fmt.Errorf("failed to send firmware block at %d: %w", offset, err)
		t.fail(err)
		return err
	}
	return nil
}

// HandleStatus processes the acknowledgement of the last block sent
func (t *Transfer) HandleStatus(status string) {
	t.mu.Lock()
	if !t.activeLocked() {
		t.mu.Unlock()
		t.log.Debug().Str("status", status).Msg("firmware status without active transfer")
		return
	}

	switch status {
	case "success":
		if t.state == StateAwaitingLastAck {
			t.state = StateDone
			reporters := t.reporters
			t.mu.Unlock()

			t.log.Info().Msg("firmware update successful, disconnecting device")
			for _, r := range reporters {
				r.Completed()
			}
			t.req.Disconnect()
			return
		}
		t.mu.Unlock()
		_ = t.sendBlock()

	case "hashMismatch":
		t.mu.Unlock()
		t.fail(ErrHashMismatch)

	case "invalidOffset":
		t.mu.Unlock()
		t.fail(ErrInvalidOffset)

	default:
		t.mu.Unlock()
		t.fail(&StatusError{Status: status})
	}
}

func (t *Transfer) fail(err error) {
	t.mu.Lock()
	if !t.activeLocked() {
		t.mu.Unlock()
		return
	}
	t.state = StateFailed
	t.err = err
	reporters := t.reporters
	t.mu.Unlock()

	t.log.Error().Err(err).Msg("firmware update failed")
	for _, r := range reporters {
		r.Failed(err)
	}
}

// SnapshotReceived implements device.Subscriber
func (t *Transfer) SnapshotReceived(*device.Descriptor) {}

// SessionReset aborts a running transfer
func (t *Transfer) SessionReset() {
	t.fail(ErrDisconnected)
}

// Describe returns the sentence shown to the user for a firmware error
func Describe(err error) string {
	var status *StatusError
	switch {
	case errors.Is(err, ErrHashMismatch):
		return "Error while verifying the transferred firmware."
	case errors.Is(err, ErrInvalidOffset):
		return "Invalid parameters for firmware update."
	case errors.As(err, &status):
		return "Error while updating the firmware: " + status.Status
	case errors.Is(err, ErrNoReply):
		return "No reply from device. The firmware update was aborted."
	case errors.Is(err, ErrDisconnected):
		return "The device was disconnected during the firmware update."
	case errors.Is(err, ErrNoUpdateForDevice):
		return "No firmware update found for this device."
	case errors.Is(err, ErrNoUpdateForBoard):
		return "No firmware update found for this board."
	case errors.Is(err, ErrUnrecognized):
		return "Unknown file type. No valid device metadata found."
	}
	s := err.Error()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
