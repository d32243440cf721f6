package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/sysex"
)

const (
	DefaultConnectTimeout = 2000 * time.Millisecond
	DefaultReplyTimeout   = 1000 * time.Millisecond
)

var ErrNotConnected = errors.New("no device connected")

// Options configures a Session. Zero values select the defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReplyTimeout   time.Duration
	Clock          Clock
	// Go runs port operations off the caller's goroutine; it defaults to a new goroutine.
	Go     func(func())
	Logger zerolog.Logger
}

// Session is the protocol state of the single connected device
type Session struct {
	connectTimeout time.Duration
	replyTimeout   time.Duration
	clock          Clock
	spawn          func(func())
	log            zerolog.Logger

	mu       sync.Mutex
	state    State
	sequence uint64
	name     string
	inputID  string
	pending  *midi.Link // attempt in flight
	link     *midi.Link
	closing  chan struct{} // closed once the last disconnected link is closed
	token    json.RawMessage
	data     *Descriptor
	timer    Timer
	timerGen uint64

	firmware    FirmwareHandler
	subscribers []Subscriber
	notices     []func(Notice)
	messages    []func(midi.Message)
	states      []func(State)
}

// NewSession creates an idle session
func NewSession(opts Options) *Session {
	s := &Session{
		connectTimeout: opts.ConnectTimeout,
		replyTimeout:   opts.ReplyTimeout,
		clock:          opts.Clock,
		spawn:          opts.Go,
		log:            opts.Logger.With().Str("component", "session").Logger(),
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = DefaultConnectTimeout
	}
	if s.replyTimeout <= 0 {
		s.replyTimeout = DefaultReplyTimeout
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.spawn == nil {
		s.spawn = func(f func()) { go f() }
	}
	return s
}

// Subscribe adds a subscriber. Subscribers are called in the order they were added.
func (s *Session) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// OnNotice registers a listener for user-visible messages
func (s *Session) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, fn)
}

// OnMessage registers a listener for channel messages sent by the device
func (s *Session) OnMessage(fn func(midi.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, fn)
}

// OnStateChange registers a listener for connection state changes
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, fn)
}

// SetFirmwareHandler routes firmware status replies to h
func (s *Session) SetFirmwareHandler(h FirmwareHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firmware = h
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the port name of the current or last attempted device
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Data returns the latest snapshot, or nil
func (s *Session) Data() *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// AwaitingReply reports whether a watchdog is armed
func (s *Session) AwaitingReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Attempt identifies one Connect call. It stays current until the session
// starts another attempt or leaves the connecting state.
type Attempt struct {
	s   *Session
	seq uint64
}

// Current reports whether the attempt may still act on the session
func (a Attempt) Current() bool {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.currentLocked()
}

func (a Attempt) currentLocked() bool {
	return a.seq == a.s.sequence && a.s.state == StateConnecting
}

// Connect tears down the current connection and starts connecting to pair.
// Opening the ports continues asynchronously; a reply to getAll must arrive
// within the connect timeout.
func (s *Session) Connect(pair midi.Pair) Attempt {
	s.Disconnect()

	s.mu.Lock()
	s.sequence++
	attempt := Attempt{s: s, seq: s.sequence}
	s.state = StateConnecting
	s.name = pair.Name()
	s.inputID = ""
	if pair.Input != nil {
		s.inputID = pair.Input.ID()
	}
	link := midi.NewLink(pair.Input, pair.Output)
	s.pending = link
	closing := s.closing
	name := s.name
	s.armLocked(s.connectTimeout, func() {
		s.log.Warn().Str("device", name).Msg("unable to connect")
		s.publish(Notice{Level: LevelError, Text: "Unable to connect to device " + name})
		s.Disconnect()
	})
	listeners := s.states
	s.mu.Unlock()

	s.log.Info().Str("device", name).Uint64("sequence", attempt.seq).Msg("connecting")
	notifyState(listeners, StateConnecting)

	if pair.Input == nil {
		s.log.Warn().Str("device", name).Msg("device has no input port")
		return attempt
	}

	s.spawn(func() { s.open(attempt, link, closing) })
	return attempt
}

// open waits until the previous link is closed; both may share the same ports.
func (s *Session) open(attempt Attempt, link *midi.Link, closing <-chan struct{}) {
	if closing != nil {
		<-closing
	}
	if !attempt.Current() {
		return
	}

	if err := link.OpenInput(); err != nil {
		if errors.Is(err, midi.ErrLinkClosed) {
			s.log.Debug().Msg("attempt was cancelled while opening the input")
			return
		}
		s.log.Error().Err(err).Msg("failed to open input")
		return
	}
	if !attempt.Current() {
		return
	}

	if err := link.OpenOutput(); err != nil {
		if errors.Is(err, midi.ErrLinkClosed) {
			s.log.Debug().Msg("attempt was cancelled while opening the output")
			return
		}
		s.log.Error().Err(err).Msg("failed to open output")
		return
	}

	s.mu.Lock()
	if !attempt.currentLocked() {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.link = link
	s.mu.Unlock()

	if err := link.Listen(func(msg midi.Message) {
		s.handleMessage(link, msg)
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to listen")
		return
	}

	s.log.Info().Msg("device is ready")
	if err := s.Refresh(); err != nil {
		s.log.Error().Err(err).Msg("failed to request device information")
	}
}

// Disconnect closes the connection and forgets the session token and
// snapshot. Without a connection or attempt in flight it does nothing.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.link == nil && s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnecting
	s.cancelLocked()
	link, pending := s.link, s.pending
	s.link, s.pending = nil, nil
	s.token = nil
	s.data = nil
	s.inputID = ""
	subscribers := s.subscribers
	listeners := s.states
	closed := make(chan struct{})
	s.closing = closed
	s.mu.Unlock()

	s.log.Info().Msg("disconnecting")
	// Disconnect may run on the listener goroutine of the link it closes.
	s.spawn(func() {
		defer close(closed)
		for _, l := range []*midi.Link{link, pending} {
			if l == nil {
				continue
			}
			if err := l.Close(); err != nil {
				s.log.Warn().Err(err).Msg("failed to close ports")
			}
		}
	})

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.state = StateIdle
	}
	s.mu.Unlock()

	for _, sub := range subscribers {
		sub.SessionReset()
	}
	notifyState(listeners, StateIdle)
}

// HandlePortChange disconnects when the input port of the session vanishes
func (s *Session) HandlePortChange(change midi.PortChange) {
	if change.State != midi.PortDisconnected || change.Direction != midi.DirectionInput {
		return
	}
	s.mu.Lock()
	match := s.inputID != "" && s.inputID == change.ID
	s.mu.Unlock()

	if match {
		s.log.Info().Str("port", change.Name).Msg("device port disappeared")
		s.Disconnect()
	}
}

// SendRequest sends a method call. The session token is attached once known.
func (s *Session) SendRequest(method string, params map[string]any) error {
	request := make(map[string]any, len(params)+2)
	for k, v := range params {
		request[k] = v
	}
	request["method"] = method

	s.mu.Lock()
	link := s.link
	if s.token != nil {
		request["token"] = s.token
	}
	s.mu.Unlock()

	if link == nil {
		return ErrNotConnected
	}

	n, err := link.SendSystemExclusive(sysex.Envelope(request))
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	s.log.Debug().Str("method", method).Int("bytes", n).Msg("request sent")
	return nil
}

// ExpectReply arms the reply watchdog, replacing any armed watchdog. When no
// reply arrives in time, onTimeout is called; the session stays connected.
func (s *Session) ExpectReply(onTimeout func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(s.replyTimeout, func() {
		s.log.Warn().Msg("no reply from device")
		if onTimeout != nil {
			onTimeout()
		}
	})
}

// CancelReply disarms the watchdog
func (s *Session) CancelReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Session) armLocked(d time.Duration, fire func()) {
	s.cancelLocked()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timerGen != gen || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fire()
	})
}

func (s *Session) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// Refresh requests a new snapshot
func (s *Session) Refresh() error {
	return s.SendRequest("getAll", nil)
}

// Reset sends a MIDI System Reset and requests a new snapshot
func (s *Session) Reset() error {
	if err := s.withLink((*midi.Link).SendSystemReset); err != nil {
		return err
	}
	return s.Refresh()
}

// Reboot restarts the device. The device disappears, so the session disconnects.
func (s *Session) Reboot() error {
	err := s.SendRequest("reboot", nil)
	s.Disconnect()
	return err
}

// RebootWithPorts restarts the device with the given number of MIDI ports
func (s *Session) RebootWithPorts(ports int) error {
	err := s.SendRequest("rebootWithPorts", map[string]any{"ports": ports})
	s.Disconnect()
	return err
}

// SwitchChannel asks the device to use another MIDI channel
func (s *Session) SwitchChannel(channel int) error {
	return s.SendRequest("switchChannel", map[string]any{"channel": channel})
}

// WriteConfiguration stores a configuration on the device. A missing reply
// is reported as a warning.
func (s *Session) WriteConfiguration(configuration map[string]any) error {
	s.ExpectReply(func() {
		s.publish(Notice{Level: LevelWarning, Text: "No reply from device. Changes might not be saved."})
	})
	if err := s.SendRequest("writeConfiguration", map[string]any{"configuration": configuration}); err != nil {
		s.CancelReply()
		return err
	}
	return nil
}

// EraseConfiguration resets the device to its defaults and disconnects
func (s *Session) EraseConfiguration() error {
	err := s.SendRequest("eraseConfiguration", nil)
	s.Disconnect()
	return err
}

// SendNote sends a note-on message
func (s *Session) SendNote(channel, note, velocity uint8) error {
	return s.withLink(func(l *midi.Link) error { return l.SendNote(channel, note, velocity) })
}

// SendNoteOff sends a note-off message with a release velocity
func (s *Session) SendNoteOff(channel, note, velocity uint8) error {
	return s.withLink(func(l *midi.Link) error { return l.SendNoteOff(channel, note, velocity) })
}

// SendControlChange sends a control change message
func (s *Session) SendControlChange(channel, controller, value uint8) error {
	return s.withLink(func(l *midi.Link) error { return l.SendControlChange(channel, controller, value) })
}

// SendProgramChange sends a program change message
func (s *Session) SendProgramChange(channel, program uint8) error {
	return s.withLink(func(l *midi.Link) error { return l.SendProgramChange(channel, program) })
}

// SendAftertouchChannel sends a channel pressure message
func (s *Session) SendAftertouchChannel(channel, pressure uint8) error {
	return s.withLink(func(l *midi.Link) error { return l.SendAftertouchChannel(channel, pressure) })
}

// SendPitchBend sends a pitch bend in the range -8192..8191
func (s *Session) SendPitchBend(channel uint8, value int16) error {
	return s.withLink(func(l *midi.Link) error { return l.SendPitchBend(channel, value) })
}

func (s *Session) withLink(fn func(*midi.Link) error) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	return fn(link)
}

func (s *Session) handleMessage(link *midi.Link, msg midi.Message) {
	s.mu.Lock()
	current := s.link == link
	listeners := s.messages
	s.mu.Unlock()
	if !current {
		return
	}

	if msg.Type == midi.MessageSystemExclusive {
		s.handleSystemExclusive(link, msg.Payload)
		return
	}
	for _, fn := range listeners {
		fn(msg)
	}
}

func (s *Session) handleSystemExclusive(link *midi.Link, payload []byte) {
	var envelope map[string]json.RawMessage
	if err := sysex.Decode(payload, &envelope); err != nil {
		s.log.Debug().Err(err).Msg("received unknown message format")
		return
	}

	inner, ok := envelope[sysex.Namespace]
	if !ok || bytes.Equal(inner, []byte("null")) {
		s.log.Debug().Msg("received data for unknown interface")
		return
	}

	var reply map[string]any
	if err := sysex.Decode(inner, &reply); err != nil || reply == nil {
		s.log.Debug().Err(err).Msg("received unknown message format")
		return
	}

	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()

	if token, ok := reply["token"]; ok && token != nil {
		raw, err := json.Marshal(token)
		if err != nil {
			s.mu.Unlock()
			return
		}
		if s.token == nil {
			s.token = raw
		} else if !bytes.Equal(raw, s.token) {
			s.mu.Unlock()
			s.log.Debug().Msg("wrong token, ignoring message")
			return
		}
	}

	if status := firmwareStatus(reply); status != "" {
		handler := s.firmware
		s.mu.Unlock()
		if handler == nil {
			s.log.Warn().Str("status", status).Msg("firmware status without transfer")
			return
		}
		handler.HandleStatus(status)
		return
	}

	if _, ok := reply["metadata"]; !ok {
		s.mu.Unlock()
		s.log.Warn().Msg("missing device information")
		s.Disconnect()
		return
	}

	desc, err := ParseDescriptor(inner)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("missing device information")
		s.Disconnect()
		return
	}

	first := s.data == nil
	s.data = desc
	if first {
		s.state = StateConnected
	}
	subscribers := s.subscribers
	listeners := s.states
	s.mu.Unlock()

	if first {
		s.log.Info().Str("product", desc.Metadata.Product).Int("version", desc.Metadata.Version).Msg("device is connected")
		notifyState(listeners, StateConnected)
		s.publish(Notice{Level: LevelSuccess, Text: "Device is connected"})
	}
	for _, sub := range subscribers {
		sub.SnapshotReceived(desc)
	}
}

func firmwareStatus(reply map[string]any) string {
	fw, ok := reply["firmware"].(map[string]any)
	if !ok {
		return ""
	}
	status, _ := fw["status"].(string)
	return status
}

func (s *Session) publish(n Notice) {
	s.mu.Lock()
	listeners := s.notices
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

// Publish sends a notice to all listeners
func (s *Session) Publish(level Level, text string) {
	s.publish(Notice{Level: level, Text: text})
}

func notifyState(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
