package midi

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// SysExBufferSize bounds a single incoming System Exclusive message. Device
// replies carry the full JSON descriptor and can grow to several kilobytes.
const SysExBufferSize = 64 * 1024

// Port is the part of a host MIDI port shared by inputs and outputs
type Port interface {
	ID() string
	Name() string
	Open() error
	Close() error
	IsOpen() bool
}

// Input delivers raw messages to a listener
type Input interface {
	Port
	// Listen calls fn for every complete message; stop detaches fn.
	Listen(fn func([]byte)) (stop func(), err error)
}

// Output writes raw messages
type Output interface {
	Port
	Send([]byte) error
}

// Host lists the ports the operating system currently provides
type Host interface {
	Inputs() ([]Input, error)
	Outputs() ([]Output, error)
}

// DriverHost adapts a gomidi driver to Host
type DriverHost struct {
	mu  sync.RWMutex
	drv drivers.Driver
	log zerolog.Logger
}

// NewDriverHost wraps an already initialized gomidi driver
func NewDriverHost(drv drivers.Driver, log zerolog.Logger) *DriverHost {
	return &DriverHost{
		drv: drv,
		log: log.With().Str("component", "midi").Logger(),
	}
}

// OpenDefaultHost initializes the rtmidi driver
func OpenDefaultHost(log zerolog.Logger) (*DriverHost, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize rtmidi: %v", ErrAccess, err)
	}
	return NewDriverHost(drv, log), nil
}

// Close shuts the driver down
func (h *DriverHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv.Close()
}

// Inputs returns the available MIDI input ports
func (h *DriverHost) Inputs() ([]Input, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ins, err := h.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to list input ports: %w", err)
	}
	ports := make([]Input, 0, len(ins))
	for _, in := range ins {
		ports = append(ports, &driverIn{port: in, log: h.log})
	}
	return ports, nil
}

// Outputs returns the available MIDI output ports
func (h *DriverHost) Outputs() ([]Output, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	outs, err := h.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to list output ports: %w", err)
	}
	ports := make([]Output, 0, len(outs))
	for _, out := range outs {
		ports = append(ports, &driverOut{port: out})
	}
	return ports, nil
}

func portID(prefix string, number int, name string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, number, name)
}

type driverIn struct {
	port drivers.In
	log  zerolog.Logger
}

func (p *driverIn) ID() string   { return portID("in", p.port.Number(), p.port.String()) }
func (p *driverIn) Name() string { return p.port.String() }
func (p *driverIn) Open() error  { return p.port.Open() }
func (p *driverIn) Close() error { return p.port.Close() }
func (p *driverIn) IsOpen() bool { return p.port.IsOpen() }

func (p *driverIn) Listen(fn func([]byte)) (func(), error) {
	name := p.port.String()
	stop, err := midi.ListenTo(p.port, func(msg midi.Message, _ int32) {
		fn(msg.Bytes())
	},
		midi.UseSysEx(),
		midi.SysExBufferSize(SysExBufferSize),
		midi.HandleError(func(listenErr error) {
			p.log.Warn().Err(listenErr).Str("port", name).Msg("listener error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start listening on %s: %w", name, err)
	}
	return stop, nil
}

type driverOut struct {
	port drivers.Out
}

func (p *driverOut) ID() string             { return portID("out", p.port.Number(), p.port.String()) }
func (p *driverOut) Name() string           { return p.port.String() }
func (p *driverOut) Open() error            { return p.port.Open() }
func (p *driverOut) Close() error           { return p.port.Close() }
func (p *driverOut) IsOpen() bool           { return p.port.IsOpen() }
func (p *driverOut) Send(data []byte) error { return p.port.Send(data) }
