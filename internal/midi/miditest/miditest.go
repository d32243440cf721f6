// Package miditest provides an in-memory MIDI host for tests.
package miditest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/versioduo/v2configure/internal/midi"
)

// Host is a scriptable midi.Host
type Host struct {
	mu   sync.Mutex
	ins  []*Input
	outs []*Output
	Err  error
	seq  int
}

func NewHost() *Host {
	return &Host{}
}

// AddInput adds an input port and returns it
func (h *Host) AddInput(name string) *Input {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	in := &Input{id: fmt.Sprintf("in-%d", h.seq), name: name}
	h.ins = append(h.ins, in)
	return in
}

// AddOutput adds an output port and returns it
func (h *Host) AddOutput(name string) *Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	out := &Output{id: fmt.Sprintf("out-%d", h.seq), name: name}
	h.outs = append(h.outs, out)
	return out
}

// AddDevice adds an input and an output port of the same name
func (h *Host) AddDevice(name string) (*Input, *Output) {
	return h.AddInput(name), h.AddOutput(name)
}

// Remove unplugs a port
func (h *Host) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, in := range h.ins {
		if in.id == id {
			h.ins = append(h.ins[:i], h.ins[i+1:]...)
			return
		}
	}
	for i, out := range h.outs {
		if out.id == id {
			h.outs = append(h.outs[:i], h.outs[i+1:]...)
			return
		}
	}
}

func (h *Host) Inputs() ([]midi.Input, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	ports := make([]midi.Input, 0, len(h.ins))
	for _, in := range h.ins {
		ports = append(ports, in)
	}
	return ports, nil
}

func (h *Host) Outputs() ([]midi.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	ports := make([]midi.Output, 0, len(h.outs))
	for _, out := range h.outs {
		ports = append(ports, out)
	}
	return ports, nil
}

// Input is a fake input port. Inject delivers a message to its listener.
type Input struct {
	mu      sync.Mutex
	id      string
	name    string
	open    bool
	handler func([]byte)

	// OpenErr fails Open; OpenHook runs inside Open before it returns.
	OpenErr  error
	OpenHook func()
}

func (p *Input) ID() string   { return p.id }
func (p *Input) Name() string { return p.name }

func (p *Input) Open() error {
	if p.OpenHook != nil {
		p.OpenHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.open = true
	return nil
}

func (p *Input) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *Input) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Input) Listen(fn func([]byte)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, errors.New("port not open")
	}
	p.handler = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.handler = nil
	}, nil
}

// Listening reports whether a listener is attached
func (p *Input) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}

// Inject delivers raw to the listener; it reports false if nobody listens.
func (p *Input) Inject(raw []byte) bool {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(raw)
	return true
}

// Output is a fake output port recording every sent message
type Output struct {
	mu   sync.Mutex
	id   string
	name string
	open bool
	sent [][]byte

	OpenErr  error
	OpenHook func()
	SendErr  error
}

func (p *Output) ID() string   { return p.id }
func (p *Output) Name() string { return p.name }

func (p *Output) Open() error {
	if p.OpenHook != nil {
		p.OpenHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.open = true
	return nil
}

func (p *Output) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *Output) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Output) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

// Sent returns a copy of all messages written so far
func (p *Output) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

// Reset forgets the recorded messages
func (p *Output) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
