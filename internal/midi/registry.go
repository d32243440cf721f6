package midi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAccess is returned when the host MIDI system cannot be used
var ErrAccess = errors.New("unable to access MIDI devices")

// Windows names the two ports of a device MIDIIN<n> and MIDIOUT<n>.
var windowsInputName = regexp.MustCompile(`^MIDIIN[1-9]`)

// Direction of a port
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// PortState is the presence of a port
type PortState string

const (
	PortConnected    PortState = "connected"
	PortDisconnected PortState = "disconnected"
)

// PortChange reports a port which appeared or vanished
type PortChange struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	State     PortState `json:"state"`
}

// Pair is the input and output port of one device. Either side may be nil,
// but not both.
type Pair struct {
	Input  Input
	Output Output
}

// Name returns the display name of the pair
func (p Pair) Name() string {
	if p.Input != nil {
		return p.Input.Name()
	}
	return p.Output.Name()
}

// ID returns the id of the input, or of the output for output-only pairs
func (p Pair) ID() string {
	if p.Input != nil {
		return p.Input.ID()
	}
	return p.Output.ID()
}

// NoAccess stands in for the registry when the host MIDI system cannot be
// used. Every lookup fails with Err.
type NoAccess struct {
	Err error
}

func (n NoAccess) Enumerate() ([]Pair, error) { return nil, n.Err }

func (n NoAccess) FindPair(string) (Pair, bool, error) { return Pair{}, false, n.Err }

// Registry enumerates and pairs the host ports
type Registry struct {
	host Host
	log  zerolog.Logger

	mu    sync.Mutex
	known map[string]PortChange
}

// NewRegistry probes the host once. A host which cannot list its ports is
// reported as ErrAccess and no registry is returned.
func NewRegistry(host Host, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		host: host,
		log:  log.With().Str("component", "registry").Logger(),
	}
	ports, err := r.snapshot()
	if err != nil {
		r.log.Error().Err(err).Msg("unable to access MIDI devices")
		return nil, err
	}
	r.known = ports
	return r, nil
}

// Enumerate pairs every input with the output of the same name at the same
// position among equally named ports. Outputs without an input are returned
// last, as output-only pairs.
func (r *Registry) Enumerate() ([]Pair, error) {
	ins, err := r.host.Inputs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccess, err)
	}
	outs, err := r.host.Outputs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccess, err)
	}
	return pairPorts(ins, outs), nil
}

func pairPorts(ins []Input, outs []Output) []Pair {
	used := make([]bool, len(outs))
	pairs := make([]Pair, 0, len(ins)+len(outs))

	for i, in := range ins {
		idx := findOutput(ins, i, outs)
		pair := Pair{Input: in}
		if idx >= 0 {
			pair.Output = outs[idx]
			used[idx] = true
		}
		pairs = append(pairs, pair)
	}

	for i, out := range outs {
		if !used[i] {
			pairs = append(pairs, Pair{Output: out})
		}
	}
	return pairs
}

// findOutput returns the index of the output belonging to ins[pos], or -1.
func findOutput(ins []Input, pos int, outs []Output) int {
	name := ins[pos].Name()

	ordinal := 0
	for i := 0; i < pos; i++ {
		if ins[i].Name() == name {
			ordinal++
		}
	}

	rename := windowsInputName.MatchString(name)
	n := 0
	for i, out := range outs {
		outName := out.Name()
		if rename && strings.HasPrefix(outName, "MIDIOUT") {
			outName = "MIDIIN" + strings.TrimPrefix(outName, "MIDIOUT")
		}
		if outName != name {
			continue
		}
		if n == ordinal {
			return i
		}
		n++
	}
	return -1
}

// FindPair returns the first pair whose id or display name matches key
func (r *Registry) FindPair(key string) (Pair, bool, error) {
	pairs, err := r.Enumerate()
	if err != nil {
		return Pair{}, false, err
	}
	for _, p := range pairs {
		if p.ID() == key {
			return p, true, nil
		}
	}
	for _, p := range pairs {
		if p.Name() == key {
			return p, true, nil
		}
	}
	return Pair{}, false, nil
}

// Watch polls the host every interval until ctx is done and calls handler for
// every port that appeared or vanished since the previous poll.
func (r *Registry) Watch(ctx context.Context, interval time.Duration, handler func(PortChange)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, change := range r.Rescan() {
				handler(change)
			}
		}
	}
}

// Rescan compares the current ports with the previous scan and returns the
// differences, vanished ports first.
func (r *Registry) Rescan() []PortChange {
	ports, err := r.snapshot()
	if err != nil {
		r.log.Warn().Err(err).Msg("rescan failed")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []PortChange
	for id, p := range r.known {
		if _, ok := ports[id]; !ok {
			p.State = PortDisconnected
			changes = append(changes, p)
		}
	}
	for id, p := range ports {
		if _, ok := r.known[id]; !ok {
			changes = append(changes, p)
		}
	}
	r.known = ports

	for _, c := range changes {
		r.log.Debug().Str("port", c.Name).Str("direction", string(c.Direction)).Str("state", string(c.State)).Msg("port changed")
	}
	return changes
}

func (r *Registry) snapshot() (map[string]PortChange, error) {
	ins, err := r.host.Inputs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccess, err)
	}
	outs, err := r.host.Outputs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccess, err)
	}

	ports := make(map[string]PortChange, len(ins)+len(outs))
	for _, in := range ins {
		ports[in.ID()] = PortChange{ID: in.ID(), Name: in.Name(), Direction: DirectionInput, State: PortConnected}
	}
	for _, out := range outs {
		ports[out.ID()] = PortChange{ID: out.ID(), Name: out.Name(), Direction: DirectionOutput, State: PortConnected}
	}
	return ports, nil
}
