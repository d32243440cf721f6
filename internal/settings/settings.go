// Package settings turns the settings a device reports into editable
// sections and merges them back into a configuration update.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/versioduo/v2configure/internal/device"
)

// Kind is the type of a settings entry
type Kind string

const (
	KindUSB         Kind = "usb"
	KindMIDI        Kind = "midi"
	KindController  Kind = "controller"
	KindDrum        Kind = "drum"
	KindCalibration Kind = "calibration"
)

var ErrMissingValue = errors.New("device did not report the value")

// Section is one group of editable values
type Section interface {
	Kind() Kind
	Title() string
	Save(configuration map[string]any) error
}

// Factory creates a section from a settings entry
type Factory func(setting device.Setting, d *device.Descriptor) (Section, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[Kind]Factory{
		KindMIDI:        newMIDI,
		KindController:  newController,
		KindDrum:        newDrum,
		KindCalibration: newCalibration,
	}
)

// Register adds or replaces the factory of a kind
func Register(kind Kind, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

func lookup(kind Kind) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[kind]
	return f, ok
}

var validate = validator.New()

// Editor holds the sections of one device snapshot
type Editor struct {
	Sections []Section
}

// NewEditor builds the sections for d. The USB section is always first.
// Entries of unknown kinds, and entries without a path, are skipped.
func NewEditor(d *device.Descriptor) (*Editor, error) {
	e := &Editor{Sections: []Section{newUSB(d)}}

	for _, s := range d.Settings {
		f, ok := lookup(Kind(s.Type))
		if !ok || s.Path == "" {
			continue
		}
		section, err := f(s, d)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s settings: %w", s.Type, err)
		}
		e.Sections = append(e.Sections, section)
	}
	return e, nil
}

// Find returns the first section of a kind
func (e *Editor) Find(kind Kind) (Section, bool) {
	for _, s := range e.Sections {
		if s.Kind() == kind {
			return s, true
		}
	}
	return nil, false
}

// Configuration validates all sections and merges their values
func (e *Editor) Configuration() (map[string]any, error) {
	configuration := map[string]any{}
	for _, s := range e.Sections {
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("invalid %s settings: %w", s.Kind(), err)
		}
		if err := s.Save(configuration); err != nil {
			return nil, err
		}
	}
	return configuration, nil
}

// USB holds the device name and the number of MIDI ports
type USB struct {
	Name          string `json:"name" validate:"max=31"`
	Placeholder   string `json:"placeholder"`
	Ports         int    `json:"ports,omitempty" validate:"omitempty,min=1,max=16"`
	PortsEditable bool   `json:"portsEditable"`
}

func newUSB(d *device.Descriptor) *USB {
	u := &USB{
		Name:        d.System.Name,
		Placeholder: d.Metadata.Product,
	}
	if p := d.System.Ports; p != nil && p.Announce > 0 {
		u.PortsEditable = true
		u.Ports = p.Configured
	}
	return u
}

func (u *USB) Kind() Kind    { return KindUSB }
func (u *USB) Title() string { return "USB" }

func (u *USB) Save(configuration map[string]any) error {
	usb := map[string]any{"name": u.Name}
	if u.PortsEditable {
		usb["ports"] = u.Ports
	}
	configuration["usb"] = usb
	return nil
}

// MIDI holds the outgoing channel, 1-based
type MIDI struct {
	Channel int `json:"channel" validate:"min=1,max=16"`
}

func newMIDI(_ device.Setting, d *device.Descriptor) (Section, error) {
	var output struct {
		Channel int `json:"channel"`
	}
	if len(d.Output) > 0 {
		if err := json.Unmarshal(d.Output, &output); err != nil {
			return nil, fmt.Errorf("failed to parse output: %w", err)
		}
	}
	return &MIDI{Channel: output.Channel + 1}, nil
}

func (m *MIDI) Kind() Kind    { return KindMIDI }
func (m *MIDI) Title() string { return "MIDI" }

func (m *MIDI) Save(configuration map[string]any) error {
	configuration["midi"] = map[string]any{"channel": m.Channel}
	return nil
}

// Controller is a single controller number stored at a configuration path
type Controller struct {
	Path       Path `json:"-" validate:"-"`
	Controller int  `json:"controller" validate:"min=0,max=127"`
}

func newController(s device.Setting, d *device.Descriptor) (Section, error) {
	path, err := ParsePath(s.Configuration)
	if err != nil {
		return nil, err
	}
	conf, err := ConfigurationOf(d)
	if err != nil {
		return nil, err
	}
	c := &Controller{Path: path}
	if v, ok := path.Get(conf); ok {
		c.Controller = toInt(v)
	}
	return c, nil
}

func (c *Controller) Kind() Kind    { return KindController }
func (c *Controller) Title() string { return "Controller" }

func (c *Controller) Save(configuration map[string]any) error {
	return c.Path.Set(configuration, c.Controller)
}

// Drum holds the pad settings; only values the device reports are present
type Drum struct {
	Controller  *int     `json:"controller,omitempty" validate:"omitempty,min=0,max=127"`
	Note        *int     `json:"note,omitempty" validate:"omitempty,min=0,max=127"`
	Sensitivity *float64 `json:"sensitivity,omitempty" validate:"omitempty,min=-0.99,max=0.99"`
}

func newDrum(_ device.Setting, d *device.Descriptor) (Section, error) {
	var conf struct {
		Drum *Drum `json:"drum"`
	}
	if len(d.Configuration) > 0 {
		if err := json.Unmarshal(d.Configuration, &conf); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}
	if conf.Drum == nil {
		return nil, fmt.Errorf("drum: %w", ErrMissingValue)
	}
	return conf.Drum, nil
}

func (dr *Drum) Kind() Kind    { return KindDrum }
func (dr *Drum) Title() string { return "Drum" }

func (dr *Drum) Save(configuration map[string]any) error {
	drum := map[string]any{}
	if dr.Controller != nil {
		drum["controller"] = *dr.Controller
	}
	if dr.Note != nil {
		drum["note"] = *dr.Note
	}
	if dr.Sensitivity != nil {
		drum["sensitivity"] = *dr.Sensitivity
	}
	configuration["drum"] = drum
	return nil
}

func ConfigurationOf(d *device.Descriptor) (map[string]any, error) {
	conf := map[string]any{}
	if len(d.Configuration) == 0 {
		return conf, nil
	}
	if err := json.Unmarshal(d.Configuration, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return conf, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
