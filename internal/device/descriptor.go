package device

import (
	"encoding/json"
	"fmt"
)

// Descriptor is the device's reply to getAll. The fields the session and the
// firmware update read are typed; the complete tree is kept in Raw.
type Descriptor struct {
	Metadata      Metadata        `json:"metadata"`
	System        System          `json:"system"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	Settings      []Setting       `json:"settings,omitempty"`
	Links         json.RawMessage `json:"links,omitempty"`
	Help          json.RawMessage `json:"help,omitempty"`

	Raw map[string]any `json:"-"`
}

// Metadata describes the product
type Metadata struct {
	Vendor      string `json:"vendor,omitempty"`
	Product     string `json:"product,omitempty"`
	Description string `json:"description,omitempty"`
	Home        string `json:"home,omitempty"`
	Serial      string `json:"serial,omitempty"`
	Version     int    `json:"version"`
}

// System describes the running firmware and the hardware
type System struct {
	Name     string   `json:"name,omitempty"`
	Firmware Firmware `json:"firmware"`
	Hardware Hardware `json:"hardware"`
	Ports    *Ports   `json:"ports,omitempty"`
}

// Firmware is the installed firmware
type Firmware struct {
	ID       string `json:"id,omitempty"`
	Board    string `json:"board,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Download string `json:"download,omitempty"`
	Start    int    `json:"start,omitempty"`
}

// Hardware identifies the board
type Hardware struct {
	Board  string  `json:"board,omitempty"`
	EEPROM *EEPROM `json:"eeprom,omitempty"`
}

// EEPROM reports whether the device stores a configuration
type EEPROM struct {
	Size int  `json:"size,omitempty"`
	Used bool `json:"used"`
}

// Ports is the number of USB MIDI ports the device announces
type Ports struct {
	Announce   int `json:"announce"`
	Configured int `json:"configured"`
}

// Setting is one entry of the device's settings list
type Setting struct {
	Type          string `json:"type"`
	Title         string `json:"title,omitempty"`
	Path          string `json:"path,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	Channel       *int   `json:"channel,omitempty"`
	Program       *int   `json:"program,omitempty"`
}

// ParseDescriptor decodes a device reply
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse device descriptor: %w", err)
	}
	if err := json.Unmarshal(data, &d.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse device descriptor: %w", err)
	}
	return &d, nil
}

// EEPROMUsed reports whether the device holds a stored configuration
func (d *Descriptor) EEPROMUsed() bool {
	return d.System.Hardware.EEPROM != nil && d.System.Hardware.EEPROM.Used
}

// DisplayName returns the custom USB name, or the product name
func (d *Descriptor) DisplayName() string {
	if d.System.Name != "" {
		return d.System.Name
	}
	return d.Metadata.Product
}

// MarshalJSON writes the complete tree as received
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	if d.Raw != nil {
		return json.Marshal(d.Raw)
	}
	type plain Descriptor
	return json.Marshal((*plain)(d))
}
