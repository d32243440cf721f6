package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/versioduo/v2configure/internal/device"
)

// PlayInterval is the delay between notes of PlayAll
const PlayInterval = 150 * time.Millisecond

// Player sends the messages used to audition calibration values
type Player interface {
	SendProgramChange(channel, program uint8) error
	SendNote(channel, note, velocity uint8) error
}

// Range is the raw value pair that plays velocity 1 and velocity 127
type Range struct {
	Min int `json:"min" validate:"min=1,max=127"`
	Max int `json:"max" validate:"min=1,max=127"`
}

// Calibration holds one range per chromatic note. Raw values are auditioned
// by switching the device to a dedicated program.
type Calibration struct {
	Channel uint8 `json:"channel"`
	Program uint8 `json:"program"`
	// Program selected on the device, restored after playing
	Current uint8   `json:"current"`
	Start   int     `json:"start"`
	Values  []Range `json:"values" validate:"dive"`
}

type calibrationInput struct {
	Programs []struct {
		Number   uint8 `json:"number"`
		Selected bool  `json:"selected"`
	} `json:"programs"`
	Chromatic struct {
		Start int `json:"start"`
		Count int `json:"count"`
	} `json:"chromatic"`
}

func newCalibration(s device.Setting, d *device.Descriptor) (Section, error) {
	var input calibrationInput
	if len(d.Input) > 0 {
		if err := json.Unmarshal(d.Input, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input: %w", err)
		}
	}

	c := &Calibration{Start: input.Chromatic.Start}
	for _, p := range input.Programs {
		if p.Selected {
			c.Current = p.Number
			break
		}
	}
	if s.Channel != nil {
		c.Channel = uint8(*s.Channel)
	}
	if s.Program != nil {
		c.Program = uint8(*s.Program)
	}

	path, err := ParsePath(s.Configuration)
	if err != nil {
		return nil, err
	}
	conf, err := ConfigurationOf(d)
	if err != nil {
		return nil, err
	}
	v, ok := path.Get(conf)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingValue)
	}
	entries, ok := v.([]any)
	if !ok || len(entries) < input.Chromatic.Count {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingValue)
	}

	for i := 0; i < input.Chromatic.Count; i++ {
		entry, _ := entries[i].(map[string]any)
		c.Values = append(c.Values, Range{
			Min: toInt(entry["min"]),
			Max: toInt(entry["max"]),
		})
	}
	return c, nil
}

func (c *Calibration) Kind() Kind    { return KindCalibration }
func (c *Calibration) Title() string { return "Calibration" }

func (c *Calibration) Save(configuration map[string]any) error {
	values := make([]any, len(c.Values))
	for i, r := range c.Values {
		values[i] = map[string]any{"min": r.Min, "max": r.Max}
	}
	configuration["calibration"] = values
	return nil
}

// Note returns the note number of entry i
func (c *Calibration) Note(i int) uint8 {
	return uint8(c.Start + i)
}

func (c *Calibration) value(i int, max bool) uint8 {
	if max {
		return uint8(c.Values[i].Max)
	}
	return uint8(c.Values[i].Min)
}

// Play auditions the raw min or max value of entry i
func (c *Calibration) Play(p Player, i int, max bool) error {
	if i < 0 || i >= len(c.Values) {
		return fmt.Errorf("calibration entry %d out of range", i)
	}
	if err := p.SendProgramChange(c.Channel, c.Program); err != nil {
		return err
	}
	if err := p.SendNote(c.Channel, c.Note(i), c.value(i, max)); err != nil {
		return err
	}
	return p.SendProgramChange(c.Channel, c.Current)
}

// PlayAll plays every note with its min or max value, one every interval.
// The device program is restored when all notes are played or ctx ends.
func (c *Calibration) PlayAll(ctx context.Context, p Player, max bool, interval time.Duration) error {
	if err := p.SendProgramChange(c.Channel, c.Program); err != nil {
		return err
	}
	defer p.SendProgramChange(c.Channel, c.Current)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := range c.Values {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := p.SendNote(c.Channel, c.Note(i), c.value(i, max)); err != nil {
			return err
		}
	}
	return nil
}
