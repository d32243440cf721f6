package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/versioduo/v2configure/internal/device"
)

var (
	ErrNoConfiguration = errors.New("no valid configuration found in file")
	ErrInvalidFile     = errors.New("unable to parse JSON from file")
)

const exportComment = "Device configuration export"

// SyntaxError locates a parse error in configuration text
type SyntaxError struct {
	Offset int64
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at line %d, column %d", e.Msg, e.Line, e.Column)
}

// ParseConfiguration parses configuration text entered by the user. It must
// be a JSON object.
func ParseConfiguration(text []byte) (map[string]any, error) {
	var conf map[string]any
	err := json.Unmarshal(text, &conf)
	if err == nil {
		if conf == nil {
			return nil, newSyntaxError(text, 0, "configuration must be an object")
		}
		return conf, nil
	}

	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntax):
		// Offset counts the offending byte
		return nil, newSyntaxError(text, max(syntax.Offset-1, 0), syntax.Error())
	case errors.As(err, &typ):
		return nil, newSyntaxError(text, typ.Offset, "configuration must be an object")
	}
	return nil, err
}

func newSyntaxError(text []byte, offset int64, msg string) *SyntaxError {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	before := text[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	column := len(before) - bytes.LastIndexByte(before, '\n')
	return &SyntaxError{Offset: offset, Line: line, Column: column, Msg: msg}
}

// Export is the configuration backup file
type Export struct {
	Comment       string         `json:"#"`
	Vendor        string         `json:"vendor"`
	Product       string         `json:"product"`
	Version       int            `json:"version"`
	Serial        string         `json:"serial"`
	Creator       string         `json:"creator"`
	Date          string         `json:"date"`
	Configuration map[string]any `json:"configuration"`
}

// Backup writes the export file for conf
func Backup(d *device.Descriptor, conf map[string]any, creator string, now time.Time) ([]byte, error) {
	e := Export{
		Comment:       exportComment,
		Vendor:        d.Metadata.Vendor,
		Product:       d.Metadata.Product,
		Version:       d.Metadata.Version,
		Serial:        d.Metadata.Serial,
		Creator:       creator,
		Date:          now.UTC().Format("2006-01-02T15:04:05.000Z"),
		Configuration: conf,
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	return b, nil
}

// Restore reads the configuration from an export file
func Restore(data []byte) (map[string]any, error) {
	var file struct {
		Configuration json.RawMessage `json:"configuration"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if len(file.Configuration) == 0 || string(file.Configuration) == "null" {
		return nil, ErrNoConfiguration
	}

	var conf map[string]any
	if err := json.Unmarshal(file.Configuration, &conf); err != nil {
		return nil, ErrNoConfiguration
	}
	return conf, nil
}

// BackupFilename names the export file after the product and the custom
// device name.
func BackupFilename(d *device.Descriptor) string {
	filename := d.Metadata.Product
	if name := d.System.Name; name != "" {
		if strings.HasPrefix(name, filename) {
			filename = name
		} else {
			filename += "-" + name
		}
	}
	return strings.ReplaceAll(filename, " ", "-") + ".json"
}
