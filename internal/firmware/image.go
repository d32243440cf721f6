// Package firmware reads firmware images, checks them against the connected
// device, and transfers them block by block.
package firmware

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// MetadataKey names the metadata record at the end of an image
const MetadataKey = "com.versioduo.firmware"

// ErrUnrecognized is returned for files without valid image metadata
var ErrUnrecognized = errors.New("unknown file type")

// Metadata identifies the firmware in an image
type Metadata struct {
	ID      string `json:"id"`
	Board   string `json:"board"`
	Version int    `json:"version"`
}

// Image is a validated firmware image
type Image struct {
	Bytes    []byte
	Metadata Metadata
	Hash     string // SHA-1 of Bytes, lowercase hex
}

// ParseImage validates the metadata record at the end of b. The record is a
// JSON object enclosed in NUL bytes and must be the last thing in the file.
func ParseImage(b []byte) (*Image, error) {
	start := len(b) - 2
	for {
		if start < 0 {
			return nil, fmt.Errorf("%w: no valid device metadata found", ErrUnrecognized)
		}
		if b[start] == 0 {
			break
		}
		start--
		if start < 4 {
			return nil, fmt.Errorf("%w: no valid device metadata found", ErrUnrecognized)
		}
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(b[start+1:len(b)-1], &record); err != nil {
		return nil, fmt.Errorf("%w: unable to parse metadata", ErrUnrecognized)
	}
	raw, ok := record[MetadataKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing metadata", ErrUnrecognized)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: unable to parse metadata", ErrUnrecognized)
	}

	sum := sha1.Sum(b)
	return &Image{
		Bytes:    b,
		Metadata: meta,
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

// Blocks returns the number of blocks a transfer of the image sends
func (img *Image) Blocks() int {
	return (len(img.Bytes) + BlockSize - 1) / BlockSize
}
