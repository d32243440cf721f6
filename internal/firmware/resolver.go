package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/device"
)

var (
	ErrNoDownload        = errors.New("device provides no firmware download location")
	ErrNoUpdateForDevice = errors.New("no firmware update found for this device")
	ErrNoUpdateForBoard  = errors.New("no firmware update found for this board")
)

// Images larger than this are rejected before reading them completely
const maxImageSize = 8 << 20

// Candidate is one entry of a download index
type Candidate struct {
	Version int    `json:"version"`
	Board   string `json:"board,omitempty"`
	File    string `json:"file"`
	Hash    string `json:"hash"`
	Release bool   `json:"release,omitempty"`
}

// Query identifies the installed firmware of a device
type Query struct {
	Download string
	ID       string
	Board    string
	Version  int
	Hash     string
}

// QueryFor builds the query for a connected device
func QueryFor(d *device.Descriptor) Query {
	return Query{
		Download: strings.TrimSuffix(d.System.Firmware.Download, "/"),
		ID:       d.System.Firmware.ID,
		Board:    d.System.Hardware.Board,
		Version:  d.Metadata.Version,
		Hash:     d.System.Firmware.Hash,
	}
}

// Resolution is the outcome of looking up the index
type Resolution struct {
	Candidates []Candidate `json:"candidates"`
	Selected   int         `json:"selected"`
	Release    int         `json:"release"` // -1 without a release
	Newer      bool        `json:"newerInstalled"`
	UpToDate   bool        `json:"upToDate"`

	// Image is the selected candidate, downloaded when its hash differs
	// from the installed firmware. ImageErr is the download failure.
	Image    *Image `json:"-"`
	ImageErr error  `json:"-"`
}

// Label returns the text a version list shows for candidate i
func (r *Resolution) Label(i int) string {
	label := strconv.Itoa(r.Candidates[i].Version)
	if i < r.Release {
		label += " (preview)"
	}
	return label
}

// URL returns the download location of candidate i
func (r *Resolution) URL(q Query, i int) string {
	return q.Download + "/" + r.Candidates[i].File
}

// Select picks the candidate to offer from a list sorted by descending
// version. The newest release is preferred unless a newer preview is already
// installed; then the device keeps following the previews.
func Select(candidates []Candidate, installed int) (selected, release int) {
	release = -1
	for i, c := range candidates {
		if c.Release {
			release = i
			break
		}
	}
	if release >= 0 && installed <= candidates[release].Version {
		return release, release
	}
	return 0, release
}

// Resolver looks up firmware updates on the device's download site
type Resolver struct {
	client *http.Client
	log    zerolog.Logger
}

func NewResolver(client *http.Client, log zerolog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Resolver{
		client: client,
		log:    log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve downloads the index and selects the update to offer
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	if q.Download == "" {
		return nil, ErrNoDownload
	}

	r.log.Info().Str("url", q.Download+"/index.json").Msg("requesting firmware information")
	body, err := r.get(ctx, q.Download+"/index.json", 0)
	if err != nil {
		return nil, fmt.Errorf("error requesting firmware information: %w", err)
	}

	var index map[string][]Candidate
	if err := json.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("error requesting firmware information: %w", err)
	}
	r.log.Debug().Int("entries", len(index)).Msg("retrieved firmware update index")

	candidates, ok := index[q.ID]
	if !ok || len(candidates) == 0 {
		return nil, ErrNoUpdateForDevice
	}

	if q.Board != "" {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.Board == q.Board {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil, ErrNoUpdateForBoard
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Version > candidates[j].Version
	})

	selected, release := Select(candidates, q.Version)
	res := &Resolution{
		Candidates: candidates,
		Selected:   selected,
		Release:    release,
		Newer:      q.Version > candidates[selected].Version,
		UpToDate:   q.Hash != "" && q.Hash == candidates[selected].Hash,
	}
	r.log.Info().
		Int("selected", candidates[selected].Version).
		Int("installed", q.Version).
		Bool("upToDate", res.UpToDate).
		Msg("resolved firmware update")

	if !res.UpToDate {
		res.Image, res.ImageErr = r.Fetch(ctx, res.URL(q, selected))
		if res.ImageErr != nil {
			r.log.Warn().Err(res.ImageErr).Msg("failed to load the offered firmware image")
		}
	}
	return res, nil
}

// ImageFor returns the image of candidate i, reusing the one Resolve
// downloaded for the selected candidate.
func (r *Resolver) ImageFor(ctx context.Context, res *Resolution, q Query, i int) (*Image, error) {
	if i == res.Selected && res.Image != nil {
		return res.Image, nil
	}
	return r.Fetch(ctx, res.URL(q, i))
}

// Fetch downloads and validates an image
func (r *Resolver) Fetch(ctx context.Context, url string) (*Image, error) {
	r.log.Info().Str("url", url).Msg("requesting firmware image")
	body, err := r.get(ctx, url, maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("error requesting firmware image: %w", err)
	}
	r.log.Info().Int("length", len(body)).Msg("retrieved firmware image")
	return ParseImage(body)
}

func (r *Resolver) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status=%d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, nil
}
