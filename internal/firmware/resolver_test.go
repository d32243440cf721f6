package firmware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const index = `{
  "com.versioduo.pad": [
    {"version": 5, "board": "versioduo:samd:pad", "file": "pad-5.bin", "hash": "h5", "release": true},
    {"version": 7, "board": "versioduo:samd:pad", "file": "pad-7.bin", "hash": "h7"},
    {"version": 4, "board": "versioduo:samd:pad", "file": "pad-4.bin", "hash": "h4", "release": true},
    {"version": 9, "board": "versioduo:samd:other", "file": "other-9.bin", "hash": "h9", "release": true}
  ],
  "com.versioduo.knob": [
    {"version": 3, "board": "versioduo:samd:knob", "file": "knob-3.bin", "hash": "k3"}
  ]
}`

// fileServer serves a download site and remembers the requested paths
type fileServer struct {
	*httptest.Server

	mu    sync.Mutex
	paths []string
}

func (s *fileServer) requested(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		if p == path {
			return true
		}
	}
	return false
}

func serve(t *testing.T, files map[string][]byte) *fileServer {
	t.Helper()
	fs := &fileServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		fs.mu.Lock()
		fs.paths = append(fs.paths, r.URL.Path)
		fs.mu.Unlock()
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func padImage(version string) []byte {
	return buildImage([]byte{1, 2, 3, 4, 5, 6, 7, 8}, `{"com.versioduo.firmware":{"id":"com.versioduo.pad","board":"versioduo:samd:pad","version":`+version+`}}`)
}

func padQuery(srv *fileServer, version int, hash string) Query {
	return Query{
		Download: srv.URL + "/download",
		ID:       "com.versioduo.pad",
		Board:    "versioduo:samd:pad",
		Version:  version,
		Hash:     hash,
	}
}

func TestSelect(t *testing.T) {
	candidates := []Candidate{
		{Version: 7},
		{Version: 5, Release: true},
		{Version: 4, Release: true},
	}

	tests := []struct {
		name      string
		installed int
		selected  int
	}{
		{"older installed gets release", 4, 1},
		{"release installed stays", 5, 1},
		{"preview installed follows previews", 6, 0},
		{"newest installed", 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, release := Select(candidates, tt.installed)
			assert.Equal(t, tt.selected, selected)
			assert.Equal(t, 1, release)
		})
	}

	selected, release := Select([]Candidate{{Version: 3}, {Version: 2}}, 1)
	assert.Equal(t, 0, selected)
	assert.Equal(t, -1, release)
}

func TestResolve(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 4, "h4"))
	require.NoError(t, err)

	require.Len(t, res.Candidates, 3)
	assert.Equal(t, []int{7, 5, 4}, []int{res.Candidates[0].Version, res.Candidates[1].Version, res.Candidates[2].Version})
	assert.Equal(t, 1, res.Release)
	assert.Equal(t, 1, res.Selected)
	assert.False(t, res.Newer)
	assert.False(t, res.UpToDate)
	assert.Equal(t, "7 (preview)", res.Label(0))
	assert.Equal(t, "5", res.Label(1))
	assert.Equal(t, srv.URL+"/download/pad-5.bin", res.URL(padQuery(srv, 4, ""), 1))
}

func TestResolveFetchesOfferedImage(t *testing.T) {
	srv := serve(t, map[string][]byte{
		"/download/index.json": []byte(index),
		"/download/pad-5.bin":  padImage("5"),
	})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 4, "h4"))
	require.NoError(t, err)
	assert.True(t, srv.requested("/download/pad-5.bin"))
	require.NoError(t, res.ImageErr)
	require.NotNil(t, res.Image)
	assert.Equal(t, 5, res.Image.Metadata.Version)

	img, err := r.ImageFor(context.Background(), res, padQuery(srv, 4, "h4"), res.Selected)
	require.NoError(t, err)
	assert.Same(t, res.Image, img)
}

func TestResolveUpToDateSkipsImage(t *testing.T) {
	srv := serve(t, map[string][]byte{
		"/download/index.json": []byte(index),
		"/download/pad-5.bin":  padImage("5"),
	})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 5, "h5"))
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.False(t, srv.requested("/download/pad-5.bin"))
	assert.Nil(t, res.Image)
	assert.NoError(t, res.ImageErr)
}

func TestResolveImageMissing(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 4, "h4"))
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 3)
	assert.Nil(t, res.Image)
	assert.ErrorContains(t, res.ImageErr, "status=404")
}

func TestResolvePreviewInstalled(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 6, "h6"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)
	assert.Equal(t, 7, res.Candidates[res.Selected].Version)
}

func TestResolveUpToDate(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 5, "h5"))
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
}

func TestResolveNewerInstalled(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	res, err := r.Resolve(context.Background(), padQuery(srv, 8, "h8"))
	require.NoError(t, err)
	assert.True(t, res.Newer)
	assert.Equal(t, 0, res.Selected)
}

func TestResolveWithoutBoard(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	q := padQuery(srv, 1, "")
	q.Board = ""
	res, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 4)
	assert.Equal(t, 9, res.Candidates[res.Selected].Version)
}

func TestResolveNoUpdate(t *testing.T) {
	srv := serve(t, map[string][]byte{"/download/index.json": []byte(index)})
	r := NewResolver(srv.Client(), zerolog.Nop())

	q := padQuery(srv, 1, "")
	q.ID = "com.versioduo.unknown"
	_, err := r.Resolve(context.Background(), q)
	assert.ErrorIs(t, err, ErrNoUpdateForDevice)
	assert.Equal(t, "No firmware update found for this device.", Describe(err))

	q = padQuery(srv, 1, "")
	q.Board = "versioduo:samd:unknown"
	_, err = r.Resolve(context.Background(), q)
	assert.ErrorIs(t, err, ErrNoUpdateForBoard)
}

func TestResolveErrors(t *testing.T) {
	srv := serve(t, map[string][]byte{"/broken/index.json": []byte("{")})
	r := NewResolver(srv.Client(), zerolog.Nop())

	_, err := r.Resolve(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrNoDownload)

	_, err = r.Resolve(context.Background(), Query{Download: srv.URL + "/missing", ID: "x"})
	assert.ErrorContains(t, err, "status=404")

	_, err = r.Resolve(context.Background(), Query{Download: srv.URL + "/broken", ID: "x"})
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	raw := buildImage([]byte{1, 2, 3, 4, 5, 6, 7, 8}, `{"com.versioduo.firmware":{"id":"com.versioduo.pad","board":"versioduo:samd:pad","version":7}}`)
	srv := serve(t, map[string][]byte{
		"/download/pad-7.bin": raw,
		"/download/junk.bin":  []byte("not an image"),
	})
	r := NewResolver(srv.Client(), zerolog.Nop())

	img, err := r.Fetch(context.Background(), srv.URL+"/download/pad-7.bin")
	require.NoError(t, err)
	assert.Equal(t, 7, img.Metadata.Version)
	assert.Equal(t, raw, img.Bytes)

	_, err = r.Fetch(context.Background(), srv.URL+"/download/junk.bin")
	assert.ErrorIs(t, err, ErrUnrecognized)
}
