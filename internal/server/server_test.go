package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/logs"
	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/midi/miditest"
	"github.com/versioduo/v2configure/internal/sysex"
)

const testAddr = "127.0.0.1:21329"

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// idleClock never fires, replies are injected by the tests
type idleClock struct{}

func (idleClock) AfterFunc(time.Duration, func()) device.Timer { return idleTimer{} }

type fixture struct {
	server  *Server
	session *device.Session
	in      *miditest.Input
	out     *miditest.Output
	short   *logs.MemoryWriter
}

func newFixture(t *testing.T, download string) *fixture {
	t.Helper()
	log := zerolog.Nop()

	host := miditest.NewHost()
	in, out := host.AddDevice("V2 Pad")
	registry, err := midi.NewRegistry(host, log)
	require.NoError(t, err)

	session := device.NewSession(device.Options{
		Clock:  idleClock{},
		Go:     func(fn func()) { fn() },
		Logger: log,
	})
	transfer := firmware.NewTransfer(session, log)
	session.SetFirmwareHandler(transfer)
	session.Subscribe(transfer)

	hub := NewHub(log)
	session.Subscribe(hub)
	session.OnNotice(hub.Notice)
	session.OnStateChange(hub.StateChanged)
	session.OnMessage(hub.Message)
	transfer.AddReporter(hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	f := &fixture{
		session: session,
		in:      in,
		out:     out,
		short:   logs.NewMemoryWriter(100, 10, false),
	}
	f.server, err = New(Options{
		Addr:             testAddr,
		Version:          "1.0.0",
		Ports:            registry,
		Session:          session,
		Transfer:         transfer,
		Resolver:         firmware.NewResolver(nil, log),
		Hub:              hub,
		DownloadOverride: download,
		Short:            f.short,
		Long:             logs.NewMemoryWriter(100, 10, true),
		Log:              log,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler.ServeHTTP(w, r)
	return w
}

func (f *fixture) reply(t *testing.T, body map[string]any) {
	t.Helper()
	msg, err := sysex.Encode(sysex.Envelope(body))
	require.NoError(t, err)
	require.True(t, f.in.Inject(msg), "nobody listens")
}

func padSnapshot() map[string]any {
	return map[string]any{
		"token":    "T1",
		"metadata": map[string]any{"vendor": "Versio Duo", "product": "V2 Pad", "version": 5, "serial": "0001"},
		"system": map[string]any{
			"name": "Kick",
			"firmware": map[string]any{
				"id":       "com.versioduo.pad",
				"hash":     "h5",
				"download": "https://versioduo.com/download",
			},
			"hardware": map[string]any{
				"board":  "versioduo:samd:pad",
				"eeprom": map[string]any{"used": true},
			},
		},
		"configuration": map[string]any{"midi": map[string]any{"channel": 2}},
	}
}

// connect connects the session through the API and answers getAll
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	w := f.do(t, "POST", "/api/connect", `{"port":"V2 Pad"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f.reply(t, padSnapshot())
	require.Equal(t, device.StateConnected, f.session.State())
	f.out.Reset()
}

func requests(t *testing.T, out *miditest.Output) []map[string]any {
	t.Helper()
	var reqs []map[string]any
	for _, raw := range out.Sent() {
		payload, ok := sysex.Payload(raw)
		if !ok {
			continue
		}
		var envelope map[string]map[string]any
		require.NoError(t, sysex.Decode(payload, &envelope))
		reqs = append(reqs, envelope[sysex.Namespace])
	}
	return reqs
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestInfo(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, "GET", "/api/", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "idle", body["state"])
}

func TestPortsAndConnect(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "GET", "/api/ports", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ports []portInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ports))
	require.Len(t, ports, 1)
	assert.Equal(t, "V2 Pad", ports[0].Name)
	assert.True(t, ports[0].Input)
	assert.True(t, ports[0].Output)
	assert.False(t, ports[0].Connected)

	w = f.do(t, "GET", "/api/device", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/api/connect", `{"port":"V2 Pad"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connecting", decodeBody(t, w)["state"])
	assert.Equal(t, []map[string]any{{"method": "getAll"}}, requests(t, f.out))

	f.reply(t, padSnapshot())

	w = f.do(t, "GET", "/api/device", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "V2 Pad", body["metadata"].(map[string]any)["product"])

	w = f.do(t, "GET", "/api/ports", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ports))
	assert.True(t, ports[0].Connected)

	w = f.do(t, "POST", "/api/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeBody(t, w)["state"])
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "POST", "/api/connect", `{"port":"V2 Knob"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/api/connect", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/api/connect", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPortsWithoutMIDIAccess(t *testing.T) {
	f := newFixture(t, "")
	denied := fmt.Errorf("%w: no permission", midi.ErrAccess)
	f.server.opts.Ports = midi.NoAccess{Err: denied}

	w := f.do(t, "GET", "/api/ports", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, denied.Error(), decodeBody(t, w)["error"])

	w = f.do(t, "POST", "/api/connect", `{"port":"V2 Pad"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, device.StateIdle, f.session.State())

	w = f.do(t, "GET", "/api/", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCommandsWithoutDevice(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "POST", "/api/refresh", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, device.ErrNotConnected.Error(), decodeBody(t, w)["error"])
}

func TestDeviceCommands(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	w := f.do(t, "POST", "/api/channel", `{"channel":3}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", "/api/channel", `{"channel":16}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/api/reboot-ports", `{"ports":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "switchChannel", reqs[0]["method"])
	assert.Equal(t, float64(3), reqs[0]["channel"])
	assert.Equal(t, "T1", reqs[0]["token"])

	w = f.do(t, "POST", "/api/reboot-ports", `{"ports":4}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeBody(t, w)["state"])
	reqs = requests(t, f.out)
	assert.Equal(t, "rebootWithPorts", reqs[len(reqs)-1]["method"])
}

func TestWriteConfiguration(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	w := f.do(t, "POST", "/api/configuration", "{\n  \"a\": 1,\n}")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(3), body["line"])
	assert.Equal(t, float64(1), body["column"])
	assert.Empty(t, requests(t, f.out))

	w = f.do(t, "POST", "/api/configuration", `{"midi":{"channel":5}}`)
	require.Equal(t, http.StatusOK, w.Code)
	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "writeConfiguration", reqs[0]["method"])
	assert.Equal(t, map[string]any{"midi": map[string]any{"channel": float64(5)}}, reqs[0]["configuration"])
}

func TestSettings(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	w := f.do(t, "GET", "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sections []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sections))
	require.Len(t, sections, 1)
	assert.Equal(t, "usb", sections[0]["kind"])
	assert.Equal(t, "Kick", sections[0]["values"].(map[string]any)["name"])

	w = f.do(t, "POST", "/api/settings", `[{"name":"Snare"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"usb": map[string]any{"name": "Snare"}}, reqs[0]["configuration"])

	w = f.do(t, "POST", "/api/settings", `[{"name":"`+strings.Repeat("x", 40)+`"}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/api/settings", `[null, {}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackupAndRestore(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	w := f.do(t, "GET", "/api/configuration/backup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="V2-Pad-Kick.json"`, w.Header().Get("Content-Disposition"))
	body := decodeBody(t, w)
	assert.Equal(t, "V2 Pad", body["product"])
	assert.Equal(t, "v2configure 1.0.0", body["creator"])
	assert.Equal(t, map[string]any{"midi": map[string]any{"channel": float64(2)}}, body["configuration"])

	w = f.do(t, "POST", "/api/configuration/restore", w.Body.String())
	require.Equal(t, http.StatusOK, w.Code)
	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "writeConfiguration", reqs[0]["method"])
	assert.Equal(t, map[string]any{"midi": map[string]any{"channel": float64(2)}}, reqs[0]["configuration"])

	w = f.do(t, "POST", "/api/configuration/restore", `{"product":"V2 Pad"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func testImage(version int) []byte {
	b := bytes.Repeat([]byte{0x5A}, firmware.BlockSize+16)
	b = append(b, 0)
	b = append(b, `{"com.versioduo.firmware":{"id":"com.versioduo.pad","board":"versioduo:samd:pad","version":`...)
	b = append(b, strconv.Itoa(version)+`}}`...)
	return append(b, 0)
}

func TestInstallFirmware(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "POST", "/api/firmware", string(testImage(7)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.connect(t)

	w = f.do(t, "POST", "/api/firmware", "garbage")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unknown file type. No valid device metadata found.", decodeBody(t, w)["error"])

	w = f.do(t, "POST", "/api/firmware", string(testImage(7)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["blocks"])
	assert.Equal(t, map[string]any{
		"level": "info",
		"text":  "A firmware update is available. Please backup the configuration before the installation.",
	}, body["verdict"])

	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "writeFirmware", reqs[0]["method"])
	assert.Equal(t, float64(0), reqs[0]["firmware"].(map[string]any)["offset"])

	w = f.do(t, "POST", "/api/firmware", string(testImage(7)))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFirmwareUpdate(t *testing.T) {
	index := `{"com.versioduo.pad":[
	  {"version":7,"board":"versioduo:samd:pad","file":"pad-7.bin","hash":"h7"},
	  {"version":6,"board":"versioduo:samd:pad","file":"pad-6.bin","hash":"h6","release":true}
	]}`
	files := map[string][]byte{
		"/download/index.json": []byte(index),
		"/download/pad-6.bin":  testImage(6),
	}
	download := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	defer download.Close()

	f := newFixture(t, download.URL+"/download")

	w := f.do(t, "POST", "/api/firmware/update", `{"index":0}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.connect(t)

	w = f.do(t, "POST", "/api/firmware/update", `{"index":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/api/firmware/update", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info updateInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Len(t, info.Versions, 2)
	assert.Equal(t, "7 (preview)", info.Versions[0].Label)
	assert.Equal(t, "6", info.Versions[1].Label)
	assert.Equal(t, download.URL+"/download/pad-6.bin", info.Versions[1].URL)
	assert.Equal(t, 1, info.Selected)
	assert.False(t, info.UpToDate)
	assert.False(t, info.Newer)
	require.NotNil(t, info.Verdict, "the selected image is checked before it is offered")
	assert.Equal(t, "A firmware update is available. Please backup the configuration before the installation.", info.Verdict.Text)
	assert.Empty(t, info.ImageError)

	w = f.do(t, "POST", "/api/firmware/update", `{"index":0}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = f.do(t, "POST", "/api/firmware/update", `{"index":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reqs := requests(t, f.out)
	require.Len(t, reqs, 1)
	assert.Equal(t, "writeFirmware", reqs[0]["method"])
}

func TestFirmwareUpdateUnknownDevice(t *testing.T) {
	download := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"com.versioduo.knob":[{"version":1,"file":"knob.bin","hash":"k"}]}`))
	}))
	defer download.Close()

	f := newFixture(t, download.URL)
	f.connect(t)

	w := f.do(t, "GET", "/api/firmware/update", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No firmware update found for this device.", decodeBody(t, w)["error"])
}

func TestCORS(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "GET", "/api/", "", "Origin", "https://example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "GET", "/api/", "", "Origin", "https://www.versioduo.com")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.versioduo.com", w.Header().Get(corsAllowOriginHeader))

	w = f.do(t, "OPTIONS", "/api/connect", "",
		"Origin", "http://localhost:8080",
		corsRequestMethodHeader, "POST",
		corsRequestHeadersHeader, "content-type")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", w.Header().Get(corsAllowMethodsHeader))

	w = f.do(t, "OPTIONS", "/api/connect", "",
		"Origin", "http://localhost:8080",
		corsRequestMethodHeader, "PUT")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusPage(t *testing.T) {
	f := newFixture(t, "")
	_, _ = f.short.Write([]byte("scanning ports\n"))

	w := f.do(t, "GET", "/", "")
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/status/", w.Header().Get("Location"))

	w = f.do(t, "GET", "/status/", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := w.Body.String()
	assert.Contains(t, page, "Version 1.0.0")
	assert.Contains(t, page, "V2 Pad")
	assert.Contains(t, page, "scanning ports")
	assert.Contains(t, page, `name="gorilla.csrf.Token"`)
	assert.Equal(t, "DENY", w.Header().Get(frameOriginHeader))

	w = f.do(t, "GET", "/status/", "", "Origin", "https://www.versioduo.com")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "POST", "/status/log.gz", "", "Origin", "http://"+testAddr)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.server.Handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventState, event.Type)
	assert.Equal(t, "idle", event.State)

	f.connect(t)

	var types []EventType
	for event.Type != EventShow {
		event = Event{}
		require.NoError(t, conn.ReadJSON(&event))
		types = append(types, event.Type)
	}
	assert.Equal(t, []EventType{EventState, EventState, EventNotice, EventShow}, types)

	require.True(t, f.in.Inject([]byte{0x91, 60, 90}))
	event = Event{}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, midi.Message{Type: midi.MessageNote, Channel: 1, Number: 60, Value: 90}, *event.Message)
}

func TestSend(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, "POST", "/api/send", `{"type":"note","channel":0,"number":60,"value":10}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.connect(t)

	for _, body := range []string{
		`{"type":"note","channel":0,"number":60,"value":10}`,
		`{"type":"noteOff","channel":1,"number":60,"value":64}`,
		`{"type":"program","channel":2,"number":5}`,
		`{"type":"control","channel":0,"number":7,"value":127}`,
		`{"type":"aftertouch","channel":3,"value":9}`,
		`{"type":"pitchbend","channel":0,"value":0}`,
	} {
		w = f.do(t, "POST", "/api/send", body)
		require.Equal(t, http.StatusOK, w.Code, body)
	}
	assert.Equal(t, [][]byte{
		{0x90, 60, 10},
		{0x81, 60, 64},
		{0xC2, 5},
		{0xB0, 7, 127},
		{0xD3, 9},
		{0xE0, 0x00, 0x40},
	}, f.out.Sent())

	for _, body := range []string{
		`{"type":"sysex"}`,
		`{"type":"note","channel":16,"number":60,"value":10}`,
		`{"type":"note","channel":0,"number":60,"value":200}`,
		`{"type":"pitchbend","channel":0,"value":9000}`,
	} {
		w = f.do(t, "POST", "/api/send", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}
