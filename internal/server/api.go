package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/settings"
)

// This file serves the JSON API. The protocol logic lives in the device,
// firmware and settings packages; here we only convert requests and replies.

const (
	maxBodySize     = 1 << 20
	maxFirmwareSize = 8 << 20
)

var validate = validator.New()

type portInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Input     bool   `json:"input"`
	Output    bool   `json:"output"`
	Connected bool   `json:"connected"`
}

type connectRequest struct {
	Port string `json:"port" validate:"required"`
}

type portsRequest struct {
	Ports int `json:"ports" validate:"min=1,max=16"`
}

type channelRequest struct {
	Channel int `json:"channel" validate:"min=0,max=15"`
}

type playRequest struct {
	Section int  `json:"section" validate:"min=0"`
	Index   int  `json:"index" validate:"min=0"`
	Max     bool `json:"max"`
}

type updateRequest struct {
	Index int `json:"index" validate:"min=0"`
}

type sectionInfo struct {
	Kind   settings.Kind    `json:"kind"`
	Title  string           `json:"title"`
	Values settings.Section `json:"values"`
}

type updateVersion struct {
	Label   string `json:"label"`
	Version int    `json:"version"`
	URL     string `json:"url"`
	Hash    string `json:"hash"`
}

type updateInfo struct {
	Versions []updateVersion `json:"versions"`
	Selected int             `json:"selected"`
	Newer    bool            `json:"newerInstalled"`
	UpToDate bool            `json:"upToDate"`
	// Verdict checks the downloaded image of the selected version
	Verdict    *firmware.Verdict `json:"verdict,omitempty"`
	ImageError string            `json:"imageError,omitempty"`
}

type installInfo struct {
	Verdict firmware.Verdict `json:"verdict"`
	Bytes   int              `json:"bytes"`
	Blocks  int              `json:"blocks"`
}

func (s *Server) serveAPI(r *mux.Router, cv OriginValidator) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cv(r.Header.Get(corsOriginHeader))
		},
	}

	r.Methods("GET").Path("/").HandlerFunc(s.Info)
	r.Methods("GET").Path("/ports").HandlerFunc(s.Ports)
	r.Methods("POST").Path("/connect").HandlerFunc(s.Connect)
	r.Methods("POST").Path("/disconnect").HandlerFunc(s.Disconnect)
	r.Methods("GET").Path("/device").HandlerFunc(s.Device)
	r.Methods("POST").Path("/refresh").HandlerFunc(s.Refresh)
	r.Methods("POST").Path("/reset").HandlerFunc(s.Reset)
	r.Methods("POST").Path("/reboot").HandlerFunc(s.Reboot)
	r.Methods("POST").Path("/reboot-ports").HandlerFunc(s.RebootWithPorts)
	r.Methods("POST").Path("/channel").HandlerFunc(s.SwitchChannel)
	r.Methods("POST").Path("/configuration").HandlerFunc(s.WriteConfiguration)
	r.Methods("DELETE").Path("/configuration").HandlerFunc(s.EraseConfiguration)
	r.Methods("GET").Path("/configuration/backup").HandlerFunc(s.Backup)
	r.Methods("POST").Path("/configuration/restore").HandlerFunc(s.Restore)
	r.Methods("GET").Path("/settings").HandlerFunc(s.Settings)
	r.Methods("POST").Path("/settings").HandlerFunc(s.SaveSettings)
	r.Methods("POST").Path("/calibration/play").HandlerFunc(s.PlayCalibration)
	r.Methods("POST").Path("/send").HandlerFunc(s.Send)
	r.Methods("POST").Path("/firmware").HandlerFunc(s.InstallFirmware)
	r.Methods("GET").Path("/firmware/update").HandlerFunc(s.FirmwareUpdate)
	r.Methods("POST").Path("/firmware/update").HandlerFunc(s.InstallUpdate)
	r.Methods("GET").Path("/events").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Events(upgrader, w, r)
	})
	// preflight requests are answered by the CORS handler
	r.Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	r.Use(CORS(cv))
}

func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]string{
		"version": s.opts.Version,
		"state":   s.opts.Session.State().String(),
	})
}

func (s *Server) Ports(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.opts.Ports.Enumerate()
	if err != nil {
		s.respondError(w, portsStatus(err), err)
		return
	}

	connected := ""
	if s.opts.Session.State() != device.StateIdle {
		connected = s.opts.Session.Name()
	}

	ports := make([]portInfo, 0, len(pairs))
	for _, p := range pairs {
		ports = append(ports, portInfo{
			ID:        p.ID(),
			Name:      p.Name(),
			Input:     p.Input != nil,
			Output:    p.Output != nil,
			Connected: connected != "" && p.Name() == connected,
		})
	}
	s.respond(w, ports)
}

func (s *Server) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}

	pair, ok, err := s.opts.Ports.FindPair(req.Port)
	if err != nil {
		s.respondError(w, portsStatus(err), err)
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("unknown port "+req.Port))
		return
	}

	s.opts.Session.Connect(pair)
	s.respondState(w)
}

func (s *Server) Disconnect(w http.ResponseWriter, r *http.Request) {
	s.opts.Session.Disconnect()
	s.respondState(w)
}

func (s *Server) Device(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w)
	if !ok {
		return
	}
	s.respond(w, d)
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.opts.Session.Refresh())
}

func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.opts.Session.Reset())
}

func (s *Server) Reboot(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.opts.Session.Reboot())
}

func (s *Server) RebootWithPorts(w http.ResponseWriter, r *http.Request) {
	var req portsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondResult(w, s.opts.Session.RebootWithPorts(req.Ports))
}

func (s *Server) SwitchChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondResult(w, s.opts.Session.SwitchChannel(req.Channel))
}

// WriteConfiguration sends the JSON text of the request body to the device
func (s *Server) WriteConfiguration(w http.ResponseWriter, r *http.Request) {
	text, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	conf, err := settings.ParseConfiguration(text)
	if err != nil {
		var syntax *settings.SyntaxError
		if errors.As(err, &syntax) {
			s.respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":  syntax.Error(),
				"line":   syntax.Line,
				"column": syntax.Column,
			})
			return
		}
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondResult(w, s.opts.Session.WriteConfiguration(conf))
}

func (s *Server) EraseConfiguration(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.opts.Session.EraseConfiguration())
}

func (s *Server) Backup(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w)
	if !ok {
		return
	}
	conf, err := settings.ConfigurationOf(d)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	b, err := settings.Backup(d, conf, "v2configure "+s.opts.Version, time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+settings.BackupFilename(d)+`"`)
	if _, err := w.Write(b); err != nil {
		s.log.Warn().Err(err).Msg("failed to write backup")
	}
}

func (s *Server) Restore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	conf, err := settings.Restore(data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondResult(w, s.opts.Session.WriteConfiguration(conf))
}

func (s *Server) editor(w http.ResponseWriter) (*settings.Editor, bool) {
	d, ok := s.device(w)
	if !ok {
		return nil, false
	}
	e, err := settings.NewEditor(d)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return e, true
}

func (s *Server) Settings(w http.ResponseWriter, r *http.Request) {
	e, ok := s.editor(w)
	if !ok {
		return
	}
	sections := make([]sectionInfo, 0, len(e.Sections))
	for _, section := range e.Sections {
		sections = append(sections, sectionInfo{
			Kind:   section.Kind(),
			Title:  section.Title(),
			Values: section,
		})
	}
	s.respond(w, sections)
}

// SaveSettings takes the section values in the order Settings returned
// them. Sections missing from the request keep the device's values.
func (s *Server) SaveSettings(w http.ResponseWriter, r *http.Request) {
	e, ok := s.editor(w)
	if !ok {
		return
	}

	var values []json.RawMessage
	if !s.decode(w, r, &values) {
		return
	}
	if len(values) > len(e.Sections) {
		s.respondError(w, http.StatusBadRequest, errors.New("more sections than the device provides"))
		return
	}
	for i, v := range values {
		if len(v) == 0 || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, e.Sections[i]); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	conf, err := e.Configuration()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondResult(w, s.opts.Session.WriteConfiguration(conf))
}

func (s *Server) PlayCalibration(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, ok := s.editor(w)
	if !ok {
		return
	}
	if req.Section >= len(e.Sections) {
		s.respondError(w, http.StatusBadRequest, errors.New("unknown section"))
		return
	}
	c, ok := e.Sections[req.Section].(*settings.Calibration)
	if !ok {
		s.respondError(w, http.StatusBadRequest, errors.New("not a calibration section"))
		return
	}
	if err := c.Play(s.opts.Session, req.Index, req.Max); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondState(w)
}

// Send writes a test message to the device
func (s *Server) Send(w http.ResponseWriter, r *http.Request) {
	var req device.TestMessage
	if !s.decode(w, r, &req) {
		return
	}
	err := s.opts.Session.Send(req)
	if errors.Is(err, device.ErrInvalidMessage) {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondResult(w, err)
}

// InstallFirmware takes the image as the request body
func (s *Server) InstallFirmware(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w)
	if !ok {
		return
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFirmwareSize))
	if err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	img, err := firmware.ParseImage(b)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New(firmware.Describe(err)))
		return
	}
	s.install(w, img, d)
}

func (s *Server) install(w http.ResponseWriter, img *firmware.Image, d *device.Descriptor) {
	verdict := firmware.Check(img, d)
	if err := s.opts.Transfer.Begin(img); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, firmware.ErrBusy):
			status = http.StatusConflict
		case errors.Is(err, device.ErrNotConnected):
			status = http.StatusConflict
		}
		s.respondError(w, status, err)
		return
	}
	s.respond(w, installInfo{Verdict: verdict, Bytes: len(img.Bytes), Blocks: img.Blocks()})
}

// FirmwareUpdate looks up the versions offered for the connected device
func (s *Server) FirmwareUpdate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w)
	if !ok {
		return
	}
	q := firmware.QueryFor(d)
	if s.opts.DownloadOverride != "" {
		q.Download = s.opts.DownloadOverride
	}

	res, err := s.opts.Resolver.Resolve(r.Context(), q)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, firmware.ErrNoDownload) ||
			errors.Is(err, firmware.ErrNoUpdateForDevice) ||
			errors.Is(err, firmware.ErrNoUpdateForBoard) {
			status = http.StatusNotFound
		}
		s.respondError(w, status, errors.New(firmware.Describe(err)))
		return
	}

	s.mu.Lock()
	s.resolution = res
	s.query = q
	s.mu.Unlock()

	info := updateInfo{
		Versions: make([]updateVersion, 0, len(res.Candidates)),
		Selected: res.Selected,
		Newer:    res.Newer,
		UpToDate: res.UpToDate,
	}
	for i, c := range res.Candidates {
		info.Versions = append(info.Versions, updateVersion{
			Label:   res.Label(i),
			Version: c.Version,
			URL:     res.URL(q, i),
			Hash:    c.Hash,
		})
	}
	if res.Image != nil {
		verdict := firmware.Check(res.Image, d)
		info.Verdict = &verdict
	}
	if res.ImageErr != nil {
		info.ImageError = firmware.Describe(res.ImageErr)
	}
	s.respond(w, info)
}

// InstallUpdate downloads a version of the last lookup and installs it
func (s *Server) InstallUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, ok := s.device(w)
	if !ok {
		return
	}

	s.mu.Lock()
	res, q := s.resolution, s.query
	s.mu.Unlock()
	if res == nil || req.Index >= len(res.Candidates) {
		s.respondError(w, http.StatusBadRequest, errors.New("unknown firmware version"))
		return
	}

	img, err := s.opts.Resolver.ImageFor(r.Context(), res, q, req.Index)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, errors.New(firmware.Describe(err)))
		return
	}
	s.install(w, img, d)
}

// Events streams session events over a websocket
func (s *Server) Events(upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(s.opts.Hub, conn, s.log)

	// current state first, so a new page starts in sync
	client.send <- Event{Type: EventState, State: s.opts.Session.State().String()}
	if d := s.opts.Session.Data(); d != nil {
		client.send <- Event{Type: EventShow, Device: d}
	}

	if !s.opts.Hub.Register(client) {
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) device(w http.ResponseWriter) (*device.Descriptor, bool) {
	d := s.opts.Session.Data()
	if d == nil {
		s.respondError(w, http.StatusNotFound, device.ErrNotConnected)
		return nil, false
	}
	return d, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() {
		if err := r.Body.Close(); err != nil {
			// just log
			s.log.Warn().Err(err).Msg("error on request close")
		}
	}()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			s.respondError(w, http.StatusBadRequest, err)
			return false
		}
	}
	return true
}

func (s *Server) respondState(w http.ResponseWriter) {
	s.respond(w, map[string]string{"state": s.opts.Session.State().String()})
}

// portsStatus maps a port lookup failure to a status code
func portsStatus(err error) int {
	if errors.Is(err, midi.ErrAccess) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondResult(w http.ResponseWriter, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, device.ErrNotConnected) {
			status = http.StatusConflict
		}
		s.respondError(w, status, err)
		return
	}
	s.respondState(w)
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("error while writing reply")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	s.log.Debug().Err(err).Int("status", status).Msg("returning error")
	s.respondJSON(w, status, jsonError{Error: err.Error()})
}
