package server

import (
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

// The status page is served on /status/ and the detailed log on
// /status/log.gz

func (s *Server) serveStatusRedirect(r *mux.Router) {
	r.HandleFunc("/", s.redirect)
	r.Use(OriginCheck(map[string]string{
		"/": "",
	}))
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/status/", http.StatusMovedPermanently)
}

func (s *Server) serveStatus(r *mux.Router) {
	r.Methods("GET").Path("/").HandlerFunc(s.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(s.statusGzip)

	r.Use(csrf.Protect(s.opts.CSRFKey, csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": "http://" + s.opts.Addr,
	}))
}

func (s *Server) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.log.Debug().Msg("building gzip")

	start := s.opts.Version + "\n" + s.deviceSummary() + "\nCurrent log:\n"
	gzip, err := s.opts.Long.Gzip(start)
	if err != nil {
		s.respondStatusError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="log.gz"`)
	if _, err := w.Write(gzip); err != nil {
		s.log.Warn().Err(err).Msg("failed to write log")
	}
}

func (s *Server) statusPage(w http.ResponseWriter, r *http.Request) {
	s.log.Debug().Msg("building status page")

	var templateErr error
	ports, err := s.statusPorts()
	if err != nil {
		s.log.Warn().Err(err).Msg("enumerate failed")
		templateErr = err
	}

	log, err := s.opts.Short.String(s.opts.Version + "\n")
	if err != nil {
		s.respondStatusError(w, err)
		return
	}

	data := &statusTemplateData{
		Version:   s.opts.Version,
		State:     s.opts.Session.State().String(),
		Device:    s.opts.Session.Name(),
		Ports:     ports,
		PortCount: len(ports),
		Clients:   s.opts.Hub.ClientCount(),
		Log:       log,
		IsError:   templateErr != nil,
		CSRFField: csrf.TemplateField(r),
	}
	if templateErr != nil {
		data.Error = templateErr.Error()
	}
	if d := s.opts.Session.Data(); d != nil {
		data.Device = d.DisplayName()
		data.Firmware = d.Metadata.Version
	}

	if err := statusTemplate.Execute(w, data); err != nil {
		s.respondStatusError(w, err)
		return
	}
}

func (s *Server) statusPorts() ([]statusTemplatePort, error) {
	pairs, err := s.opts.Ports.Enumerate()
	if err != nil {
		return nil, err
	}
	ports := make([]statusTemplatePort, 0, len(pairs))
	for _, p := range pairs {
		ports = append(ports, statusTemplatePort{
			ID:     p.ID(),
			Name:   p.Name(),
			Output: p.Output != nil,
		})
	}
	return ports, nil
}

func (s *Server) deviceSummary() string {
	d := s.opts.Session.Data()
	if d == nil {
		return "no device connected"
	}
	return d.DisplayName() + " " + d.System.Firmware.ID + " " + d.System.Firmware.Hash
}

func (s *Server) respondStatusError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}
