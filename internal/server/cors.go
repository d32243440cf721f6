package server

import (
	"net/http"
	"regexp"
	"slices"
	"strings"
)

// Based on https://github.com/gorilla/handlers/blob/master/cors.go
// Copyright (c) 2013 The Gorilla Handlers Authors, BSD license

// OriginValidator takes an origin string and returns whether or not that origin is allowed.
type OriginValidator func(string) bool

type cors struct {
	h                      http.Handler
	allowedOriginValidator OriginValidator
}

var (
	allowedHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", "Content-Type"}
	allowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
)

const (
	corsOptionMethod         string = "OPTIONS"
	corsAllowOriginHeader    string = "Access-Control-Allow-Origin"
	corsAllowMethodsHeader   string = "Access-Control-Allow-Methods"
	corsAllowHeadersHeader   string = "Access-Control-Allow-Headers"
	corsRequestMethodHeader  string = "Access-Control-Request-Method"
	corsRequestHeadersHeader string = "Access-Control-Request-Headers"
	corsOriginHeader         string = "Origin"
	frameOriginHeader        string = "X-Frame-Options"
)

func (ch *cors) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get(corsOriginHeader)

	if !ch.allowedOriginValidator(origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if r.Method == corsOptionMethod {
		if _, ok := r.Header[corsRequestMethodHeader]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		method := r.Header.Get(corsRequestMethodHeader)
		if !slices.Contains(allowedMethods, method) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if requested := r.Header.Get(corsRequestHeadersHeader); requested != "" {
			for _, v := range strings.Split(requested, ",") {
				canonicalHeader := http.CanonicalHeaderKey(strings.TrimSpace(v))
				if !slices.Contains(allowedHeaders, canonicalHeader) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}
		}
	}

	if origin != "" {
		w.Header().Set(corsAllowOriginHeader, origin)
	}

	if r.Method == corsOptionMethod {
		w.Header().Set(corsAllowMethodsHeader, strings.Join(allowedMethods, ", "))
		w.Header().Set(corsAllowHeadersHeader, strings.Join(allowedHeaders, ", "))
		return
	}
	ch.h.ServeHTTP(w, r)
}

func CORS(validator OriginValidator) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return &cors{
			h:                      h,
			allowedOriginValidator: validator,
		}
	}
}

// corsValidator allows the hosted configurator, pages served by the bridge
// itself, and local development servers. Requests without an origin come
// from command line tools.
func corsValidator(addr string) (OriginValidator, error) {
	vregex, err := regexp.Compile(`^https://([[:alnum:]\-_]+\.)*versioduo\.com$`)
	if err != nil {
		return nil, err
	}
	// `localhost:8xxx` and `5xxx` are added for easing local development.
	lregex, err := regexp.Compile(`^https?://(localhost|127\.0\.0\.1):[58][[:digit:]]{3}$`)
	if err != nil {
		return nil, err
	}
	self := "http://" + addr

	v := func(origin string) bool {
		switch {
		case origin == "":
			return true
		case origin == self:
			return true
		case lregex.MatchString(origin):
			return true
		case vregex.MatchString(origin):
			return true
		}
		return false
	}
	return v, nil
}

type originCheck struct {
	handler http.Handler
	allowed map[string]string
}

// OriginCheck only lets a path through when it is requested from the
// origin listed for it.
func OriginCheck(allowed map[string]string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return &originCheck{
			allowed: allowed,
			handler: h,
		}
	}
}

func (o *originCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get(corsOriginHeader)

	if want, ok := o.allowed[r.URL.Path]; !ok || want != origin {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set(frameOriginHeader, "DENY")
	o.handler.ServeHTTP(w, r)
}
