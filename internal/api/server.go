// Package api exposes the provisioning engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

type apiError struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Errors  []*params.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, body apiError) {
	if code >= 500 {
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s", code, body.Message))
	}
	writeJSON(w, code, body)
}

// writeEngineErr maps engine errors onto the API error taxonomy.
func (s *Server) writeEngineErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *params.ValidationError
	var ferr *params.FieldError
	switch {
	case errors.As(err, &verr):
		writeErr(w, http.StatusUnprocessableEntity, apiError{
			Code:    "InvalidParameters",
			Message: "Invalid parameters",
			Errors:  verr.Errors,
		})
	case errors.As(err, &ferr):
		writeErr(w, http.StatusUnprocessableEntity, apiError{
			Code:    "InvalidParameters",
			Message: "Invalid parameters",
			Errors:  []*params.FieldError{ferr},
		})
	case errors.Is(err, ip.ErrSubnetFull):
		writeErr(w, http.StatusInsufficientStorage, apiError{
			Code:    "SubnetFull",
			Message: "no more free IPs",
		})
	case errors.Is(err, storage.ErrEtagConflict):
		s.metrics.RecordEtagConflict()
		writeErr(w, http.StatusConflict, apiError{
			Code:    "Conflict",
			Message: "concurrent modification, retry",
		})
	case errors.Is(err, network.ErrNetworkInUse):
		writeErr(w, http.StatusUnprocessableEntity, apiError{
			Code:    "InUse",
			Message: err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrBucketNotFound):
		writeErr(w, http.StatusNotFound, apiError{
			Code:    "ResourceNotFound",
			Message: "not found",
		})
	default:
		s.log.ErrorContext(r.Context(), "internal error",
			"method", r.Method, "path", r.URL.Path, "error", err)
		sentry.CaptureException(err)
		writeErr(w, http.StatusInternalServerError, apiError{
			Code:    "InternalError",
			Message: "internal error",
		})
	}
}

// Server serves the NAPI HTTP API.
type Server struct {
	mux     *http.ServeMux
	store   storage.Store
	log     observability.Logger
	metrics *observability.Metrics
}

// NewServer builds a Server over store.
func NewServer(mux *http.ServeMux, store storage.Store, log observability.Logger, metrics *observability.Metrics) *Server {
	if metrics == nil {
		metrics = observability.NewMetrics("napi")
	}
	return &Server{mux: mux, store: store, log: log, metrics: metrics}
}

// pctx builds the engine context handed to every operation.
func (s *Server) pctx() *params.Context {
	return &params.Context{Store: s.store, Log: s.log}
}

// RegisterRoutes attaches all handlers to the server's mux.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/networks", s.handleNetworks)
	s.mux.HandleFunc("/networks/", s.handleNetworkSubroutes)
	s.mux.HandleFunc("/network_pools", s.handlePools)
	s.mux.HandleFunc("/network_pools/", s.handlePoolSubroutes)
	s.mux.HandleFunc("/nics", s.handleNics)
	s.mux.HandleFunc("/nics/", s.handleNicSubroutes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON request body into a params bag. An empty body
// yields an empty bag.
func decodeBody(r *http.Request) (params.Bag, error) {
	bag := params.Bag{}
	if r.Body == nil {
		return bag, nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&bag); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return bag, nil
}
