package api

import (
	"net/http"
	"strings"

	"github.com/joshwilsdon-forks/sdc-napi/internal/nic"
)

// GET/POST /nics
func (s *Server) handleNics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		opts := nic.ListOpts{
			BelongsToUUID: r.URL.Query().Get("belongs_to_uuid"),
			BelongsToType: r.URL.Query().Get("belongs_to_type"),
			OwnerUUID:     r.URL.Query().Get("owner_uuid"),
			NicTag:        r.URL.Query().Get("nic_tag"),
			NetworkUUID:   r.URL.Query().Get("network_uuid"),
			State:         r.URL.Query().Get("state"),
		}
		opts.Limit, opts.Offset = pageParams(r)
		nics, err := nic.List(ctx, s.pctx(), opts)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		out := make([]nicView, 0, len(nics))
		for _, n := range nics {
			out = append(out, viewNic(n))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		n, err := nic.Provision(ctx, s.pctx(), bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		s.metrics.RecordNicProvisioned()
		if n.IP.IsValid() {
			s.metrics.RecordIPProvisioned()
		}
		writeJSON(w, http.StatusCreated, viewNic(n))

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}

// GET/PUT/DELETE /nics/{mac}
func (s *Server) handleNicSubroutes(w http.ResponseWriter, r *http.Request) {
	mac := strings.Trim(strings.TrimPrefix(r.URL.Path, "/nics/"), "/")
	if mac == "" || strings.Contains(mac, "/") {
		writeErr(w, http.StatusNotFound, apiError{Code: "ResourceNotFound", Message: "not found"})
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		n, err := nic.Get(ctx, s.pctx(), mac)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewNic(n))

	case http.MethodPut:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		n, err := nic.Update(ctx, s.pctx(), mac, bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewNic(n))

	case http.MethodDelete:
		if err := nic.Delete(ctx, s.pctx(), mac); err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}
