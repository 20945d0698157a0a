package api

import (
	"net/http"
	"strings"

	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
)

// GET/POST /network_pools
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		pools, err := network.ListPools(ctx, s.pctx(), r.URL.Query().Get("nic_tag"))
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		out := make([]poolView, 0, len(pools))
		for _, p := range pools {
			out = append(out, viewPool(p))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		p, err := network.CreatePool(ctx, s.pctx(), bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewPool(p))

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}

// GET/PUT/DELETE /network_pools/{uuid}
func (s *Server) handlePoolSubroutes(w http.ResponseWriter, r *http.Request) {
	uuid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/network_pools/"), "/")
	if uuid == "" || strings.Contains(uuid, "/") {
		writeErr(w, http.StatusNotFound, apiError{Code: "ResourceNotFound", Message: "not found"})
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		p, err := network.GetPool(ctx, s.pctx(), uuid)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewPool(p))

	case http.MethodPut:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		p, err := network.UpdatePool(ctx, s.pctx(), uuid, bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewPool(p))

	case http.MethodDelete:
		if err := network.DeletePool(ctx, s.pctx(), uuid); err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}
