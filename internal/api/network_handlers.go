package api

import (
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
	"github.com/joshwilsdon-forks/sdc-napi/internal/nic"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
)

// GET/POST /networks
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		opts := network.ListOpts{
			NicTag:    r.URL.Query().Get("nic_tag"),
			OwnerUUID: r.URL.Query().Get("owner_uuid"),
		}
		if v := r.URL.Query().Get("vlan_id"); v != "" {
			vlan, err := strconv.Atoi(v)
			if err != nil {
				s.writeEngineErr(w, r, params.Invalid("vlan_id", "must be an integer", v))
				return
			}
			opts.VLANID = &vlan
		}
		if v := r.URL.Query().Get("fabric"); v != "" {
			fabric := v == "true"
			opts.Fabric = &fabric
		}
		opts.Limit, opts.Offset = pageParams(r)
		nets, err := network.List(ctx, s.pctx(), opts)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		out := make([]networkView, 0, len(nets))
		for _, n := range nets {
			out = append(out, viewNetwork(n))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		n, err := network.Create(ctx, s.pctx(), bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewNetwork(n))

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}

// handleNetworkSubroutes dispatches /networks/{uuid} and
// /networks/{uuid}/ips[/{addr}].
func (s *Server) handleNetworkSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/networks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleNetwork(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "ips":
		s.handleNetworkIPs(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "ips":
		s.handleNetworkIP(w, r, parts[0], parts[2])
	default:
		writeErr(w, http.StatusNotFound, apiError{Code: "ResourceNotFound", Message: "not found"})
	}
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request, uuid string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		n, err := network.Get(ctx, s.pctx(), uuid)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewNetwork(n))

	case http.MethodPut:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		n, err := network.Update(ctx, s.pctx(), uuid, bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewNetwork(n))

	case http.MethodDelete:
		if err := network.Delete(ctx, s.pctx(), nic.BucketNics.Name, uuid); err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}

// GET /networks/{uuid}/ips
func (s *Server) handleNetworkIPs(w http.ResponseWriter, r *http.Request, uuid string) {
	ctx := r.Context()
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
		return
	}
	n, err := network.Get(ctx, s.pctx(), uuid)
	if err != nil {
		s.writeEngineErr(w, r, err)
		return
	}
	recs, err := ip.List(ctx, s.pctx(), n.IPRef())
	if err != nil {
		s.writeEngineErr(w, r, err)
		return
	}
	out := make([]ipView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewIP(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET/PUT/DELETE /networks/{uuid}/ips/{addr}
func (s *Server) handleNetworkIP(w http.ResponseWriter, r *http.Request, uuid, addrStr string) {
	ctx := r.Context()
	n, err := network.Get(ctx, s.pctx(), uuid)
	if err != nil {
		s.writeEngineErr(w, r, err)
		return
	}
	addr, err := netip.ParseAddr(addrStr)
	if err != nil || !addr.Is4() {
		s.writeEngineErr(w, r, params.Invalid("ip", "invalid IP address", addrStr))
		return
	}
	if !n.Contains(addr) {
		s.writeEngineErr(w, r, params.Invalid("ip", "IP is not in the subnet", addr.String()))
		return
	}
	ref := n.IPRef()

	switch r.Method {
	case http.MethodGet:
		rec, err := ip.Get(ctx, s.pctx(), ref, addr)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewIP(rec))

	case http.MethodPut:
		bag, err := decodeBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, apiError{Code: "InvalidJSON", Message: "malformed request body"})
			return
		}
		rec, err := ip.Update(ctx, s.pctx(), ref, addr, bag)
		if err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		if rec.BelongsToUUID != "" {
			s.metrics.RecordIPProvisioned()
		}
		writeJSON(w, http.StatusOK, viewIP(rec))

	case http.MethodDelete:
		if _, err := ip.Delete(ctx, s.pctx(), ref, addr); err != nil {
			s.writeEngineErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, apiError{Code: "MethodNotAllowed", Message: "method not allowed"})
	}
}

// pageParams parses limit/offset query parameters, zero when absent.
func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
