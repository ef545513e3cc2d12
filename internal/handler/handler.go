package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"oltscope/internal/adapter"
	"oltscope/internal/domain"
	"oltscope/internal/repository"
	"oltscope/internal/service"
)

// Refresher triggers hub refreshes and reports their outcomes
type Refresher interface {
	RefreshHub(ctx context.Context, address string) (*domain.RefreshOutcome, error)
	RefreshAll(ctx context.Context) *domain.CycleOutcome
	HubStatuses() []domain.HubStatus
}

// Sweeper probes a management subnet for unregistered hubs
type Sweeper interface {
	Sweep(ctx context.Context, cidr string) ([]adapter.Candidate, error)
}

// Handler serves the inventory API
type Handler struct {
	hubs    *service.HubService
	refresh Refresher
	sweeper Sweeper
}

// New creates a new handler
func New(hubs *service.HubService, refresh Refresher) *Handler {
	return &Handler{hubs: hubs, refresh: refresh}
}

// SetSweeper sets the subnet sweeper; without one the sweep endpoint
// answers 503
func (h *Handler) SetSweeper(s Sweeper) {
	h.sweeper = s
}

// Register wires the API routes onto mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hubs", h.ListHubs)
	mux.HandleFunc("POST /api/hubs", h.CreateHub)
	mux.HandleFunc("GET /api/hubs/{address}", h.GetHub)
	mux.HandleFunc("DELETE /api/hubs/{address}", h.DeleteHub)
	mux.HandleFunc("GET /api/hubs/{address}/info", h.HubInfo)
	mux.HandleFunc("GET /api/hubs/{address}/ports", h.HubPorts)
	mux.HandleFunc("GET /api/hubs/{address}/bindings", h.HubBindings)
	mux.HandleFunc("GET /api/hubs/{address}/ports/{index}/endpoints", h.PortEndpoints)
	mux.HandleFunc("POST /api/hubs/{address}/ports/{index}/bounce", h.BouncePort)
	mux.HandleFunc("POST /api/hubs/{address}/refresh", h.RefreshHub)
	mux.HandleFunc("POST /api/hubs/{address}/reboot", h.RebootHub)

	mux.HandleFunc("POST /api/refresh", h.RefreshAll)
	mux.HandleFunc("GET /api/status", h.Status)

	mux.HandleFunc("GET /api/endpoints/{serial}", h.GetEndpoint)
	mux.HandleFunc("POST /api/endpoints/{serial}/locate", h.LocateEndpoint)
	mux.HandleFunc("POST /api/endpoints/{serial}/reset", h.ResetEndpoint)

	mux.HandleFunc("GET /api/discoveries", h.Discoveries)
	mux.HandleFunc("POST /api/sweep", h.Sweep)
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, msg, details string, status int) {
	writeJSON(w, ErrorResponse{Error: msg, Details: details}, status)
}

// ListHubs returns all registered hubs
func (h *Handler) ListHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := h.hubs.ListHubs(r.Context())
	if err != nil {
		log.Printf("Failed to list hubs: %v", err)
		writeError(w, "Failed to list hubs", err.Error(), http.StatusInternalServerError)
		return
	}
	if hubs == nil {
		hubs = []domain.Hub{}
	}
	writeJSON(w, hubs, http.StatusOK)
}

// CreateHub registers a new hub
func (h *Handler) CreateHub(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Name      string `json:"name"`
		Community string `json:"community"`
		Vendor    string `json:"vendor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	hub := &domain.Hub{
		Address:   req.Address,
		Name:      req.Name,
		Community: req.Community,
		Vendor:    req.Vendor,
	}
	if err := h.hubs.AddHub(r.Context(), hub); err != nil {
		writeError(w, "Failed to create hub", err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, hub, http.StatusCreated)
}

// GetHub returns one hub
func (h *Handler) GetHub(w http.ResponseWriter, r *http.Request) {
	hub, err := h.hubs.GetHub(r.Context(), r.PathValue("address"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to get hub", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, hub, http.StatusOK)
}

// DeleteHub removes a hub and its cached inventory
func (h *Handler) DeleteHub(w http.ResponseWriter, r *http.Request) {
	if err := h.hubs.DeleteHub(r.Context(), r.PathValue("address")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to delete hub", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HubInfo returns live system scalars for a hub
func (h *Handler) HubInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.hubs.DeviceInfo(r.Context(), r.PathValue("address"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Hub did not answer", err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// HubPorts returns the cached port inventory of a hub
func (h *Handler) HubPorts(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if _, err := h.hubs.GetHub(r.Context(), address); err != nil {
		writeError(w, "Not found", err.Error(), http.StatusNotFound)
		return
	}
	ports, err := h.hubs.HubPorts(r.Context(), address)
	if err != nil {
		writeError(w, "Failed to list ports", err.Error(), http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []domain.Port{}
	}
	writeJSON(w, ports, http.StatusOK)
}

// HubBindings returns the cached bindings of a hub
func (h *Handler) HubBindings(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if _, err := h.hubs.GetHub(r.Context(), address); err != nil {
		writeError(w, "Not found", err.Error(), http.StatusNotFound)
		return
	}
	bindings, err := h.hubs.HubBindings(r.Context(), address)
	if err != nil {
		writeError(w, "Failed to list bindings", err.Error(), http.StatusInternalServerError)
		return
	}
	if bindings == nil {
		bindings = []domain.Binding{}
	}
	writeJSON(w, bindings, http.StatusOK)
}

// PortEndpoints returns the cached bindings on one port
func (h *Handler) PortEndpoints(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, "Invalid port index", err.Error(), http.StatusBadRequest)
		return
	}
	bindings, err := h.hubs.PortEndpoints(r.Context(), r.PathValue("address"), index)
	if err != nil {
		writeError(w, "Failed to list endpoints", err.Error(), http.StatusInternalServerError)
		return
	}
	if bindings == nil {
		bindings = []domain.Binding{}
	}
	writeJSON(w, bindings, http.StatusOK)
}

// RefreshHub triggers a refresh of one hub; a refresh already in
// flight for the hub answers 409
func (h *Handler) RefreshHub(w http.ResponseWriter, r *http.Request) {
	out, err := h.refresh.RefreshHub(r.Context(), r.PathValue("address"))
	if err != nil {
		if errors.Is(err, service.ErrHubBusy) {
			writeError(w, "Refresh already running", err.Error(), http.StatusConflict)
			return
		}
		writeError(w, "Failed to refresh hub", err.Error(), http.StatusInternalServerError)
		return
	}
	if !out.OK {
		writeJSON(w, out, http.StatusBadGateway)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

// RefreshAll triggers a fleet refresh cycle; an overlapping call
// answers 409 with the skipped outcome
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	out := h.refresh.RefreshAll(r.Context())
	if out.Skipped {
		writeJSON(w, out, http.StatusConflict)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

// Status reports the last refresh attempt per hub
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	statuses := h.refresh.HubStatuses()
	if statuses == nil {
		statuses = []domain.HubStatus{}
	}
	writeJSON(w, statuses, http.StatusOK)
}

// RebootHub asks a hub to restart
func (h *Handler) RebootHub(w http.ResponseWriter, r *http.Request) {
	if err := h.hubs.RebootHub(r.Context(), r.PathValue("address")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to reboot hub", err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"status": "reboot requested"}, http.StatusAccepted)
}

// BouncePort flaps one hub port
func (h *Handler) BouncePort(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, "Invalid port index", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.hubs.BouncePort(r.Context(), r.PathValue("address"), index); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to bounce port", err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"status": "port bounced"}, http.StatusOK)
}

// GetEndpoint returns cache plus live detail for one serial
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	detail, err := h.hubs.EndpointDetail(r.Context(), r.PathValue("serial"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to look up endpoint", err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, detail, http.StatusOK)
}

// LocateEndpoint live-scans the fleet for a serial and rewrites its
// cached binding
func (h *Handler) LocateEndpoint(w http.ResponseWriter, r *http.Request) {
	binding, err := h.hubs.LocateEndpoint(r.Context(), r.PathValue("serial"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to locate endpoint", err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, binding, http.StatusOK)
}

// ResetEndpoint power-cycles one endpoint
func (h *Handler) ResetEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.hubs.ResetEndpoint(r.Context(), r.PathValue("serial")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "Failed to reset endpoint", err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"status": "reset requested"}, http.StatusAccepted)
}

// Discoveries returns the recent-discovery feed, newest first
func (h *Handler) Discoveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "Invalid limit", err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	feed, err := h.hubs.RecentDiscoveries(r.Context(), limit)
	if err != nil {
		writeError(w, "Failed to list discoveries", err.Error(), http.StatusInternalServerError)
		return
	}
	if feed == nil {
		feed = []domain.Discovery{}
	}
	writeJSON(w, feed, http.StatusOK)
}

// Sweep probes a management subnet for candidate hubs
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, "Sweep not available", "no sweeper configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		CIDR string `json:"cidr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.CIDR == "" {
		writeError(w, "Invalid request", "cidr is required", http.StatusBadRequest)
		return
	}

	candidates, err := h.sweeper.Sweep(r.Context(), req.CIDR)
	if err != nil {
		writeError(w, "Sweep failed", err.Error(), http.StatusInternalServerError)
		return
	}
	if candidates == nil {
		candidates = []adapter.Candidate{}
	}
	writeJSON(w, candidates, http.StatusOK)
}
