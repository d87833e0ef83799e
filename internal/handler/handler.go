// Package handler contains the HTTP handlers for the reservoir's ops
// surface: health, aggregate statistics, and an ad-hoc debug query
// endpoint for inspecting live queues without a separate admin tool.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/internal/reservoir"
)

// OpsHandler serves /health, /stats, and /debug/query against the
// live depot and route reservoirs.
type OpsHandler struct {
	depot *reservoir.DepotReservoir
	route *reservoir.RouteReservoir
}

// NewOpsHandler wires the handler to both reservoirs.
func NewOpsHandler(depot *reservoir.DepotReservoir, route *reservoir.RouteReservoir) *OpsHandler {
	return &OpsHandler{depot: depot, route: route}
}

// Health handles GET /health — a liveness probe with no dependency
// checks, matching the teacher's pattern of a process-level health
// endpoint distinct from the readiness checks performed at startup.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Depot reservoir.StatsSnapshot `json:"depot"`
	Route reservoir.StatsSnapshot `json:"route"`
}

// Stats handles GET /stats.
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Depot: h.depot.Stats(),
		Route: h.route.Stats(),
	})
}

// DebugQuery handles
// GET /debug/query?kind=depot|route&route=R1&depot=D1&lat=..&lon=..&radius_m=..&max=..&direction=INBOUND
func (h *OpsHandler) DebugQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_lat_lon"})
		return
	}
	loc := model.GeoPoint{Lat: lat, Lon: lon}

	radiusM := parseFloatDefault(q.Get("radius_m"), 500)
	maxCount := parseIntDefault(q.Get("max"), 20)
	route := q.Get("route")

	switch q.Get("kind") {
	case "depot":
		depotID := q.Get("depot")
		if depotID == "" || route == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "depot_and_route_required"})
			return
		}
		results := h.depot.QueryCommuters(depotID, route, loc, radiusM, maxCount)
		writeJSON(w, http.StatusOK, map[string]interface{}{"commuters": results})
	case "route":
		if route == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "route_required"})
			return
		}
		direction := model.Direction(q.Get("direction"))
		if direction == "" {
			direction = model.Inbound
		}
		results := h.route.QueryCommuters(route, loc, direction, radiusM, maxCount)
		writeJSON(w, http.StatusOK, map[string]interface{}{"commuters": results})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind_must_be_depot_or_route"})
	}
}

// RegisterRoutes wires every ops endpoint onto router.
func (h *OpsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	router.HandleFunc("/debug/query", h.DebugQuery).Methods(http.MethodGet)
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
