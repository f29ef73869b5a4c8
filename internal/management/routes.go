package management

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/routetunnel/relay/internal/registry"
	"github.com/routetunnel/relay/internal/store"
)

// Routes wires the registry and route store into the /api/tunnels HTTP
// surface.
type Routes struct {
	registry   *registry.Registry
	store      store.RouteStore
	publicBase string
	wsBase     string
}

// NewRoutes creates a Routes handler set. publicBase/wsBase are the
// already-resolved base URLs from Config.BaseURLs.
func NewRoutes(reg *registry.Registry, st store.RouteStore, publicBase, wsBase string) *Routes {
	return &Routes{registry: reg, store: st, publicBase: publicBase, wsBase: wsBase}
}

type createTunnelRequest struct {
	Route       string `json:"route"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public,omitempty"`
}

type createTunnelResponse struct {
	Route     string `json:"route"`
	Token     string `json:"token"`
	PublicURL string `json:"public_url"`
	WSURL     string `json:"ws_url"`
}

// CreateTunnel handles POST /api/tunnels.
func (rt *Routes) CreateTunnel(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var body createTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_, token, err := rt.registry.CreateRoute(body.Route, body.Description)
	if err != nil {
		var regErr *registry.Error
		if errors.As(err, &regErr) && regErr.Kind == registry.KindRouteExists {
			http.Error(w, "route already exists", http.StatusConflict)
			return
		}
		http.Error(w, "invalid route name", http.StatusBadRequest)
		return
	}

	now := time.Now()
	rec := &store.Record{
		Route:       body.Route,
		Token:       token,
		Description: body.Description,
		UserID:      userID,
		IsPublic:    body.IsPublic,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := rt.store.Create(r.Context(), rec); err != nil {
		rt.registry.DeleteRoute(body.Route)
		if errors.Is(err, store.ErrRouteExists) {
			http.Error(w, "route already exists", http.StatusConflict)
			return
		}
		slog.Error("persisting route record failed", "route", body.Route, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, createTunnelResponse{
		Route:     body.Route,
		Token:     token,
		PublicURL: fmt.Sprintf("%s/r/%s", rt.publicBase, body.Route),
		WSURL:     fmt.Sprintf("%s/api/tunnels/ws/tunnel?token=%s", rt.wsBase, token),
	})
}

// TunnelInfo is the shape returned by the list endpoints, merging a
// persisted record with whatever live Registry state is available.
type TunnelInfo struct {
	Route       string     `json:"route"`
	Connected   bool       `json:"connected"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	Description string     `json:"description,omitempty"`
	IsPublic    bool       `json:"is_public"`
}

func (rt *Routes) mergeInfo(rec store.Record) TunnelInfo {
	info := TunnelInfo{
		Route:       rec.Route,
		CreatedAt:   rec.CreatedAt,
		Description: rec.Description,
		IsPublic:    rec.IsPublic,
		LastSeen:    rec.LastConnectedAt,
	}
	if session := rt.registry.GetSession(rec.Route); session != nil {
		snap := session.Snapshot()
		info.Connected = snap.Connected
		info.CreatedAt = snap.CreatedAt
		if snap.LastSeen != nil {
			info.LastSeen = snap.LastSeen
		}
		if snap.Description != "" {
			info.Description = snap.Description
		}
	}
	return info
}

type listTunnelsResponse struct {
	Tunnels []TunnelInfo `json:"tunnels"`
}

// ListTunnels handles GET /api/tunnels: the caller's own routes.
func (rt *Routes) ListTunnels(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	records, err := rt.store.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	infos := make([]TunnelInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, rt.mergeInfo(rec))
	}
	writeJSON(w, http.StatusOK, listTunnelsResponse{Tunnels: infos})
}

// ListPublicTunnels handles GET /api/tunnels/public: unauthenticated.
func (rt *Routes) ListPublicTunnels(w http.ResponseWriter, r *http.Request) {
	records, err := rt.store.ListPublic(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	infos := make([]TunnelInfo, 0, len(records))
	for _, rec := range records {
		info := rt.mergeInfo(rec)
		info.IsPublic = true
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, listTunnelsResponse{Tunnels: infos})
}

type deleteTunnelResponse struct {
	Route   string `json:"route"`
	Removed bool   `json:"removed"`
}

// DeleteTunnel handles DELETE /api/tunnels/{route}.
func (rt *Routes) DeleteTunnel(w http.ResponseWriter, r *http.Request) {
	route := r.PathValue("route")
	userID, _ := userIDFromContext(r.Context())

	rec, err := rt.store.GetByRoute(r.Context(), route)
	if err != nil {
		slog.Error("looking up route record failed", "route", route, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}
	if rec.UserID != userID {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}

	storeRemoved, err := rt.store.Delete(r.Context(), route)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	registryRemoved := rt.registry.DeleteRoute(route)

	if !storeRemoved && !registryRemoved {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, deleteTunnelResponse{Route: route, Removed: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding json response failed", "err", err)
	}
}
