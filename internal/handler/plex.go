package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/plex-auth-server/internal/audit"
	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/service"
)

// OAuthFlow is the pairing and credential surface of service.OAuthService.
type OAuthFlow interface {
	CreatePairing(ctx context.Context, clientID string) (*model.CreatedPairing, error)
	CheckPairing(ctx context.Context, pinID string) (*model.PairingStatus, error)
	ValidateStoredCredential(ctx context.Context) (*model.ValidationResult, error)
	Status(ctx context.Context) (*model.AuthStatus, error)
	Logout(ctx context.Context) error
}

// ServerDiscovery is the surface of service.DiscoveryService.
type ServerDiscovery interface {
	ListServers(ctx context.Context) ([]model.ServerDescriptor, error)
	TestConnection(ctx context.Context, uri string) (*model.ConnectionTestResult, error)
	SelectServer(ctx context.Context, server model.SelectedServer) (*model.SelectedServer, error)
	SelectedServer(ctx context.Context) (*model.SelectedServer, error)
}

var (
	_ OAuthFlow       = (*service.OAuthService)(nil)
	_ ServerDiscovery = (*service.DiscoveryService)(nil)
)

type PlexHandler struct {
	oauth      OAuthFlow
	discovery  ServerDiscovery
	pinLimiter func(http.Handler) http.Handler
}

// NewPlexHandler wires the routes under /api/plex. pinLimiter wraps pin
// creation only; nil disables it.
func NewPlexHandler(oauth OAuthFlow, discovery ServerDiscovery, pinLimiter func(http.Handler) http.Handler) *PlexHandler {
	return &PlexHandler{
		oauth:      oauth,
		discovery:  discovery,
		pinLimiter: pinLimiter,
	}
}

func (h *PlexHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/oauth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.pinLimiter != nil {
				r.Use(h.pinLimiter)
			}
			r.Post("/pin", h.CreatePin)
		})
		r.Get("/pin/{pinId}/check", h.CheckPin)
		r.Get("/validate", h.Validate)
		r.Get("/status", h.Status)
		r.Get("/servers", h.ListServers)
		r.Post("/logout", h.Logout)
	})
	r.Post("/test-connection", h.TestConnection)
	r.Post("/select-server", h.SelectServer)
	r.Get("/selected-server", h.SelectedServer)

	return r
}

// POST /api/plex/oauth/pin
func (h *PlexHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"clientId"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.oauth.CreatePairing(r.Context(), req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPairingCreate,
		PinID:   created.ID,
		Details: map[string]any{"clientId": created.ClientID},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"pinId":     created.ID,
		"code":      created.Code,
		"clientId":  created.ClientID,
		"authUrl":   created.AuthURL,
		"expiresAt": created.ExpiresAt.Format(time.RFC3339),
	})
}

// GET /api/plex/oauth/pin/{pinId}/check
func (h *PlexHandler) CheckPin(w http.ResponseWriter, r *http.Request) {
	pinID := chi.URLParam(r, "pinId")
	if pinID == "" {
		writeError(w, apperrors.MissingRequired("pinId"))
		return
	}

	status, err := h.oauth.CheckPairing(r.Context(), pinID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodePinExpired) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingExpired, PinID: pinID})
		}
		writeError(w, err)
		return
	}

	if status.Authenticated {
		audit.LogFromRequest(r, audit.Event{
			Type:     audit.EventPairingAuthorized,
			PinID:    pinID,
			Username: status.Username,
		})
	}

	writeJSON(w, http.StatusOK, status)
}

// GET /api/plex/oauth/validate
// Always 200; validity is in the body.
func (h *PlexHandler) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.oauth.ValidateStoredCredential(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if !result.Valid && result.Code != "NO_TOKEN" {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventCredentialInvalid,
			Details: map[string]any{"code": result.Code},
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /api/plex/oauth/status
func (h *PlexHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.oauth.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GET /api/plex/oauth/servers
func (h *PlexHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.discovery.ListServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// POST /api/plex/oauth/logout
func (h *PlexHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.oauth.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /api/plex/test-connection
func (h *PlexHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.discovery.TestConnection(r.Context(), req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/plex/select-server
func (h *PlexHandler) SelectServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineIdentifier string `json:"machineIdentifier"`
		Name              string `json:"name"`
		Connection        struct {
			URI   string `json:"uri"`
			Local bool   `json:"local"`
		} `json:"connection"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	server, err := h.discovery.SelectServer(r.Context(), model.SelectedServer{
		MachineIdentifier: req.MachineIdentifier,
		Name:              req.Name,
		URI:               req.Connection.URI,
		Local:             req.Connection.Local,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type: audit.EventServerSelect,
		Details: map[string]any{
			"machineIdentifier": server.MachineIdentifier,
			"local":             server.Local,
		},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"server":  server,
	})
}

// GET /api/plex/selected-server
func (h *PlexHandler) SelectedServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.discovery.SelectedServer(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}
