package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimbusid/authgateway/pkg/crypto"
	pkghttp "github.com/nimbusid/authgateway/pkg/http"
	"github.com/nimbusid/authgateway/storage"
)

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func (h *handler) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.cfg.Store.ListClients(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to list clients")
		return
	}
	for i := range clients {
		clients[i].SecretHash = ""
	}
	pkghttp.WriteJSON(w, http.StatusOK, clients)
}

func (h *handler) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.cfg.Store.GetClient(r.Context(), pathID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "no such client")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to load client")
		return
	}
	c.SecretHash = ""
	pkghttp.WriteJSON(w, http.StatusOK, c)
}

type createClientRequest struct {
	Name           string   `json:"name"`
	Public         bool     `json:"public"`
	RedirectURIs   []string `json:"redirect_uris"`
	GrantTypes     []string `json:"grant_types"`
	Scopes         []string `json:"scopes"`
	ProjectScope   string   `json:"project_scope"`
	RequirePKCE    bool     `json:"require_pkce"`
	AllowPlainPKCE bool     `json:"allow_plain_pkce"`
	MachineScopes  []string `json:"machine_scopes"`
}

type createClientResponse struct {
	storage.Client
	ClientSecret string `json:"client_secret,omitempty"`
}

func (h *handler) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	c := storage.Client{
		ID:             storage.NewID(),
		Name:           req.Name,
		Public:         req.Public,
		RedirectURIs:   req.RedirectURIs,
		GrantTypes:     req.GrantTypes,
		Scopes:         req.Scopes,
		ProjectScope:   req.ProjectScope,
		RequirePKCE:    req.RequirePKCE,
		AllowPlainPKCE: req.AllowPlainPKCE,
		MachineScopes:  req.MachineScopes,
		CreatedAt:      time.Now().UTC(),
	}

	var plaintextSecret string
	if !req.Public {
		secret, err := crypto.NewOpaqueToken()
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to generate client secret")
			return
		}
		hash, err := crypto.HashAPIKey(secret)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to hash client secret")
			return
		}
		c.SecretHash = hash
		plaintextSecret = secret
	}

	if err := h.cfg.Store.CreateClient(r.Context(), c); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to create client")
		return
	}
	c.SecretHash = ""
	pkghttp.WriteJSON(w, http.StatusCreated, createClientResponse{Client: c, ClientSecret: plaintextSecret})
}

type updateClientRequest struct {
	Name           *string   `json:"name"`
	RedirectURIs   *[]string `json:"redirect_uris"`
	GrantTypes     *[]string `json:"grant_types"`
	Scopes         *[]string `json:"scopes"`
	RequirePKCE    *bool     `json:"require_pkce"`
	AllowPlainPKCE *bool     `json:"allow_plain_pkce"`
	MachineScopes  *[]string `json:"machine_scopes"`
}

func (h *handler) updateClient(w http.ResponseWriter, r *http.Request) {
	var req updateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	err := h.cfg.Store.UpdateClient(r.Context(), pathID(r), func(old storage.Client) (storage.Client, error) {
		if req.Name != nil {
			old.Name = *req.Name
		}
		if req.RedirectURIs != nil {
			old.RedirectURIs = *req.RedirectURIs
		}
		if req.GrantTypes != nil {
			old.GrantTypes = *req.GrantTypes
		}
		if req.Scopes != nil {
			old.Scopes = *req.Scopes
		}
		if req.RequirePKCE != nil {
			old.RequirePKCE = *req.RequirePKCE
		}
		if req.AllowPlainPKCE != nil {
			old.AllowPlainPKCE = *req.AllowPlainPKCE
		}
		if req.MachineScopes != nil {
			old.MachineScopes = *req.MachineScopes
		}
		return old, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "no such client")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to update client")
		return
	}

	h.cfg.Cache.InvalidateClient(r.Context(), pathID(r))
	c, err := h.cfg.Store.GetClient(r.Context(), pathID(r))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to reload client")
		return
	}
	c.SecretHash = ""
	pkghttp.WriteJSON(w, http.StatusOK, c)
}

func ownerFromRequest(r *http.Request) string {
	return r.URL.Query().Get("owner")
}

func (h *handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.cfg.APIKeys.List(r.Context(), ownerFromRequest(r))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to list api keys")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, keys)
}

type createAPIKeyRequest struct {
	Owner    string   `json:"owner"`
	Name     string   `json:"name"`
	Scopes   []string `json:"scopes"`
	TTLHours int      `json:"ttl_hours"`
}

func (h *handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	created, err := h.cfg.APIKeys.Create(r.Context(), req.Owner, req.Name, req.Scopes, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to create api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, apiKeyPayload{APIKey: created.Key, Key: created.Plaintext})
}

// apiKeyPayload surfaces the plaintext key exactly once, at creation or
// rotation time; every other read returns storage.APIKey alone.
type apiKeyPayload struct {
	storage.APIKey
	Key string `json:"key,omitempty"`
}

func (h *handler) getAPIKey(w http.ResponseWriter, r *http.Request) {
	k, err := h.cfg.APIKeys.Get(r.Context(), pathID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "no such api key")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to load api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, k)
}

func (h *handler) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.APIKeys.Revoke(r.Context(), pathID(r), ownerFromRequest(r)); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to revoke api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	created, err := h.cfg.APIKeys.Rotate(r.Context(), pathID(r), ownerFromRequest(r))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to rotate api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, apiKeyPayload{APIKey: created.Key, Key: created.Plaintext})
}
