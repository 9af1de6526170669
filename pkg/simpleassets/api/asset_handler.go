package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// DefaultMaxUploadBytes bounds a single multipart upload
const DefaultMaxUploadBytes = 20 << 20

// AssetResponse is the response body for an asset
type AssetResponse struct {
	ID        string    `json:"id"`
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	AssetType string    `json:"asset_type"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	IsLink    bool      `json:"is_link"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RenameRequest is the request body for renaming an asset
type RenameRequest struct {
	Name string `json:"name"`
}

func toResponse(a *simpleassets.Asset) AssetResponse {
	return AssetResponse{
		ID:        a.ID.String(),
		OwnerType: string(a.Owner.Type),
		OwnerID:   a.Owner.ID,
		AssetType: string(a.Type),
		Name:      a.Name,
		URL:       a.URL,
		IsLink:    a.IsLinkBacked(),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toResponses(assets []*simpleassets.Asset) []AssetResponse {
	resp := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		resp = append(resp, toResponse(a))
	}
	return resp
}

// AssetHandler serves the asset lifecycle over HTTP. Every route expects an
// Identity in the request context.
type AssetHandler struct {
	service        simpleassets.Service
	maxUploadBytes int64
}

func NewAssetHandler(service simpleassets.Service) *AssetHandler {
	return &AssetHandler{service: service, maxUploadBytes: DefaultMaxUploadBytes}
}

// WithMaxUploadBytes overrides DefaultMaxUploadBytes
func (h *AssetHandler) WithMaxUploadBytes(n int64) *AssetHandler {
	h.maxUploadBytes = n
	return h
}

// Routes returns the routes for assets
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAssets)
	r.Post("/", h.CreateAsset)
	r.Post("/replace", h.ReplaceAsset)
	r.Get("/{id}", h.GetAsset)
	r.Patch("/{id}", h.RenameAsset)
	r.Delete("/{id}", h.DeleteAsset)

	return r
}

// ListAssets lists assets visible to the caller. ?owner=user or ?owner=team
// restricts the listing to one owner.
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var (
		assets []*simpleassets.Asset
		err    error
	)
	switch r.URL.Query().Get("owner") {
	case "":
		assets, err = h.service.ListVisibleAssets(r.Context(), identity.UserID, identity.TeamID)
	case string(simpleassets.OwnerTypeUser), string(simpleassets.OwnerTypeTeam):
		owner, oerr := ownerFor(identity, r.URL.Query().Get("owner"))
		if oerr != nil {
			writeServiceError(w, r, oerr)
			return
		}
		if owner.Type == simpleassets.OwnerTypeTeam {
			// the visible listing checks membership
			assets, err = h.service.ListVisibleAssets(r.Context(), identity.UserID, owner.ID)
			assets = filterOwner(assets, owner)
		} else {
			assets, err = h.service.ListAssets(r.Context(), owner)
		}
	default:
		writeError(w, r, http.StatusBadRequest, "validation_error", "owner must be 'user' or 'team'")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toResponses(assets))
}

// CreateAsset accepts multipart/form-data with fields asset_type, name,
// owner (user|team) and either a file part or link_url.
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, err := h.parseCreate(w, r, identity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	asset, err := h.service.CreateAsset(r.Context(), req)
	if err != nil {
		slog.Warn("Failed to create asset", "request_id", requestID(r), "owner", req.Owner.String(), "asset_type", req.Type, "error", err)
		writeServiceError(w, r, err)
		return
	}

	slog.Info("Asset created", "asset_id", asset.ID.String(), "owner", asset.Owner.String(), "asset_type", asset.Type)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResponse(asset))
}

// ReplaceAsset takes the same form as CreateAsset plus an optional
// replace_asset_id.
func (h *AssetHandler) ReplaceAsset(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, err := h.parseCreate(w, r, identity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	replace := simpleassets.ReplaceAssetRequest{CreateAssetRequest: req}
	if raw := r.FormValue("replace_asset_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeServiceError(w, r, &simpleassets.ValidationError{Field: "replace_asset_id", Reason: "must be a uuid"})
			return
		}
		replace.ReplaceAssetID = id
	}

	asset, err := h.service.ReplaceAsset(r.Context(), replace)
	if err != nil {
		slog.Warn("Failed to replace asset", "request_id", requestID(r), "owner", req.Owner.String(), "asset_type", req.Type, "error", err)
		writeServiceError(w, r, err)
		return
	}

	slog.Info("Asset replaced", "asset_id", asset.ID.String(), "owner", asset.Owner.String(), "asset_type", asset.Type)
	render.JSON(w, r, toResponse(asset))
}

// GetAsset returns one asset. ?owner selects the owner namespace.
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	identity, id, owner, ok := h.target(w, r)
	if !ok {
		return
	}

	asset, err := h.service.GetAsset(r.Context(), id, owner, identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, toResponse(asset))
}

// RenameAsset updates an asset's display name
func (h *AssetHandler) RenameAsset(w http.ResponseWriter, r *http.Request) {
	identity, id, owner, ok := h.target(w, r)
	if !ok {
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}

	asset, err := h.service.RenameAsset(r.Context(), id, owner, identity.UserID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, toResponse(asset))
}

// DeleteAsset deletes an asset and its blob
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	identity, id, owner, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAsset(r.Context(), id, owner, identity.UserID); err != nil {
		slog.Warn("Failed to delete asset", "request_id", requestID(r), "asset_id", id.String(), "error", err)
		writeServiceError(w, r, err)
		return
	}

	slog.Info("Asset deleted", "asset_id", id.String(), "owner", owner.String())
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssetHandler) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
	}
	return identity, ok
}

func (h *AssetHandler) target(w http.ResponseWriter, r *http.Request) (Identity, uuid.UUID, simpleassets.OwnerRef, bool) {
	identity, ok := h.identity(w, r)
	if !ok {
		return identity, uuid.Nil, simpleassets.OwnerRef{}, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "invalid asset id")
		return identity, uuid.Nil, simpleassets.OwnerRef{}, false
	}

	owner, err := ownerFor(identity, r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, r, err)
		return identity, uuid.Nil, simpleassets.OwnerRef{}, false
	}
	return identity, id, owner, true
}

func (h *AssetHandler) parseCreate(w http.ResponseWriter, r *http.Request, identity Identity) (simpleassets.CreateAssetRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return simpleassets.CreateAssetRequest{}, &simpleassets.ValidationError{Field: "body", Reason: "invalid multipart form: " + err.Error()}
	}

	owner, err := ownerFor(identity, r.FormValue("owner"))
	if err != nil {
		return simpleassets.CreateAssetRequest{}, err
	}

	req := simpleassets.CreateAssetRequest{
		Owner:        owner,
		ActingUserID: identity.UserID,
		Type:         simpleassets.AssetType(r.FormValue("asset_type")),
		Name:         r.FormValue("name"),
		LinkURL:      r.FormValue("link_url"),
		Features:     identity.Features,
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return req, &simpleassets.ValidationError{Field: "file", Reason: err.Error()}
	default:
		defer file.Close()
		content, err := readContent(file, header)
		if err != nil {
			return req, err
		}
		req.Content = content
		if req.Name == "" {
			req.Name = header.Filename
		}
	}
	return req, nil
}

func readContent(file multipart.File, header *multipart.FileHeader) (*simpleassets.Content, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &simpleassets.ValidationError{Field: "file", Reason: "failed to read upload"}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return &simpleassets.Content{
		Data:        data,
		ContentType: contentType,
		Extension:   filepath.Ext(header.Filename),
	}, nil
}

// ownerFor resolves the owner namespace of a request. Team ownership uses the
// caller's current team.
func ownerFor(identity Identity, kind string) (simpleassets.OwnerRef, error) {
	switch kind {
	case "", string(simpleassets.OwnerTypeUser):
		return simpleassets.UserOwner(identity.UserID), nil
	case string(simpleassets.OwnerTypeTeam):
		if identity.TeamID == "" {
			return simpleassets.OwnerRef{}, &simpleassets.ValidationError{Field: "owner", Reason: "no team selected"}
		}
		return simpleassets.TeamOwner(identity.TeamID), nil
	default:
		return simpleassets.OwnerRef{}, &simpleassets.ValidationError{Field: "owner", Reason: "must be 'user' or 'team'"}
	}
}

func filterOwner(assets []*simpleassets.Asset, owner simpleassets.OwnerRef) []*simpleassets.Asset {
	out := assets[:0]
	for _, a := range assets {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out
}
