package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/catalog"
)

type createProjectBody struct {
	Name string `json:"name"`
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.catalog.CreateProject(r.Context(), body.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectToAPI(*p))
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.catalog.ListProjects(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, r, h, projects, projectToAPI)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectToAPI(*p))
}

type createWarehouseBody struct {
	Name                    string             `json:"name"`
	StorageProfile          storageProfileJSON `json:"storage_profile"`
	DeleteProfile           string             `json:"delete_profile"`
	MaxCredentialTTLSeconds int64              `json:"max_credential_ttl_seconds"`
	Protected               bool               `json:"protected"`
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var body createWarehouseBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	wh, err := h.catalog.CreateWarehouse(r.Context(), catalog.CreateWarehouseRequest{
		ProjectID:        chi.URLParam(r, "projectID"),
		Name:             body.Name,
		StorageProfile:   body.StorageProfile.toDomain(),
		DeleteProfile:    domain.DeleteProfile(body.DeleteProfile),
		MaxCredentialTTL: time.Duration(body.MaxCredentialTTLSeconds) * time.Second,
		Protected:        body.Protected,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, warehouseToAPI(*wh))
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	var status *domain.WarehouseStatus
	switch s := domain.WarehouseStatus(r.URL.Query().Get("status")); s {
	case "":
	case domain.WarehouseActive, domain.WarehouseInactive:
		status = &s
	default:
		h.writeError(w, r, domain.ErrValidation("unknown warehouse status %q", s))
		return
	}
	warehouses, err := h.catalog.ListWarehouses(r.Context(), chi.URLParam(r, "projectID"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, r, h, warehouses, warehouseToAPI)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	h.respondWarehouse(w, r)(h.catalog.GetWarehouse(r.Context(), chi.URLParam(r, "warehouseID")))
}

type renameBody struct {
	Name string `json:"name"`
}

func (h *Handler) renameWarehouse(w http.ResponseWriter, r *http.Request) {
	var body renameBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondWarehouse(w, r)(h.catalog.RenameWarehouse(r.Context(), chi.URLParam(r, "warehouseID"), body.Name))
}

func (h *Handler) activateWarehouse(w http.ResponseWriter, r *http.Request) {
	h.respondWarehouse(w, r)(h.catalog.ActivateWarehouse(r.Context(), chi.URLParam(r, "warehouseID")))
}

func (h *Handler) deactivateWarehouse(w http.ResponseWriter, r *http.Request) {
	h.respondWarehouse(w, r)(h.catalog.DeactivateWarehouse(r.Context(), chi.URLParam(r, "warehouseID")))
}

func (h *Handler) updateStorageProfile(w http.ResponseWriter, r *http.Request) {
	var body storageProfileJSON
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondWarehouse(w, r)(h.catalog.UpdateStorageProfile(r.Context(), chi.URLParam(r, "warehouseID"), body.toDomain()))
}

type protectionBody struct {
	Protected bool `json:"protected"`
}

func (h *Handler) setProtection(w http.ResponseWriter, r *http.Request) {
	var body protectionBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondWarehouse(w, r)(h.catalog.SetWarehouseProtection(r.Context(), chi.URLParam(r, "warehouseID"), body.Protected))
}

func (h *Handler) deleteWarehouse(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.DeleteWarehouse(r.Context(), chi.URLParam(r, "warehouseID"), force); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWarehouse writes the result of a warehouse operation.
func (h *Handler) respondWarehouse(w http.ResponseWriter, r *http.Request) func(*domain.Warehouse, error) {
	return func(wh *domain.Warehouse, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, warehouseToAPI(*wh))
	}
}
