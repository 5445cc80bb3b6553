package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lake-catalog/internal/service/catalog"
)

type createNamespaceBody struct {
	Name       string            `json:"name"`
	ParentID   string            `json:"parent_id"`
	Properties map[string]string `json:"properties"`
}

func (h *Handler) createNamespace(w http.ResponseWriter, r *http.Request) {
	var body createNamespaceBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	ns, err := h.catalog.CreateNamespace(r.Context(), catalog.CreateNamespaceRequest{
		WarehouseID: chi.URLParam(r, "warehouseID"),
		ParentID:    body.ParentID,
		Name:        body.Name,
		Properties:  body.Properties,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, namespaceToAPI(*ns))
}

func (h *Handler) listNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.catalog.ListNamespaces(r.Context(), chi.URLParam(r, "warehouseID"), r.URL.Query().Get("parent"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, r, h, namespaces, namespaceToAPI)
}

func (h *Handler) getNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := h.catalog.GetNamespace(r.Context(), chi.URLParam(r, "namespaceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaceToAPI(*ns))
}

type namespacePropertiesBody struct {
	Updates  map[string]string `json:"updates"`
	Removals []string          `json:"removals"`
}

func (h *Handler) updateNamespaceProperties(w http.ResponseWriter, r *http.Request) {
	var body namespacePropertiesBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	ns, err := h.catalog.UpdateNamespaceProperties(r.Context(), chi.URLParam(r, "namespaceID"), body.Updates, body.Removals)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaceToAPI(*ns))
}

func (h *Handler) dropNamespace(w http.ResponseWriter, r *http.Request) {
	recursive, err := boolParam(r, "recursive")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.DropNamespace(r.Context(), chi.URLParam(r, "namespaceID"), recursive); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
