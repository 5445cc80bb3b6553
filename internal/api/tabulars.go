package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/catalog"
	"lake-catalog/internal/service/location"
)

type createTableBody struct {
	Name          string                `json:"name"`
	Schema        domain.Schema         `json:"schema"`
	PartitionSpec *domain.PartitionSpec `json:"partition-spec,omitempty"`
	Properties    map[string]string     `json:"properties,omitempty"`
}

func (h *Handler) createTable(w http.ResponseWriter, r *http.Request) {
	var body createTableBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	access, err := dataAccess(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.catalog.CreateTable(r.Context(), domain.CreateTableRequest{
		NamespaceID:   chi.URLParam(r, "namespaceID"),
		Name:          body.Name,
		Schema:        body.Schema,
		PartitionSpec: body.PartitionSpec,
		Properties:    body.Properties,
	}, access)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loadToAPI(res))
}

type createViewBody struct {
	Name        string             `json:"name"`
	Schema      domain.Schema      `json:"schema"`
	ViewVersion domain.ViewVersion `json:"view-version"`
	Properties  map[string]string  `json:"properties,omitempty"`
}

func (h *Handler) createView(w http.ResponseWriter, r *http.Request) {
	var body createViewBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.catalog.CreateView(r.Context(), domain.CreateViewRequest{
		NamespaceID: chi.URLParam(r, "namespaceID"),
		Name:        body.Name,
		Schema:      body.Schema,
		Version:     body.ViewVersion,
		Properties:  body.Properties,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loadToAPI(res))
}

func (h *Handler) listTabulars(kind domain.TabularKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.catalog.ListTabulars(r.Context(), chi.URLParam(r, "namespaceID"), kind)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, r, h, items, tabularToAPI)
	}
}

func (h *Handler) loadTabular(kind domain.TabularKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access := domain.DataAccessNone
		if kind == domain.TabularTable {
			var err error
			if access, err = dataAccess(r); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
		res, err := h.catalog.LoadTabular(r.Context(), chi.URLParam(r, "tabularID"), kind, access)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loadToAPI(res))
	}
}

func (h *Handler) commit(kind domain.TabularKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body domain.CommitRequest
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		res, err := h.catalog.Commit(r.Context(), chi.URLParam(r, "tabularID"), kind, body)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, commitResponse{
			MetadataLocation: res.Pointer.MetadataLocation,
			Version:          res.Pointer.Version,
			Metadata:         res.Metadata,
		})
	}
}

func (h *Handler) dropTabular(kind domain.TabularKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purge, err := boolParam(r, "purge")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.catalog.DropTabular(r.Context(), chi.URLParam(r, "tabularID"), kind, purge); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type renameTabularBody struct {
	NamespaceID string `json:"namespace_id"`
	Name        string `json:"name"`
}

func (h *Handler) renameTabular(kind domain.TabularKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body renameTabularBody
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		t, err := h.catalog.RenameTabular(r.Context(), chi.URLParam(r, "tabularID"), kind, body.NamespaceID, body.Name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tabularToAPI(*t))
	}
}

type vendBody struct {
	Actions    []string `json:"actions"`
	Purpose    string   `json:"purpose"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

func (h *Handler) vendCredentials(w http.ResponseWriter, r *http.Request) {
	var body vendBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req := catalog.VendRequest{
		TableID: chi.URLParam(r, "tabularID"),
		TTL:     time.Duration(body.TTLSeconds) * time.Second,
	}
	var err error
	if req.Purpose, err = location.ParsePurpose(body.Purpose); err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, a := range body.Actions {
		sa, err := domain.ParseStorageAction(a)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req.Actions = append(req.Actions, sa)
	}
	cred, err := h.catalog.VendCredentials(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialToAPI(cred))
}

func loadToAPI(res *catalog.TabularResult) loadResponse {
	return loadResponse{
		Tabular:          tabularToAPI(*res.Tabular),
		MetadataLocation: res.Tabular.Pointer.MetadataLocation,
		Metadata:         res.Metadata,
		Credential:       credentialToAPI(res.Credential),
	}
}
