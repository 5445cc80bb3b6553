package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lake-catalog/internal/domain"
)

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	object, err := parseObject(q.Get("object_kind"), q.Get("object_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tuples, err := h.catalog.ListGrants(r.Context(), object)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, r, h, tuples, tupleToAPI)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.changeGrant(w, r, h.catalog.Grant)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.changeGrant(w, r, h.catalog.Revoke)
}

func (h *Handler) changeGrant(w http.ResponseWriter, r *http.Request, apply func(context.Context, domain.Tuple) error) {
	var body tupleJSON
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := body.toDomain()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), t); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createAPIKeyBody struct {
	SubjectID string     `json:"subject_id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var body createAPIKeyBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	raw, key, err := h.apiKeys.Create(r.Context(), domain.CreateAPIKeyRequest{
		SubjectID: body.SubjectID,
		Name:      body.Name,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := apiKeyToAPI(*key)
	out.Key = raw
	writeJSON(w, http.StatusCreated, out)
}

// subjectParam returns the subject_id query parameter, defaulting to the caller.
func subjectParam(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("subject_id"); id != "" {
		return id, nil
	}
	s, ok := domain.SubjectFromContext(r.Context())
	if !ok {
		return "", domain.ErrUnauthenticated("no authenticated subject")
	}
	return s.ID, nil
}

func (h *Handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	subjectID, err := subjectParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	keys, err := h.apiKeys.List(r.Context(), subjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, r, h, keys, apiKeyToAPI)
}

func (h *Handler) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	subjectID, err := subjectParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.apiKeys.Delete(r.Context(), subjectID, chi.URLParam(r, "apiKeyID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := domain.AuditFilter{
		Subject:  optional(q.Get("subject")),
		Action:   optional(q.Get("action")),
		Status:   optional(q.Get("status")),
		ObjectID: optional(q.Get("object_id")),
		Page:     page,
	}
	entries, total, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	next := ""
	if end := page.Offset() + len(entries); int64(end) < total {
		next = domain.EncodePageToken(end)
	}
	writeJSON(w, http.StatusOK, listResponse[auditEntryJSON]{Items: mapList(entries, auditToAPI), NextPageToken: next})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
