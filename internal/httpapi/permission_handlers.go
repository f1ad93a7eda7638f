package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"afripay.org/internal/permission"
)

type createPermissionRequest struct {
	Code            string `json:"code"`
	Description     string `json:"description"`
	Department      string `json:"department"`
	Version         string `json:"version"`
	ReplacementCode string `json:"replacement_code"`
}

type deprecatePermissionRequest struct {
	ReplacementCode string `json:"replacement_code"`
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPermissions(w, r)
	case http.MethodPost:
		a.createPermission(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	filter := permission.ListFilter{
		Department: strings.TrimSpace(r.URL.Query().Get("department")),
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
	}
	switch r.URL.Query().Get("deprecated") {
	case "true":
		v := true
		filter.Deprecated = &v
	case "false":
		v := false
		filter.Deprecated = &v
	}
	codes, err := a.registry.List(r.Context(), filter)
	if err != nil {
		handlePermissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": codes})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code, err := a.registry.Create(r.Context(), permission.Code{
		Code:            req.Code,
		Description:     req.Description,
		Department:      req.Department,
		Version:         req.Version,
		ReplacementCode: req.ReplacementCode,
		CreatedBy:       p.UserID,
	}, p.Actor(clientIP(r), r.UserAgent()))
	if err != nil {
		handlePermissionError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", code.Code))
	writeJSON(w, http.StatusCreated, code)
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if code, ok := strings.CutSuffix(path, "/deprecate"); ok {
		a.deprecatePermission(w, r, strings.Trim(code, "/"))
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	code, err := a.registry.Get(r.Context(), path)
	if err != nil {
		handlePermissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (a *API) deprecatePermission(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	var req deprecatePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.registry.Deprecate(r.Context(), code, req.ReplacementCode, p.Actor(clientIP(r), r.UserAgent())); err != nil {
		handlePermissionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handlePermissionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, permission.ErrInvalidInput), errors.Is(err, permission.ErrDeprecated):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, permission.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, permission.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
