package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"afripay.org/internal/access"
	"afripay.org/internal/permission"
	"afripay.org/internal/user"
)

type createAccessRequest struct {
	TargetUserID  string   `json:"target_user_id"`
	Codes         []string `json:"requested_permissions"`
	Justification string   `json:"justification"`
	Urgency       string   `json:"urgency"`
}

type reviewAccessRequest struct {
	Reason string `json:"reason"`
}

type emergencyAccessRequest struct {
	TargetUserID  string   `json:"target_user_id"`
	Codes         []string `json:"permissions"`
	Justification string   `json:"justification"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	case http.MethodGet:
		a.listRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.workflow.Create(r.Context(), access.CreateParams{
		Requester:     p.Actor(clientIP(r), r.UserAgent()),
		TargetUserID:  req.TargetUserID,
		Codes:         req.Codes,
		Justification: req.Justification,
		Urgency:       access.Urgency(strings.ToUpper(strings.TrimSpace(req.Urgency))),
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/access-requests/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

// listRequests serves three views over the same collection: the pending
// review queue (managerial), the caller's own submissions, and requests
// targeting a given user.
func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("view") == "mine":
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		reqs, err := a.workflow.ListByRequester(r.Context(), p.UserID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs})
	case q.Get("target") != "":
		if _, ok := a.requireManagerial(w, r); !ok {
			return
		}
		reqs, err := a.workflow.ListForUser(r.Context(), q.Get("target"))
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs})
	default:
		if _, ok := a.requireManagerial(w, r); !ok {
			return
		}
		reqs, err := a.workflow.ListPending(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reqs})
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/access-requests/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		a.getRequest(w, r, parts[0])
	case 2:
		switch parts[1] {
		case "approve":
			a.reviewRequest(w, r, parts[0], true)
		case "reject":
			a.reviewRequest(w, r, parts[0], false)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	req, err := a.workflow.Get(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if req.RequesterID != p.UserID && req.TargetUserID != p.UserID && !user.Managerial(p.Role) {
		writeError(w, r, http.StatusForbidden, "not authorized to view this request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) reviewRequest(w http.ResponseWriter, r *http.Request, id string, approve bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.requireManagerial(w, r)
	if !ok {
		return
	}
	var req reviewAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor := p.Actor(clientIP(r), r.UserAgent())
	var (
		reviewed access.Request
		err      error
	)
	if approve {
		reviewed, err = a.workflow.Approve(r.Context(), id, actor, req.Reason)
	} else {
		reviewed, err = a.workflow.Reject(r.Context(), id, actor, req.Reason)
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewed)
}

func (a *API) handleEmergencyAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.requireManagerial(w, r)
	if !ok {
		return
	}
	var req emergencyAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := a.workflow.GrantEmergencyAccess(r.Context(), access.EmergencyParams{
		Grantor:       p.Actor(clientIP(r), r.UserAgent()),
		TargetUserID:  req.TargetUserID,
		Codes:         req.Codes,
		Justification: req.Justification,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"grants": grants})
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *access.MissingPermissionsError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":               missing.Error(),
			"missing_permissions": missing.Missing,
		})
	case errors.Is(err, access.ErrSoDViolation), errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrAlreadyReviewed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrExpired):
		writeError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, access.ErrNotFound), errors.Is(err, permission.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrInvalidInput), errors.Is(err, permission.ErrDeprecated), errors.Is(err, permission.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
