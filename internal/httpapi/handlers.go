package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roadwatch.org/internal/audit"
	"roadwatch.org/internal/obs"
	"roadwatch.org/internal/stream"
	"roadwatch.org/internal/verification"
)

type createRequestBody struct {
	IncidentID  string `json:"incident_id"`
	RequestType string `json:"request_type"`
	Priority    string `json:"priority_level"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RequestedBy string `json:"requested_by"`
}

type assignBody struct {
	VerifierID string `json:"verifier_id"`
	AssignedBy string `json:"assigned_by"`
}

type decisionBody struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
	Reason  string `json:"reason"`
}

type priorityBody struct {
	Priority string `json:"priority_level"`
	ActorID  string `json:"actor_id"`
}

type listResponse struct {
	Requests []verification.VerificationRequest `json:"requests"`
	Total    int                                `json:"total"`
	Limit    int                                `json:"limit"`
	Offset   int                                `json:"offset"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	case http.MethodGet:
		a.listRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, sub, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(sub, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRequest(w, r, id)
	case "timeline":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getTimeline(w, r, id)
	case "assign", "approve", "reject", "request-info", "priority":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.applyAction(w, r, id, sub)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, err := a.svc.CreateRequest(r.Context(), verification.CreateInput{
		IncidentID:  body.IncidentID,
		Type:        body.RequestType,
		Priority:    body.Priority,
		Title:       body.Title,
		Description: body.Description,
		RequestedBy: body.RequestedBy,
	})
	if err != nil {
		obs.ObserveTransition(string(verification.ActionCreate), errResult(err))
		handleServiceError(w, r, err)
		return
	}

	obs.ObserveTransition(string(verification.ActionCreate), "ok")
	a.audit(r.Context(), "verification.request.create", req, body.RequestedBy)
	a.publish(req, verification.ActionCreate, body.RequestedBy)

	w.Header().Set("Location", "/v1/requests/"+req.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"request_id": req.ID})
}

func (a *API) applyAction(w http.ResponseWriter, r *http.Request, id, sub string) {
	var (
		req    verification.VerificationRequest
		err    error
		actor  string
		action verification.Action
	)

	switch sub {
	case "assign":
		var body assignBody
		if derr := decodeJSON(w, r, &body); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		actor, action = body.AssignedBy, verification.ActionAssign
		req, err = a.svc.Assign(r.Context(), id, body.VerifierID, body.AssignedBy)
	case "approve":
		var body decisionBody
		if derr := decodeJSON(w, r, &body); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		actor, action = body.ActorID, verification.ActionApprove
		req, err = a.svc.Approve(r.Context(), id, body.ActorID, body.Notes)
	case "reject":
		var body decisionBody
		if derr := decodeJSON(w, r, &body); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		actor, action = body.ActorID, verification.ActionReject
		req, err = a.svc.Reject(r.Context(), id, body.ActorID, body.Reason)
	case "request-info":
		var body decisionBody
		if derr := decodeJSON(w, r, &body); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		actor, action = body.ActorID, verification.ActionRequestMoreInfo
		req, err = a.svc.RequestMoreInfo(r.Context(), id, body.ActorID, body.Notes)
	case "priority":
		var body priorityBody
		if derr := decodeJSON(w, r, &body); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		actor, action = body.ActorID, verification.ActionReprioritize
		req, err = a.svc.Reprioritize(r.Context(), id, body.Priority, body.ActorID)
	}

	if err != nil {
		obs.ObserveTransition(string(action), errResult(err))
		handleServiceError(w, r, err)
		return
	}

	obs.ObserveTransition(string(action), "ok")
	a.audit(r.Context(), "verification.request."+string(action), req, actor)
	a.publish(req, action, actor)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"request": req,
	})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	req, err := a.svc.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) getTimeline(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := a.svc.TimelineFor(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"entries":    entries,
	})
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := a.svc.List(r.Context(), f, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Requests: emptyIfNil(items),
		Total:    total,
		Limit:    page.Normalize().Limit,
		Offset:   page.Normalize().Offset,
	})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, total, err := a.svc.ListPending(r.Context(), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Requests: emptyIfNil(items),
		Total:    total,
		Limit:    page.Normalize().Limit,
		Offset:   page.Normalize().Offset,
	})
}

func (a *API) handleWorkload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	workloads, err := a.svc.Workload(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verifiers": workloads,
		"as_of":     time.Now().UTC(),
	})
}

func (a *API) audit(ctx context.Context, event string, req verification.VerificationRequest, actor string) {
	_ = audit.LogEvent(ctx, event, map[string]any{
		"request_id":  req.ID,
		"incident_id": req.IncidentID,
		"status":      string(req.Status),
		"priority":    string(req.Priority),
		"actor_id":    actor,
	})
}

func (a *API) publish(req verification.VerificationRequest, action verification.Action, actor string) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.TransitionEvent{
		RequestID:  req.ID,
		IncidentID: req.IncidentID,
		Action:     string(action),
		Status:     string(req.Status),
		Priority:   string(req.Priority),
		ActorID:    actor,
		Timestamp:  time.Now().UTC(),
	})
}

// --- parsing and error helpers ---

func parseFilter(r *http.Request) (verification.Filter, error) {
	var f verification.Filter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := verification.ParseStatus(raw)
		if err != nil {
			return verification.Filter{}, err
		}
		f.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		priority, err := verification.ParsePriority(raw)
		if err != nil {
			return verification.Filter{}, err
		}
		f.Priority = &priority
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		reqType, err := verification.ParseRequestType(raw)
		if err != nil {
			return verification.Filter{}, err
		}
		f.Type = &reqType
	}
	if raw := strings.TrimSpace(q.Get("assigned_to")); raw != "" {
		f.AssignedTo = &raw
	}
	return f, nil
}

func parsePage(r *http.Request) (verification.Page, error) {
	var p verification.Page
	q := r.URL.Query()
	limit, err := parseNonNegativeInt(q.Get("limit"), 50)
	if err != nil {
		return verification.Page{}, errors.New("limit must be a non-negative integer")
	}
	offset, err := parseNonNegativeInt(q.Get("offset"), 0)
	if err != nil {
		return verification.Page{}, errors.New("offset must be a non-negative integer")
	}
	p.Limit = limit
	p.Offset = offset
	return p, nil
}

func parseNonNegativeInt(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, verification.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, verification.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, verification.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, verification.ErrInvalidTransition),
		errors.Is(err, verification.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, verification.ErrNoEligibleReviewer):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, verification.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func errResult(err error) string {
	switch {
	case errors.Is(err, verification.ErrConflict):
		return "conflict"
	case errors.Is(err, verification.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

func emptyIfNil(items []verification.VerificationRequest) []verification.VerificationRequest {
	if items == nil {
		return []verification.VerificationRequest{}
	}
	return items
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
