package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agora.org/internal/governance"
)

type createGroupRequest struct {
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	Visibility       governance.Visibility   `json:"visibility"`
	Transparency     governance.Transparency `json:"transparency"`
	FounderOnlyRules bool                    `json:"founder_only_rules"`
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g, err := a.svc.CreateGroup(r.Context(), governance.GroupInput{
		Name:             req.Name,
		Description:      req.Description,
		FounderID:        caller(r),
		Visibility:       req.Visibility,
		Transparency:     req.Transparency,
		FounderOnlyRules: req.FounderOnlyRules,
	})
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.GetGroup(r.Context(), chi.URLParam(r, "groupID"), caller(r))
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteGroup(r.Context(), chi.URLParam(r, "groupID"), caller(r)); err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.svc.ListMembers(r.Context(), chi.URLParam(r, "groupID"), caller(r))
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(members)})
}

func (a *API) leaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.LeaveGroup(r.Context(), chi.URLParam(r, "groupID"), caller(r)); err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferFounderRequest struct {
	TargetUserID string `json:"target_user_id"`
}

func (a *API) transferFounder(w http.ResponseWriter, r *http.Request) {
	var req transferFounderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g, err := a.svc.TransferFounder(r.Context(), chi.URLParam(r, "groupID"), caller(r), req.TargetUserID)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) groupHealth(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if _, err := a.svc.GetGroup(r.Context(), groupID, caller(r)); err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	report, err := a.svc.ComputeHealth(r.Context(), groupID)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) governanceLog(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.svc.GovernanceLog(r.Context(), chi.URLParam(r, "groupID"), caller(r), limit)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(entries)})
}

func (a *API) listFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := a.svc.ListFunds(r.Context(), chi.URLParam(r, "groupID"), caller(r))
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(funds)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
