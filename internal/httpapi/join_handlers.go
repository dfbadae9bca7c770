package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agora.org/internal/governance"
)

type joinRequestBody struct {
	Message string `json:"message"`
}

type choiceBody struct {
	Choice governance.Choice `json:"choice"`
}

func (a *API) requestToJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequestBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	jr, err := a.svc.RequestToJoin(r.Context(), chi.URLParam(r, "groupID"), caller(r), req.Message)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jr)
}

func (a *API) listJoinRequests(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.ListActiveJoinRequests(r.Context(), chi.URLParam(r, "groupID"), caller(r))
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(views)})
}

func (a *API) decideJoinRequest(w http.ResponseWriter, r *http.Request) {
	var req choiceBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	jr, err := a.svc.HandleJoinRequest(r.Context(), chi.URLParam(r, "requestID"), caller(r), req.Choice)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jr)
}

func (a *API) castJoinVote(w http.ResponseWriter, r *http.Request) {
	var req choiceBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	jr, err := a.svc.CastJoinVote(r.Context(), chi.URLParam(r, "requestID"), caller(r), req.Choice)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jr)
}
