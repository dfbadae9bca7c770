package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agora.org/internal/governance"
)

type proposeActionRequest struct {
	Action       governance.ActionType `json:"action"`
	TargetUserID string                `json:"target_user_id"`
	Reason       string                `json:"reason"`
}

type policyProposalRequest struct {
	Action      governance.ActionType     `json:"action"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Payload     *governance.PolicyPayload `json:"payload"`
}

type reconfirmationRequest struct {
	TargetUserID string `json:"target_user_id"`
	Reason       string `json:"reason"`
}

func (a *API) proposeAction(w http.ResponseWriter, r *http.Request) {
	var req proposeActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.svc.ProposeAction(r.Context(), governance.ActionInput{
		GroupID:      chi.URLParam(r, "groupID"),
		ProposerID:   caller(r),
		Action:       req.Action,
		TargetUserID: req.TargetUserID,
		Reason:       req.Reason,
	})
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) createPolicyProposal(w http.ResponseWriter, r *http.Request) {
	var req policyProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.svc.CreatePolicyProposal(r.Context(), governance.PolicyInput{
		GroupID:     chi.URLParam(r, "groupID"),
		ProposerID:  caller(r),
		Action:      req.Action,
		Title:       req.Title,
		Description: req.Description,
		Payload:     req.Payload,
	})
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) triggerReconfirmation(w http.ResponseWriter, r *http.Request) {
	var req reconfirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.svc.TriggerReconfirmation(r.Context(), chi.URLParam(r, "groupID"), caller(r), req.TargetUserID, req.Reason)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) voteOnProposal(w http.ResponseWriter, r *http.Request) {
	var req choiceBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.svc.VoteOnProposal(r.Context(), chi.URLParam(r, "proposalID"), caller(r), req.Choice)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listActiveProposals(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.ListActiveProposals(r.Context(), chi.URLParam(r, "groupID"), caller(r))
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(views)})
}

func (a *API) proposalHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	views, err := a.svc.ProposalHistory(r.Context(), chi.URLParam(r, "groupID"), caller(r), limit)
	if err != nil {
		a.handleGovernanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(views)})
}
