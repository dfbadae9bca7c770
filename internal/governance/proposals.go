package governance

import (
	"context"
	"strconv"
	"strings"
)

const kindProposal = "proposal"

// ActionInput describes a person proposal.
type ActionInput struct {
	GroupID      string
	ProposerID   string
	Action       ActionType
	TargetUserID string
	Reason       string
}

// PolicyInput describes a policy proposal.
type PolicyInput struct {
	GroupID     string
	ProposerID  string
	Action      ActionType
	Title       string
	Description string
	Payload     *PolicyPayload
}

// ProposeAction opens a vote on a role change for one member. The proposal is
// refused up front when its intended outcome would breach the two-manager
// minimum. The proposer's approval is recorded immediately.
func (s *Service) ProposeAction(ctx context.Context, in ActionInput) (Proposal, error) {
	if in.Action == ActionReconfirmManager {
		return s.TriggerReconfirmation(ctx, in.GroupID, in.ProposerID, in.TargetUserID, in.Reason)
	}
	if in.Action.Category() != CategoryPerson {
		return Proposal{}, wrapf(ErrInvalidInput, "%q is not a person action", in.Action)
	}
	if err := requireID("group id", in.GroupID); err != nil {
		return Proposal{}, err
	}
	if err := requireID("proposer id", in.ProposerID); err != nil {
		return Proposal{}, err
	}
	if err := requireID("target user id", in.TargetUserID); err != nil {
		return Proposal{}, err
	}
	if in.TargetUserID == in.ProposerID && in.Action.selfTargetForbidden() {
		return Proposal{}, ErrSelfTargeting
	}

	var out Proposal
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		if _, err := tx.LockGroup(ctx, in.GroupID); err != nil {
			return err
		}
		if _, err := requireManager(ctx, tx, in.GroupID, in.ProposerID); err != nil {
			return err
		}
		target, err := tx.Role(ctx, in.GroupID, in.TargetUserID)
		if err != nil {
			return err
		}
		if err := checkTargetRole(in.Action, target); err != nil {
			return err
		}
		if err := checkNoActivePerson(ctx, tx, in.GroupID, in.TargetUserID, in.Action); err != nil {
			return err
		}
		counts, err := tx.CountByRole(ctx, in.GroupID)
		if err != nil {
			return err
		}
		if err := checkOutcome(in.Action, target, counts); err != nil {
			return err
		}

		managers := ManagerCount(counts)
		eligible := managers
		if target.IsManager() {
			eligible--
		}
		now := s.now()
		out = Proposal{
			ID:                  newID(),
			GroupID:             in.GroupID,
			Category:            CategoryPerson,
			ActionType:          in.Action,
			ProposerID:          in.ProposerID,
			TargetUserID:        in.TargetUserID,
			Reason:              in.Reason,
			Status:              ProposalVoting,
			RequiredVotes:       ceilHalf(managers),
			TotalEligibleVoters: eligible,
			CreatedAt:           now,
			ExpiresAt:           now.Add(personProposalTTL),
		}
		return s.openProposal(ctx, tx, fx, &out, true)
	})
	return out, err
}

// CreatePolicyProposal opens a vote on a change to the group itself.
func (s *Service) CreatePolicyProposal(ctx context.Context, in PolicyInput) (Proposal, error) {
	if in.Action.Category() != CategoryPolicy {
		return Proposal{}, wrapf(ErrInvalidInput, "%q is not a policy action", in.Action)
	}
	if err := requireID("group id", in.GroupID); err != nil {
		return Proposal{}, err
	}
	if err := requireID("proposer id", in.ProposerID); err != nil {
		return Proposal{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Proposal{}, wrapf(ErrInvalidInput, "title is required")
	}
	if err := validatePayload(in.Action, in.Payload); err != nil {
		return Proposal{}, err
	}

	var out Proposal
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		g, err := tx.LockGroup(ctx, in.GroupID)
		if err != nil {
			return err
		}
		role, err := requireManager(ctx, tx, in.GroupID, in.ProposerID)
		if err != nil {
			return err
		}
		if g.FounderOnlyRules && structural(in.Action) && role != RoleFounder {
			return wrapf(ErrUnauthorized, "only the founder may propose %s in this group", in.Action)
		}
		active, err := tx.ListProposals(ctx, ProposalFilter{GroupID: in.GroupID, Statuses: []ProposalStatus{ProposalVoting}})
		if err != nil {
			return err
		}
		for _, p := range active {
			if p.ActionType == in.Action && strings.EqualFold(p.Title, in.Title) {
				return wrapf(ErrDuplicateProposal, "proposal %s", p.ID)
			}
		}
		counts, err := tx.CountByRole(ctx, in.GroupID)
		if err != nil {
			return err
		}
		managers := ManagerCount(counts)
		now := s.now()
		out = Proposal{
			ID:                  newID(),
			GroupID:             in.GroupID,
			Category:            CategoryPolicy,
			ActionType:          in.Action,
			ProposerID:          in.ProposerID,
			TargetUserID:        SystemActor,
			Title:               in.Title,
			Description:         in.Description,
			Payload:             in.Payload,
			Status:              ProposalVoting,
			RequiredVotes:       ceilHalf(managers),
			TotalEligibleVoters: managers,
			CreatedAt:           now,
			ExpiresAt:           now.Add(policyProposalTTL),
		}
		return s.openProposal(ctx, tx, fx, &out, true)
	})
	return out, err
}

// VoteOnProposal records a ballot and resolves the proposal once approval
// reaches quorum or the remaining voters can no longer reach it.
func (s *Service) VoteOnProposal(ctx context.Context, proposalID, voterID string, choice Choice) (Proposal, error) {
	if !choice.Valid() {
		return Proposal{}, wrapf(ErrInvalidInput, "unknown choice %q", choice)
	}
	var out Proposal
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		p, err := tx.Proposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if _, err := tx.LockGroup(ctx, p.GroupID); err != nil {
			return err
		}
		if p, err = tx.Proposal(ctx, proposalID); err != nil {
			return err
		}
		if p.Status != ProposalVoting {
			return wrapf(ErrInvalidState, "proposal %s is %s", p.ID, p.Status)
		}
		if !s.now().Before(p.ExpiresAt) {
			return wrapf(ErrInvalidState, "proposal %s has expired", p.ID)
		}
		if voterID == p.TargetUserID {
			return ErrSelfTargeting
		}
		if _, err := requireManager(ctx, tx, p.GroupID, voterID); err != nil {
			return err
		}
		if err := tx.AddProposalVote(ctx, ProposalVote{ProposalID: p.ID, VoterID: voterID, Choice: choice, CastAt: s.now()}); err != nil {
			return err
		}
		fx.count(func(m Metrics) { m.VoteCast(kindProposal) })
		err = s.resolveProposal(ctx, tx, fx, &p)
		out = p
		return err
	})
	return out, err
}

// openProposal persists p, logs it, optionally records the proposer's approval
// and resolves straight away when that single ballot already meets quorum.
func (s *Service) openProposal(ctx context.Context, tx Tx, fx *effects, p *Proposal, autoApprove bool) error {
	if err := tx.CreateProposal(ctx, p); err != nil {
		return err
	}
	if err := s.appendLog(ctx, tx, fx, LogEntry{
		GroupID:      p.GroupID,
		ActionType:   "proposal_created",
		ActorID:      p.ProposerID,
		TargetUserID: p.TargetUserID,
		Details: map[string]string{
			"proposal_id":    p.ID,
			"action_type":    string(p.ActionType),
			"required_votes": strconv.Itoa(p.RequiredVotes),
		},
	}); err != nil {
		return err
	}
	fx.count(func(m Metrics) { m.ProposalCreated(p.Category, p.ActionType) })

	payload := map[string]string{"proposal_id": p.ID, "action_type": string(p.ActionType)}
	if err := notifyMembers(ctx, tx, fx, p.GroupID, managersOnly, NoteProposalCreated, PriorityPassive, payload,
		p.ProposerID, p.TargetUserID); err != nil {
		return err
	}
	if p.Category == CategoryPerson {
		typ := NoteProposalTargeted
		if p.ActionType == ActionReconfirmManager {
			typ = NoteReconfirmation
		}
		fx.notify(p.TargetUserID, typ, PriorityCritical, p.GroupID, payload)
	}

	if !autoApprove {
		return nil
	}
	if err := tx.AddProposalVote(ctx, ProposalVote{ProposalID: p.ID, VoterID: p.ProposerID, Choice: ChoiceApprove, CastAt: p.CreatedAt}); err != nil {
		return err
	}
	fx.count(func(m Metrics) { m.VoteCast(kindProposal) })
	return s.resolveProposal(ctx, tx, fx, p)
}

// resolveProposal applies the decision rule to the ballots cast on p.
func (s *Service) resolveProposal(ctx context.Context, tx Tx, fx *effects, p *Proposal) error {
	votes, err := tx.ProposalVotes(ctx, p.ID)
	if err != nil {
		return err
	}
	t := tallyProposal(votes)
	switch {
	case t.Approve >= p.RequiredVotes:
		if err := s.execute(ctx, tx, fx, p); err != nil {
			return err
		}
		return s.settle(ctx, tx, fx, p, ProposalApproved, SystemActor, t)
	case t.Reject > p.TotalEligibleVoters-p.RequiredVotes:
		return s.settle(ctx, tx, fx, p, ProposalRejected, SystemActor, t)
	}
	return nil
}

// settle moves p to a terminal status, logs the resolution and tells the
// people involved.
func (s *Service) settle(ctx context.Context, tx Tx, fx *effects, p *Proposal, status ProposalStatus, actorID string, t Tally) error {
	if err := p.transition(status); err != nil {
		return err
	}
	now := s.now()
	p.ResolvedAt = &now
	if err := tx.UpdateProposal(ctx, *p); err != nil {
		return err
	}
	details := map[string]string{
		"proposal_id": p.ID,
		"action_type": string(p.ActionType),
		"status":      string(status),
		"approve":     strconv.Itoa(t.Approve),
		"reject":      strconv.Itoa(t.Reject),
	}
	if err := s.appendLog(ctx, tx, fx, LogEntry{
		GroupID:      p.GroupID,
		ActionType:   "proposal_" + string(status),
		ActorID:      actorID,
		TargetUserID: p.TargetUserID,
		Details:      details,
	}); err != nil {
		return err
	}
	fx.count(func(m Metrics) { m.Resolved(kindProposal, string(status)) })

	fx.notify(p.ProposerID, NoteProposalResolved, PriorityPassive, p.GroupID, details)
	if p.Category == CategoryPerson && p.TargetUserID != p.ProposerID {
		typ, prio := NoteProposalResolved, PriorityPassive
		if p.ActionType == ActionReconfirmManager {
			typ, prio = NoteReconfirmationOutcome, PriorityCritical
		}
		fx.notify(p.TargetUserID, typ, prio, p.GroupID, details)
	}
	return nil
}

// checkOutcome refuses proposals whose approval would breach the manager
// minimum or admit a member the group cannot absorb.
func checkOutcome(action ActionType, target Role, counts RoleCounts) error {
	if reducesManagers(action, target) && WouldViolateMinManagers(counts, ManagerCount(counts)-1) {
		return wrapf(ErrGovernanceViolation, "%s would leave fewer than %d managers", action, minManagers)
	}
	if action == ActionRevertRemoval && admissionBlocked(counts) {
		return ErrPromotionRequired
	}
	return nil
}

func checkNoActivePerson(ctx context.Context, tx Tx, groupID, targetID string, action ActionType) error {
	active, err := tx.ListProposals(ctx, ProposalFilter{GroupID: groupID, Statuses: []ProposalStatus{ProposalVoting}})
	if err != nil {
		return err
	}
	for _, p := range active {
		if p.TargetUserID == targetID && p.ActionType == action {
			return wrapf(ErrDuplicateProposal, "proposal %s", p.ID)
		}
	}
	return nil
}

// structural reports whether the action is reserved to the founder when the
// group enables founder-only rules.
func structural(a ActionType) bool {
	return a == ActionChangeVisibility || a == ActionAmendDescription
}

func validatePayload(action ActionType, p *PolicyPayload) error {
	switch action {
	case ActionChangeVisibility:
		if p == nil || !p.Visibility.Valid() {
			return wrapf(ErrInvalidInput, "change_visibility needs a visibility of public or private")
		}
	case ActionAmendDescription:
		if p == nil {
			return wrapf(ErrInvalidInput, "amend_description needs a description")
		}
	case ActionApproveFund:
		if p == nil || strings.TrimSpace(p.FundName) == "" {
			return wrapf(ErrInvalidInput, "approve_fund needs a fund name")
		}
		if p.TargetAmount <= 0 {
			return wrapf(ErrInvalidInput, "approve_fund needs a positive target amount")
		}
		if len(p.Currency) != 3 {
			return wrapf(ErrInvalidInput, "approve_fund needs a three-letter currency code")
		}
	}
	return nil
}

func tallyProposal(votes []ProposalVote) Tally {
	var t Tally
	for _, v := range votes {
		switch v.Choice {
		case ChoiceApprove:
			t.Approve++
		case ChoiceReject:
			t.Reject++
		}
	}
	return t
}
