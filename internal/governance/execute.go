package governance

import (
	"context"
	"strconv"
)

// execute applies an approved proposal's effect. Person actions are checked
// again against the membership as it stands now, since earlier commits may have
// changed it after the proposal opened; a failed check fails the triggering
// vote and leaves everything untouched.
func (s *Service) execute(ctx context.Context, tx Tx, fx *effects, p *Proposal) error {
	if p.Category == CategoryPolicy {
		return s.executePolicy(ctx, tx, fx, p)
	}

	target, err := tx.Role(ctx, p.GroupID, p.TargetUserID)
	if err != nil {
		return err
	}
	if err := checkTargetRole(p.ActionType, target); err != nil {
		return err
	}
	counts, err := tx.CountByRole(ctx, p.GroupID)
	if err != nil {
		return err
	}
	if err := checkOutcome(p.ActionType, target, counts); err != nil {
		return err
	}

	var logAction string
	switch p.ActionType {
	case ActionDemote, ActionRevertPromotion:
		logAction = "demote"
		err = tx.SetRole(ctx, p.GroupID, p.TargetUserID, RoleMember)
	case ActionReconfirmManager:
		// Approval answers "should this manager be removed".
		logAction = "reconfirmation_removed"
		err = tx.SetRole(ctx, p.GroupID, p.TargetUserID, RoleMember)
	case ActionPromote, ActionRevertDemotion:
		logAction = "promote"
		err = tx.SetRole(ctx, p.GroupID, p.TargetUserID, RoleManager)
	case ActionKick:
		logAction = "kick"
		err = tx.RemoveMember(ctx, p.GroupID, p.TargetUserID)
		fx.notify(p.TargetUserID, NoteRemoved, PriorityCritical, p.GroupID, map[string]string{"proposal_id": p.ID})
	case ActionRevertRemoval:
		logAction = "revert_removal"
		err = tx.AddMember(ctx, Membership{GroupID: p.GroupID, UserID: p.TargetUserID, Role: RoleMember, JoinedAt: s.now()})
	default:
		return wrapf(ErrInvalidInput, "unknown person action %q", p.ActionType)
	}
	if err != nil {
		return err
	}
	return s.appendLog(ctx, tx, fx, LogEntry{
		GroupID:      p.GroupID,
		ActionType:   logAction,
		ActorID:      SystemActor,
		TargetUserID: p.TargetUserID,
		Details: map[string]string{
			"proposal_id": p.ID,
			"action_type": string(p.ActionType),
			"from_role":   string(target),
		},
	})
}

func (s *Service) executePolicy(ctx context.Context, tx Tx, fx *effects, p *Proposal) error {
	details := map[string]string{"proposal_id": p.ID}
	switch p.ActionType {
	case ActionChangeVisibility, ActionAmendDescription:
		g, err := tx.Group(ctx, p.GroupID)
		if err != nil {
			return err
		}
		if p.ActionType == ActionChangeVisibility {
			details["from"], details["to"] = string(g.Visibility), string(p.Payload.Visibility)
			g.Visibility = p.Payload.Visibility
		} else {
			g.Description = p.Payload.Description
		}
		g.UpdatedAt = s.now()
		if err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}
	case ActionApproveFund:
		f := Fund{
			ID:           newID(),
			GroupID:      p.GroupID,
			ProposalID:   p.ID,
			Name:         p.Payload.FundName,
			TargetAmount: p.Payload.TargetAmount,
			Currency:     p.Payload.Currency,
			CreatedAt:    s.now(),
		}
		if err := tx.CreateFund(ctx, &f); err != nil {
			return err
		}
		details["fund_id"] = f.ID
		details["target_amount"] = strconv.FormatInt(f.TargetAmount, 10)
		details["currency"] = f.Currency
	case ActionCustom:
	default:
		return wrapf(ErrInvalidInput, "unknown policy action %q", p.ActionType)
	}
	return s.appendLog(ctx, tx, fx, LogEntry{
		GroupID:    p.GroupID,
		ActionType: string(p.ActionType),
		ActorID:    SystemActor,
		Details:    details,
	})
}
