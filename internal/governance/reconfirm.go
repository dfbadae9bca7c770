package governance

import "context"

// TriggerReconfirmation asks the other managers whether targetID should lose
// their seat. Approval demotes the target; rejection or expiry keeps them. The
// target is excluded from the voting pool, so quorum is computed over the
// remaining managers and no ballot is cast on the initiator's behalf.
func (s *Service) TriggerReconfirmation(ctx context.Context, groupID, initiatorID, targetID, reason string) (Proposal, error) {
	if err := requireID("group id", groupID); err != nil {
		return Proposal{}, err
	}
	if err := requireID("initiator id", initiatorID); err != nil {
		return Proposal{}, err
	}
	if err := requireID("target user id", targetID); err != nil {
		return Proposal{}, err
	}
	if initiatorID == targetID {
		return Proposal{}, ErrSelfTargeting
	}

	var out Proposal
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		if _, err := tx.LockGroup(ctx, groupID); err != nil {
			return err
		}
		if _, err := requireManager(ctx, tx, groupID, initiatorID); err != nil {
			return err
		}
		target, err := tx.Role(ctx, groupID, targetID)
		if err != nil {
			return err
		}
		if err := checkTargetRole(ActionReconfirmManager, target); err != nil {
			return err
		}
		counts, err := tx.CountByRole(ctx, groupID)
		if err != nil {
			return err
		}
		if err := checkOutcome(ActionReconfirmManager, target, counts); err != nil {
			return err
		}
		if err := checkNoActivePerson(ctx, tx, groupID, targetID, ActionReconfirmManager); err != nil {
			return err
		}

		pool := ManagerCount(counts) - 1
		now := s.now()
		out = Proposal{
			ID:                  newID(),
			GroupID:             groupID,
			Category:            CategoryPerson,
			ActionType:          ActionReconfirmManager,
			ProposerID:          initiatorID,
			TargetUserID:        targetID,
			Reason:              reason,
			Status:              ProposalVoting,
			RequiredVotes:       ceilHalf(pool),
			TotalEligibleVoters: pool,
			CreatedAt:           now,
			ExpiresAt:           now.Add(personProposalTTL),
		}
		return s.openProposal(ctx, tx, fx, &out, false)
	})
	return out, err
}
