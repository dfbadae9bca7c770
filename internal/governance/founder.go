package governance

import "context"

// TransferFounder hands the founder role to a sitting manager. The outgoing
// founder becomes a manager, so the manager count is unchanged.
func (s *Service) TransferFounder(ctx context.Context, groupID, founderID, targetID string) (Group, error) {
	if err := requireID("group id", groupID); err != nil {
		return Group{}, err
	}
	if err := requireID("target user id", targetID); err != nil {
		return Group{}, err
	}
	if founderID == targetID {
		return Group{}, wrapf(ErrInvalidInput, "target already holds the founder role")
	}

	var out Group
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		role, err := tx.Role(ctx, groupID, founderID)
		if err != nil {
			return err
		}
		if role != RoleFounder {
			return wrapf(ErrUnauthorized, "only the founder may transfer the founder role")
		}
		target, err := tx.Role(ctx, groupID, targetID)
		if err != nil {
			return err
		}
		switch target {
		case RoleManager:
		case RoleNone:
			return wrapf(ErrNotFound, "%s is not a member of this group", targetID)
		default:
			return wrapf(ErrInvalidState, "founder role can only pass to a manager")
		}

		if err := tx.SetRole(ctx, groupID, founderID, RoleManager); err != nil {
			return err
		}
		if err := tx.SetRole(ctx, groupID, targetID, RoleFounder); err != nil {
			return err
		}
		g.CreatorID = targetID
		g.UpdatedAt = s.now()
		if err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}
		out = g

		payload := map[string]string{"from": founderID, "to": targetID}
		if err := s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:      groupID,
			ActionType:   "founder_transferred",
			ActorID:      founderID,
			TargetUserID: targetID,
			Details:      payload,
		}); err != nil {
			return err
		}
		fx.notify(targetID, NoteFounderTransferred, PriorityCritical, groupID, payload)
		return notifyMembers(ctx, tx, fx, groupID, nil, NoteFounderTransferred, PriorityPassive, payload, targetID)
	})
	return out, err
}
