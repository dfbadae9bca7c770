package governance

import (
	"context"
	"strings"
)

// GroupInput describes a new group.
type GroupInput struct {
	Name             string
	Description      string
	FounderID        string
	Visibility       Visibility
	Transparency     Transparency
	FounderOnlyRules bool
}

// CreateGroup creates a group with its founder as the only member.
func (s *Service) CreateGroup(ctx context.Context, in GroupInput) (Group, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Group{}, wrapf(ErrInvalidInput, "name is required")
	}
	if err := requireID("founder id", in.FounderID); err != nil {
		return Group{}, err
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return Group{}, wrapf(ErrInvalidInput, "unknown visibility %q", in.Visibility)
	}
	if in.Transparency == "" {
		in.Transparency = TransparencyMembers
	}
	if !in.Transparency.Valid() {
		return Group{}, wrapf(ErrInvalidInput, "unknown transparency %q", in.Transparency)
	}

	now := s.now()
	g := Group{
		ID:               newID(),
		Name:             in.Name,
		Description:      in.Description,
		CreatorID:        in.FounderID,
		Visibility:       in.Visibility,
		Transparency:     in.Transparency,
		FounderOnlyRules: in.FounderOnlyRules,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		if err := tx.CreateGroup(ctx, &g); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, Membership{GroupID: g.ID, UserID: in.FounderID, Role: RoleFounder, JoinedAt: now}); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:    g.ID,
			ActionType: "group_created",
			ActorID:    in.FounderID,
			Details:    map[string]string{"name": g.Name},
		})
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// DeleteGroup removes a group and everything it owns. Only the founder may do so.
// The deletion is mirrored to the audit sink since the group's own log goes
// with it.
func (s *Service) DeleteGroup(ctx context.Context, groupID, actorID string) error {
	return s.mutate(ctx, func(tx Tx, fx *effects) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		role, err := tx.Role(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if role != RoleFounder {
			return wrapf(ErrUnauthorized, "only the founder may delete the group")
		}
		payload := map[string]string{"name": g.Name}
		if err := notifyMembers(ctx, tx, fx, groupID, nil, NoteGroupDeleted, PriorityPassive, payload, actorID); err != nil {
			return err
		}
		if err := tx.DeleteGroup(ctx, groupID); err != nil {
			return err
		}
		fx.logs = append(fx.logs, LogEntry{
			ID:         newID(),
			GroupID:    groupID,
			ActionType: "group_deleted",
			ActorID:    actorID,
			Details:    payload,
			CreatedAt:  s.now(),
		})
		return nil
	})
}

// LeaveGroup removes the caller's own membership. The founder must transfer the
// role first, and a manager may not leave if that breaks the manager minimum.
func (s *Service) LeaveGroup(ctx context.Context, groupID, userID string) error {
	return s.mutate(ctx, func(tx Tx, fx *effects) error {
		if _, err := tx.LockGroup(ctx, groupID); err != nil {
			return err
		}
		role, err := tx.Role(ctx, groupID, userID)
		if err != nil {
			return err
		}
		switch role {
		case RoleNone:
			return wrapf(ErrNotFound, "%s is not a member of this group", userID)
		case RoleFounder:
			return wrapf(ErrFounderImmune, "transfer the founder role before leaving")
		case RoleManager:
			counts, err := tx.CountByRole(ctx, groupID)
			if err != nil {
				return err
			}
			if WouldViolateMinManagers(counts, ManagerCount(counts)-1) {
				return wrapf(ErrGovernanceViolation, "leaving would leave fewer than %d managers", minManagers)
			}
		}
		if err := tx.RemoveMember(ctx, groupID, userID); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:      groupID,
			ActionType:   "leave",
			ActorID:      userID,
			TargetUserID: userID,
			Details:      map[string]string{"role": string(role)},
		})
	})
}

// GetGroup returns a group. Private groups are invisible to non-members.
func (s *Service) GetGroup(ctx context.Context, groupID, viewerID string) (Group, error) {
	var g Group
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		if g, err = tx.Group(ctx, groupID); err != nil {
			return err
		}
		return checkDiscoverable(ctx, tx, g, viewerID)
	})
	return g, err
}

// ListMembers returns the group's memberships, oldest first.
func (s *Service) ListMembers(ctx context.Context, groupID, viewerID string) ([]Membership, error) {
	var out []Membership
	err := s.store.View(ctx, func(tx Tx) error {
		g, err := tx.Group(ctx, groupID)
		if err != nil {
			return err
		}
		if err := checkDiscoverable(ctx, tx, g, viewerID); err != nil {
			return err
		}
		out, err = tx.Members(ctx, groupID)
		return err
	})
	return out, err
}

func checkDiscoverable(ctx context.Context, tx Tx, g Group, viewerID string) error {
	if g.Visibility == VisibilityPublic {
		return nil
	}
	role, err := tx.Role(ctx, g.ID, viewerID)
	if err != nil {
		return err
	}
	if role == RoleNone {
		return wrapf(ErrNotFound, "group %s", g.ID)
	}
	return nil
}
