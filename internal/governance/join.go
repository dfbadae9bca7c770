package governance

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const kindJoin = "join_request"

// RequestToJoin files a pending join request and alerts the group's managers.
func (s *Service) RequestToJoin(ctx context.Context, groupID, userID, message string) (JoinRequest, error) {
	if err := requireID("group id", groupID); err != nil {
		return JoinRequest{}, err
	}
	if err := requireID("user id", userID); err != nil {
		return JoinRequest{}, err
	}
	if userID == SystemActor {
		return JoinRequest{}, wrapf(ErrInvalidInput, "reserved user id")
	}

	var out JoinRequest
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		if _, err := tx.LockGroup(ctx, groupID); err != nil {
			return err
		}
		role, err := tx.Role(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if role != RoleNone {
			return wrapf(ErrInvalidState, "%s is already a member", userID)
		}

		now := s.now()
		prev, err := tx.LatestJoinRequest(ctx, groupID, userID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case prev.Status.Open():
			return wrapf(ErrInvalidState, "join request %s is still %s", prev.ID, prev.Status)
		case prev.Status == RequestRejected && s.rejoinCooldown > 0 && prev.ResolvedAt != nil:
			if until := prev.ResolvedAt.Add(s.rejoinCooldown); now.Before(until) {
				return wrapf(ErrInvalidState, "may request again after %s", until.Format(time.RFC3339))
			}
		}

		out = JoinRequest{
			ID:        newID(),
			GroupID:   groupID,
			UserID:    userID,
			Message:   message,
			Status:    RequestPending,
			CreatedAt: now,
		}
		if err := tx.CreateJoinRequest(ctx, &out); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:      groupID,
			ActionType:   "join_requested",
			ActorID:      userID,
			TargetUserID: userID,
			Details:      map[string]string{"request_id": out.ID},
		}); err != nil {
			return err
		}
		return notifyMembers(ctx, tx, fx, groupID, managersOnly, NoteJoinRequested, PriorityCritical,
			map[string]string{"request_id": out.ID, "user_id": userID})
	})
	return out, err
}

// HandleJoinRequest applies a manager's decision on a pending request. Small
// groups take the decision directly; larger groups open a vote seeded with the
// manager's ballot.
func (s *Service) HandleJoinRequest(ctx context.Context, requestID, managerID string, choice Choice) (JoinRequest, error) {
	if !choice.Valid() {
		return JoinRequest{}, wrapf(ErrInvalidInput, "unknown choice %q", choice)
	}
	var out JoinRequest
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		req, err := lockJoinRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if _, err := requireManager(ctx, tx, req.GroupID, managerID); err != nil {
			return err
		}
		if req.Status != RequestPending {
			return wrapf(ErrInvalidState, "join request %s is %s", req.ID, req.Status)
		}
		counts, err := tx.CountByRole(ctx, req.GroupID)
		if err != nil {
			return err
		}

		if IsBootstrap(counts) {
			if choice == ChoiceApprove {
				err = s.admit(ctx, tx, fx, &req, managerID, "join_request_approved")
			} else {
				err = s.refuse(ctx, tx, fx, &req, managerID, "join_request_rejected")
			}
			out = req
			return err
		}

		managers := ManagerCount(counts)
		if managers < minManagers {
			return ErrPromotionRequired
		}
		if err := req.transition(RequestVoting); err != nil {
			return err
		}
		req.RequiredVotes = ceilHalf(managers)
		if err := tx.UpdateJoinRequest(ctx, req); err != nil {
			return err
		}
		if err := tx.AddJoinVote(ctx, JoinVote{RequestID: req.ID, VoterID: managerID, Choice: choice, CastAt: s.now()}); err != nil {
			return err
		}
		fx.count(func(m Metrics) { m.VoteCast(kindJoin) })
		if err := s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:      req.GroupID,
			ActionType:   "join_vote_started",
			ActorID:      managerID,
			TargetUserID: req.UserID,
			Details: map[string]string{
				"request_id":     req.ID,
				"required_votes": strconv.Itoa(req.RequiredVotes),
			},
		}); err != nil {
			return err
		}
		err = s.resolveJoin(ctx, tx, fx, &req, managers)
		out = req
		return err
	})
	return out, err
}

// CastJoinVote records a manager's ballot on a request under vote and resolves
// the request once the outcome is decided. Ties favour admission.
func (s *Service) CastJoinVote(ctx context.Context, requestID, voterID string, choice Choice) (JoinRequest, error) {
	if !choice.Valid() {
		return JoinRequest{}, wrapf(ErrInvalidInput, "unknown choice %q", choice)
	}
	var out JoinRequest
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		req, err := lockJoinRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if _, err := requireManager(ctx, tx, req.GroupID, voterID); err != nil {
			return err
		}
		if req.Status != RequestVoting {
			return wrapf(ErrInvalidState, "join request %s is %s", req.ID, req.Status)
		}
		if err := tx.AddJoinVote(ctx, JoinVote{RequestID: req.ID, VoterID: voterID, Choice: choice, CastAt: s.now()}); err != nil {
			return err
		}
		fx.count(func(m Metrics) { m.VoteCast(kindJoin) })
		counts, err := tx.CountByRole(ctx, req.GroupID)
		if err != nil {
			return err
		}
		err = s.resolveJoin(ctx, tx, fx, &req, ManagerCount(counts))
		out = req
		return err
	})
	return out, err
}

// resolveJoin settles a voting request if the ballots cast so far decide it.
func (s *Service) resolveJoin(ctx context.Context, tx Tx, fx *effects, req *JoinRequest, managers int) error {
	votes, err := tx.JoinVotes(ctx, req.ID)
	if err != nil {
		return err
	}
	t := tallyJoin(votes)
	switch {
	case t.Approve*2 >= managers:
		return s.admit(ctx, tx, fx, req, SystemActor, "vote_resolution_approved")
	case t.Reject*2 > managers:
		return s.refuse(ctx, tx, fx, req, SystemActor, "vote_resolution_rejected")
	}
	return nil
}

// admit approves req and inserts the membership.
func (s *Service) admit(ctx context.Context, tx Tx, fx *effects, req *JoinRequest, actorID, resolution string) error {
	counts, err := tx.CountByRole(ctx, req.GroupID)
	if err != nil {
		return err
	}
	if admissionBlocked(counts) {
		return ErrPromotionRequired
	}
	if err := req.transition(RequestApproved); err != nil {
		return err
	}
	now := s.now()
	req.ResolvedAt = &now
	if err := tx.UpdateJoinRequest(ctx, *req); err != nil {
		return err
	}
	// Existing members are collected before the newcomer is inserted.
	if err := notifyMembers(ctx, tx, fx, req.GroupID, nil, NoteMemberJoined, PriorityPassive,
		map[string]string{"user_id": req.UserID}); err != nil {
		return err
	}
	if err := tx.AddMember(ctx, Membership{GroupID: req.GroupID, UserID: req.UserID, Role: RoleMember, JoinedAt: now}); err != nil {
		return err
	}
	details := map[string]string{"request_id": req.ID}
	for _, action := range []string{"join", resolution} {
		if err := s.appendLog(ctx, tx, fx, LogEntry{
			GroupID:      req.GroupID,
			ActionType:   action,
			ActorID:      actorID,
			TargetUserID: req.UserID,
			Details:      details,
		}); err != nil {
			return err
		}
	}
	fx.notify(req.UserID, NoteJoinApproved, PriorityCritical, req.GroupID, details)
	fx.count(func(m Metrics) { m.Resolved(kindJoin, string(RequestApproved)) })
	return nil
}

// refuse rejects req.
func (s *Service) refuse(ctx context.Context, tx Tx, fx *effects, req *JoinRequest, actorID, resolution string) error {
	if err := req.transition(RequestRejected); err != nil {
		return err
	}
	now := s.now()
	req.ResolvedAt = &now
	if err := tx.UpdateJoinRequest(ctx, *req); err != nil {
		return err
	}
	details := map[string]string{"request_id": req.ID}
	if err := s.appendLog(ctx, tx, fx, LogEntry{
		GroupID:      req.GroupID,
		ActionType:   resolution,
		ActorID:      actorID,
		TargetUserID: req.UserID,
		Details:      details,
	}); err != nil {
		return err
	}
	fx.notify(req.UserID, NoteJoinRejected, PriorityCritical, req.GroupID, details)
	fx.count(func(m Metrics) { m.Resolved(kindJoin, string(RequestRejected)) })
	return nil
}

// lockJoinRequest locks the owning group and returns the request as seen under
// that lock.
func lockJoinRequest(ctx context.Context, tx Tx, requestID string) (JoinRequest, error) {
	req, err := tx.JoinRequest(ctx, requestID)
	if err != nil {
		return JoinRequest{}, err
	}
	if _, err := tx.LockGroup(ctx, req.GroupID); err != nil {
		return JoinRequest{}, err
	}
	return tx.JoinRequest(ctx, requestID)
}

func tallyJoin(votes []JoinVote) Tally {
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
