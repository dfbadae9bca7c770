package governance

import "context"

const defaultHistoryLimit = 50

// JoinRequestView is a join request with its current tally and the viewer's
// own ballot, if any.
type JoinRequestView struct {
	JoinRequest
	Tally  Tally  `json:"tally"`
	MyVote Choice `json:"my_vote,omitempty"`
}

// ProposalView is a proposal with its current tally and the viewer's own
// ballot, if any.
type ProposalView struct {
	Proposal
	Tally  Tally  `json:"tally"`
	MyVote Choice `json:"my_vote,omitempty"`
}

// ListActiveJoinRequests returns open requests. Only managers may see them.
func (s *Service) ListActiveJoinRequests(ctx context.Context, groupID, viewerID string) ([]JoinRequestView, error) {
	var out []JoinRequestView
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.Group(ctx, groupID); err != nil {
			return err
		}
		if _, err := requireManager(ctx, tx, groupID, viewerID); err != nil {
			return err
		}
		reqs, err := tx.ListJoinRequests(ctx, groupID, RequestPending, RequestVoting)
		if err != nil {
			return err
		}
		out = make([]JoinRequestView, 0, len(reqs))
		for _, r := range reqs {
			votes, err := tx.JoinVotes(ctx, r.ID)
			if err != nil {
				return err
			}
			v := JoinRequestView{JoinRequest: r, Tally: tallyJoin(votes)}
			for _, b := range votes {
				if b.VoterID == viewerID {
					v.MyVote = b.Choice
				}
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// ListActiveProposals returns proposals still under vote, newest first.
func (s *Service) ListActiveProposals(ctx context.Context, groupID, viewerID string) ([]ProposalView, error) {
	return s.proposalViews(ctx, groupID, viewerID, ProposalFilter{
		GroupID:  groupID,
		Statuses: []ProposalStatus{ProposalVoting},
	})
}

// ProposalHistory returns resolved proposals, newest first.
func (s *Service) ProposalHistory(ctx context.Context, groupID, viewerID string, limit int) ([]ProposalView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.proposalViews(ctx, groupID, viewerID, ProposalFilter{
		GroupID:  groupID,
		Statuses: []ProposalStatus{ProposalApproved, ProposalRejected, ProposalExpired},
		Limit:    limit,
	})
}

// GovernanceLog returns the group's log, newest first.
func (s *Service) GovernanceLog(ctx context.Context, groupID, viewerID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var out []LogEntry
	err := s.store.View(ctx, func(tx Tx) error {
		if err := checkTransparency(ctx, tx, groupID, viewerID); err != nil {
			return err
		}
		var err error
		out, err = tx.Logs(ctx, groupID, limit)
		return err
	})
	return out, err
}

// ListFunds returns the funds approved for the group.
func (s *Service) ListFunds(ctx context.Context, groupID, viewerID string) ([]Fund, error) {
	var out []Fund
	err := s.store.View(ctx, func(tx Tx) error {
		if err := checkTransparency(ctx, tx, groupID, viewerID); err != nil {
			return err
		}
		var err error
		out, err = tx.Funds(ctx, groupID)
		return err
	})
	return out, err
}

func (s *Service) proposalViews(ctx context.Context, groupID, viewerID string, f ProposalFilter) ([]ProposalView, error) {
	var out []ProposalView
	err := s.store.View(ctx, func(tx Tx) error {
		if err := checkTransparency(ctx, tx, groupID, viewerID); err != nil {
			return err
		}
		ps, err := tx.ListProposals(ctx, f)
		if err != nil {
			return err
		}
		out = make([]ProposalView, 0, len(ps))
		for _, p := range ps {
			votes, err := tx.ProposalVotes(ctx, p.ID)
			if err != nil {
				return err
			}
			v := ProposalView{Proposal: p, Tally: tallyProposal(votes)}
			for _, b := range votes {
				if b.VoterID == viewerID {
					v.MyVote = b.Choice
				}
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// checkTransparency gates proposals and the log. Managers always see them;
// members only when the group opens them to members or the public; outsiders
// only for public groups.
func checkTransparency(ctx context.Context, tx Tx, groupID, viewerID string) error {
	g, err := tx.Group(ctx, groupID)
	if err != nil {
		return err
	}
	role, err := tx.Role(ctx, groupID, viewerID)
	if err != nil {
		return err
	}
	switch {
	case role.IsManager():
		return nil
	case g.Transparency == TransparencyPublic:
		return nil
	case g.Transparency == TransparencyMembers && role == RoleMember:
		return nil
	}
	return wrapf(ErrUnauthorized, "governance records of group %s are not visible to %s", groupID, viewerID)
}
