package governance

import (
	"context"
	"errors"
	"time"
)

// ExpireProposals resolves every voting proposal whose deadline has passed by
// now. Reconfirmations resolve as rejected, keeping the manager; everything else
// resolves as expired. Each proposal settles in its own transaction and one
// already settled is skipped, so repeated runs are harmless. It returns the
// number of proposals it resolved.
func (s *Service) ExpireProposals(ctx context.Context, now time.Time) (int, error) {
	var due []Proposal
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		due, err = tx.ListProposals(ctx, ProposalFilter{
			Statuses:  []ProposalStatus{ProposalVoting},
			ExpiredBy: now,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	var (
		resolved int
		errs     []error
	)
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		done, err := s.expireOne(ctx, p.ID, now)
		if errors.Is(err, ErrNotFound) {
			// Group deleted since the listing.
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			resolved++
		}
	}
	if resolved > 0 {
		s.metrics.SweepResolved(resolved)
	}
	return resolved, errors.Join(errs...)
}

func (s *Service) expireOne(ctx context.Context, proposalID string, now time.Time) (bool, error) {
	var done bool
	err := s.mutate(ctx, func(tx Tx, fx *effects) error {
		done = false
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
		if p.Status != ProposalVoting || now.Before(p.ExpiresAt) {
			return nil
		}
		status := ProposalExpired
		if p.ActionType == ActionReconfirmManager {
			status = ProposalRejected
		}
		votes, err := tx.ProposalVotes(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := s.settle(ctx, tx, fx, &p, status, SystemActor, tallyProposal(votes)); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}
